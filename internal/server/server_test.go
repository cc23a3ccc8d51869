package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/nfsync/internal/ingestion"
	invoicedomain "github.com/smallbiznis/nfsync/internal/invoice/domain"
	obscontext "github.com/smallbiznis/nfsync/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	summary ingestion.RunSummary
	err     error
	trigger string
}

func (f *fakeRunner) RunOnce(ctx context.Context) (ingestion.RunSummary, error) {
	f.trigger = obscontext.TriggerFromContext(ctx)
	return f.summary, f.err
}

type fakeInvoiceService struct {
	records map[invoicedomain.Key]invoicedomain.Record
}

func (f *fakeInvoiceService) Persist(context.Context, *invoicedomain.Record) (snowflake.ID, error) {
	return 0, nil
}

func (f *fakeInvoiceService) GetByKey(_ context.Context, number, series string) (invoicedomain.Record, error) {
	record, ok := f.records[invoicedomain.Key{InvoiceNumber: number, Series: series}]
	if !ok {
		return invoicedomain.Record{}, invoicedomain.ErrNotFound
	}
	return record, nil
}

func newTestServer(runner Runner, invoices invoicedomain.Service) *Server {
	return NewServer(ServerParams{
		Gin:        NewEngine(zap.NewNop()),
		Log:        zap.NewNop(),
		InvoiceSvc: invoices,
		Runner:     runner,
	})
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeInvoiceService{})
	rec := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTriggerRunReturnsSummary(t *testing.T) {
	runner := &fakeRunner{summary: ingestion.RunSummary{
		RunID:     "01HX",
		Trigger:   ingestion.TriggerHTTP,
		Listed:    2,
		Processed: 1,
		Failed:    1,
		Duration:  1500 * time.Millisecond,
	}}
	s := newTestServer(runner, &fakeInvoiceService{})

	rec := serve(s, http.MethodPost, "/v1/ingestion/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ingestion.TriggerHTTP, runner.trigger)

	var body struct {
		Data runResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "01HX", body.Data.RunID)
	assert.Equal(t, 1, body.Data.Processed)
	assert.Equal(t, 1, body.Data.Failed)
	assert.Equal(t, int64(1500), body.Data.DurationMS)
}

func TestTriggerRunMapsSchedulerErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{err: ingestion.ErrRunInProgress, status: http.StatusConflict, kind: "conflict"},
		{err: ingestion.ErrIngestionDisabled, status: http.StatusServiceUnavailable, kind: "service_unavailable"},
		{err: context.DeadlineExceeded, status: http.StatusInternalServerError, kind: "internal_error"},
	}
	for _, tc := range cases {
		s := newTestServer(&fakeRunner{err: tc.err}, &fakeInvoiceService{})
		rec := serve(s, http.MethodPost, "/v1/ingestion/runs")
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.kind, body.Error.Type)
	}
}

func TestGetInvoiceByKey(t *testing.T) {
	invoices := &fakeInvoiceService{records: map[invoicedomain.Key]invoicedomain.Record{
		{InvoiceNumber: "100", Series: "1"}: {
			ID:            snowflake.ID(42),
			InvoiceNumber: "100",
			Series:        "1",
			TotalValue:    decimal.RequireFromString("500.00"),
		},
	}}
	s := newTestServer(&fakeRunner{}, invoices)

	rec := serve(s, http.MethodGet, "/v1/invoices/100/1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "100", body.Data["invoice_number"])
	assert.Equal(t, "1", body.Data["series"])
	assert.Equal(t, "500", body.Data["total_value"])

	rec = serve(s, http.MethodGet, "/v1/invoices/999/1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

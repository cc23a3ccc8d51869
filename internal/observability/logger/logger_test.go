package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/nfsync/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRunID(context.Background(), "01J0RUN")
	ctx = obscontext.WithFile(ctx, "inv001.xml")

	WithContext(ctx, base).Info("file.processed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "01J0RUN", fields["run_id"])
	assert.Equal(t, "inv001.xml", fields["file"])
	assert.NotContains(t, fields, "request_id")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "INSERT", operationFromSQL(`INSERT INTO "nf_nfitem_nfanexo_xmlfs" ...`))
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

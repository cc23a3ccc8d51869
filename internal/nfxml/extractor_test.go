package nfxml

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/nfsync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var processingTime = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestExtractor() *Extractor {
	return NewExtractor(clock.NewFakeClock(processingTime), zap.NewNop())
}

func mustParse(t *testing.T, xml string) *etree.Document {
	t.Helper()
	doc, err := Parse(strings.NewReader(xml))
	require.NoError(t, err)
	return doc
}

func mustParseFile(t *testing.T, path string) *etree.Document {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := Parse(f)
	require.NoError(t, err)
	return doc
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		xml  string
		want DocumentFormat
	}{
		{name: "nota_root", xml: "<NOTA/>", want: NfseFormat},
		{name: "nota_nested", xml: "<a><b><NOTA/></b></a>", want: NfseFormat},
		{name: "legacy", xml: `<x:A xmlns:x="NFe"><x:Reg20Item/></x:A>`, want: LegacyNfeFormat},
		{name: "legacy_default_ns", xml: `<A xmlns="NFe"><Reg20Item/></A>`, want: LegacyNfeFormat},
		{name: "reg20_wrong_ns", xml: `<x:A xmlns:x="other"><x:Reg20Item/></x:A>`, want: Unrecognized},
		{name: "prefixed_nota", xml: `<x:NOTA xmlns:x="urn:a"/>`, want: Unrecognized},
		{name: "nota_wins", xml: `<r xmlns:x="NFe"><x:Reg20Item/><NOTA/></r>`, want: NfseFormat},
		{name: "other", xml: "<root><foo/></root>", want: Unrecognized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Classify(mustParse(t, tc.xml))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractNfse(t *testing.T) {
	out := newTestExtractor().Extract(mustParseFile(t, "testdata/nfse.xml"), "inv001.xml")
	r := out.Record

	assert.Equal(t, NfseFormat, out.Format)
	assert.Equal(t, "100", r.InvoiceNumber)
	assert.Equal(t, "1", r.Series)
	require.NotNil(t, r.IssuerTaxID)
	assert.Equal(t, "12345678000199", *r.IssuerTaxID)
	require.NotNil(t, r.CounterpartyTaxID)
	assert.Equal(t, "98765432100", *r.CounterpartyTaxID)
	assert.True(t, r.IssueDate.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.TotalValue.Equal(dec("500")))
	assert.True(t, r.MerchandiseValue.Equal(dec("500")))
	assert.True(t, r.UnitValue.Equal(dec("500")))
	assert.True(t, r.ItemTotalValue.Equal(dec("500")))
	assert.True(t, r.NetValue.Equal(dec("475")))
	assert.True(t, r.Discounts.Equal(dec("25")))
	assert.True(t, r.ItemDiscount.IsZero())
	require.NotNil(t, r.Observation)
	assert.Equal(t, "Consultoria contabil referente a marco", *r.Observation)
	assert.Equal(t, "Prestadora Exemplo Ltda", out.IssuerName)
	assert.Equal(t, "Tomador Exemplo SA", out.CounterpartyName)
	assert.Empty(t, out.Defaulted)
	assert.Equal(t, "nfse", r.Format)
}

func TestExtractLegacyNfe(t *testing.T) {
	out := newTestExtractor().Extract(mustParseFile(t, "testdata/nfe_legacy.xml"), "legacy.xml")
	r := out.Record

	assert.Equal(t, LegacyNfeFormat, out.Format)
	assert.Equal(t, "4521", r.InvoiceNumber)
	assert.Equal(t, "E", r.Series)
	require.NotNil(t, r.IssuerTaxID)
	assert.Equal(t, "12345678000199", *r.IssuerTaxID)
	require.NotNil(t, r.CounterpartyTaxID)
	assert.Equal(t, "12345678909", *r.CounterpartyTaxID)
	assert.True(t, r.IssueDate.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.TotalValue.Equal(dec("1234.56")))
	assert.True(t, r.NetValue.Equal(dec("1234.56")))
	assert.True(t, r.Discounts.IsZero())
	assert.Nil(t, r.Observation)
	assert.Empty(t, out.Defaulted)
}

func TestExtractAppliesConstantsForEveryFormat(t *testing.T) {
	x := newTestExtractor()
	docs := map[string]*etree.Document{
		"nfse":   mustParseFile(t, "testdata/nfse.xml"),
		"legacy": mustParseFile(t, "testdata/nfe_legacy.xml"),
		"other":  mustParse(t, "<root/>"),
	}

	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			r := x.Extract(doc, name+".xml").Record
			assert.Equal(t, "A", r.ActionFlag)
			assert.Equal(t, "1", r.IssuanceFlag)
			assert.Equal(t, "9", r.FreightType)
			assert.Equal(t, "S", r.ElectronicFlag)
			assert.Equal(t, "XML_PROCESSOR", r.OperatorTag)
			assert.Equal(t, int64(1), r.EstablishmentCode)
			assert.Equal(t, int64(1), r.OperationCode)
			assert.Equal(t, int64(0), r.NFSequence)
			assert.Equal(t, int64(1), r.ItemSequence)
			assert.True(t, r.ItemQuantity.Equal(decimal.NewFromInt(1)))
			assert.True(t, r.GrossWeight.IsZero())
			assert.True(t, r.NetWeight.IsZero())
			assert.True(t, r.IPITax.IsZero())
			assert.True(t, r.Freight.IsZero())
			assert.True(t, r.Insurance.IsZero())
			assert.True(t, r.AccessoryExpense.IsZero())
			assert.True(t, r.LastUpdated.Equal(processingTime))
			assert.Equal(t, name+".xml", r.SourceFilename)
			assert.NotEmpty(t, r.RawXMLExcerpt)
			assert.NotContains(t, r.RawXMLExcerpt, "<?xml")
		})
	}
}

func TestExtractUnrecognizedUsesSentinels(t *testing.T) {
	out := newTestExtractor().Extract(mustParse(t, "<root><foo>1</foo></root>"), "odd.xml")
	r := out.Record

	assert.Equal(t, Unrecognized, out.Format)
	assert.Equal(t, "000000", r.InvoiceNumber)
	assert.Equal(t, "001", r.Series)
	assert.Nil(t, r.IssuerTaxID)
	assert.Nil(t, r.CounterpartyTaxID)
	assert.True(t, r.TotalValue.IsZero())
	assert.True(t, r.NetValue.IsZero())
	assert.True(t, r.IssueDate.Equal(processingTime))
	assert.ElementsMatch(t, []string{FieldInvoiceNumber, FieldSeries, FieldIssueDate, FieldTotalValue}, out.Defaulted)

	var stored []string
	require.NoError(t, json.Unmarshal(r.DefaultedFields, &stored))
	assert.ElementsMatch(t, out.Defaulted, stored)
}

func TestExtractNfseFallbacks(t *testing.T) {
	xml := `<NOTA>
		<NUMERO>7</NUMERO>
		<DT_COMPETENCIA>15-03-2024</DT_COMPETENCIA>
		<VL_SERVICO>abc</VL_SERVICO>
	</NOTA>`

	out := newTestExtractor().Extract(mustParse(t, xml), "partial.xml")
	r := out.Record

	assert.Equal(t, "7", r.InvoiceNumber)
	assert.Equal(t, "001", r.Series)
	assert.True(t, r.IssueDate.Equal(processingTime))
	assert.True(t, r.TotalValue.IsZero())
	assert.True(t, r.NetValue.IsZero())
	assert.Contains(t, out.Defaulted, FieldSeries)
	assert.Contains(t, out.Defaulted, FieldIssueDate)
	assert.Contains(t, out.Defaulted, FieldTotalValue)
	assert.NotContains(t, out.Defaulted, FieldInvoiceNumber)
}

func TestExtractNfseNetValueFallsBackToTotal(t *testing.T) {
	xml := `<NOTA><NUMERO>8</NUMERO><SERIE>2</SERIE><VL_SERVICO>10,50</VL_SERVICO></NOTA>`

	r := newTestExtractor().Extract(mustParse(t, xml), "net.xml").Record
	assert.True(t, r.NetValue.Equal(dec("10.5")))
}

func TestExtractSkipsBlankElements(t *testing.T) {
	xml := `<r xmlns:n="NFe"><NOTA><NUMERO>  </NUMERO><n:NUMERO>55</n:NUMERO></NOTA></r>`

	r := newTestExtractor().Extract(mustParse(t, xml), "blank.xml").Record
	assert.Equal(t, "55", r.InvoiceNumber)
}

func TestExtractTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 300)
	xml := "<NOTA><NUMERO>9</NUMERO><DISCRIMINACAO>" + long + "</DISCRIMINACAO><PAD>" + strings.Repeat("y", 5000) + "</PAD></NOTA>"

	r := newTestExtractor().Extract(mustParse(t, xml), "long.xml").Record

	require.NotNil(t, r.Observation)
	assert.Len(t, *r.Observation, 255)
	assert.Len(t, []rune(r.RawXMLExcerpt), 4000)
	assert.True(t, strings.HasPrefix(r.RawXMLExcerpt, "<NOTA>"))
}

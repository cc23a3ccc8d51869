package nfxml

import (
	"encoding/json"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/nfsync/internal/clock"
	"github.com/smallbiznis/nfsync/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Values every record carries regardless of the source document.
const (
	OperatorTag       = "XML_PROCESSOR"
	ActionFlag        = "A"
	IssuanceFlag      = "1"
	FreightType       = "9"
	ElectronicFlag    = "S"
	EstablishmentCode = 1
	OperationCode     = 1

	SentinelInvoiceNumber = "000000"
	SentinelSeries        = "001"
)

// Field names reported in Extraction.Defaulted.
const (
	FieldInvoiceNumber     = "invoiceNumber"
	FieldSeries            = "series"
	FieldIssuerTaxID       = "issuerTaxId"
	FieldCounterpartyTaxID = "counterpartyTaxId"
	FieldIssueDate         = "issueDate"
	FieldTotalValue        = "totalValue"
	FieldNetValue          = "netValue"
	FieldDiscounts         = "discounts"
	FieldObservation       = "observation"
)

type field int

const (
	invoiceNumber field = iota
	series
	issuerTaxID
	counterpartyTaxID
	issueDate
	totalValue
	netValue
	discounts
	observation
	issuerName
	counterpartyName
)

var fieldNames = map[field]string{
	invoiceNumber:     FieldInvoiceNumber,
	series:            FieldSeries,
	issuerTaxID:       FieldIssuerTaxID,
	counterpartyTaxID: FieldCounterpartyTaxID,
	issueDate:         FieldIssueDate,
	totalValue:        FieldTotalValue,
	netValue:          FieldNetValue,
	discounts:         FieldDiscounts,
	observation:       FieldObservation,
}

type mapping struct {
	tag   string
	field field
}

var mappings = map[DocumentFormat][]mapping{
	NfseFormat: {
		{tag: "NUMERO", field: invoiceNumber},
		{tag: "SERIE", field: series},
		{tag: "CNPJ", field: issuerTaxID},
		{tag: "TOM_CPF_CNPJ", field: counterpartyTaxID},
		{tag: "DT_COMPETENCIA", field: issueDate},
		{tag: "VL_SERVICO", field: totalValue},
		{tag: "VL_LIQUIDO_NFSE", field: netValue},
		{tag: "VL_DESCONTO_INCONDICIONADO", field: discounts},
		{tag: "DISCRIMINACAO", field: observation},
		{tag: "PRE_RAZAO_SOCIAL", field: issuerName},
		{tag: "TOM_RAZAO_SOCIAL", field: counterpartyName},
	},
	LegacyNfeFormat: {
		{tag: "NumNf", field: invoiceNumber},
		{tag: "SerNf", field: series},
		{tag: "CpfCnpjPre", field: issuerTaxID},
		{tag: "CpfCnpjTom", field: counterpartyTaxID},
		{tag: "DtEmiNf", field: issueDate},
		{tag: "VlNFS", field: totalValue},
	},
}

// required fields get sentinels for every format, mapped or not.
var required = []field{invoiceNumber, series, issueDate, totalValue}

// Extraction is an extracted record plus which of its fields fell back to a
// default because the document lacked or garbled them.
type Extraction struct {
	Record           *domain.Record
	Format           DocumentFormat
	Defaulted        []string
	IssuerName       string
	CounterpartyName string
}

type Extractor struct {
	clock clock.Clock
	log   *zap.Logger
}

var Module = fx.Module("nfxml",
	fx.Provide(NewExtractor),
)

func NewExtractor(clk clock.Clock, log *zap.Logger) *Extractor {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{clock: clk, log: log.Named("nfxml")}
}

// Extract maps doc to an invoice record. It never fails: absent or
// unparseable values become zero, the processing time or a sentinel.
func (x *Extractor) Extract(doc *etree.Document, filename string) Extraction {
	now := x.clock.Now()
	format, scope := Classify(doc)

	raw := make(map[field]string)
	for _, m := range mappings[format] {
		if value, ok := lookup(scope, m.tag); ok {
			raw[m.field] = value
		}
	}

	out := Extraction{Format: format}
	defaulted := make(map[field]bool)
	for _, m := range mappings[format] {
		if _, ok := raw[m.field]; !ok {
			defaulted[m.field] = true
		}
	}
	for _, f := range required {
		if _, ok := raw[f]; !ok {
			defaulted[f] = true
		}
	}

	record := &domain.Record{
		InvoiceNumber:     SentinelInvoiceNumber,
		Series:            SentinelSeries,
		IssueDate:         now,
		TotalValue:        decimal.Zero,
		Discounts:         decimal.Zero,
		IssuerTaxID:       taxID(raw, issuerTaxID),
		CounterpartyTaxID: taxID(raw, counterpartyTaxID),
	}
	if v, ok := raw[invoiceNumber]; ok {
		record.InvoiceNumber = v
	}
	if v, ok := raw[series]; ok {
		record.Series = v
	}
	if v, ok := raw[issueDate]; ok {
		parsed, ok := ParseCivilDate(v, now)
		record.IssueDate = parsed
		defaulted[issueDate] = !ok
	}
	if v, ok := raw[totalValue]; ok {
		parsed, ok := parseDecimal(v)
		record.TotalValue = parsed
		defaulted[totalValue] = !ok
	}
	if v, ok := raw[discounts]; ok {
		parsed, ok := parseDecimal(v)
		record.Discounts = parsed
		defaulted[discounts] = !ok
	}
	if v, ok := raw[observation]; ok {
		truncated := Truncate(v, domain.MaxObservationLength)
		record.Observation = &truncated
	}

	record.NetValue = record.TotalValue
	if v, ok := raw[netValue]; ok {
		if parsed, ok := parseDecimal(v); ok {
			record.NetValue = parsed
		} else {
			defaulted[netValue] = true
		}
	}

	x.applyDefaults(record, doc, filename, now)

	out.Record = record
	out.IssuerName = raw[issuerName]
	out.CounterpartyName = raw[counterpartyName]
	for _, f := range []field{invoiceNumber, series, issuerTaxID, counterpartyTaxID, issueDate, totalValue, netValue, discounts, observation} {
		if defaulted[f] {
			out.Defaulted = append(out.Defaulted, fieldNames[f])
		}
	}
	record.Format = format.String()
	if encoded, err := json.Marshal(out.Defaulted); err == nil && len(out.Defaulted) > 0 {
		record.DefaultedFields = encoded
	}

	x.logExtraction(out, filename)
	return out
}

// taxID cleans a tax id that the document carries; an absent one stays nil.
func taxID(raw map[field]string, f field) *string {
	value, ok := raw[f]
	if !ok {
		return nil
	}
	cleaned := CleanTaxID(value)
	return &cleaned
}

// applyDefaults fills the constant columns and the synthetic line item,
// identically for every format.
func (x *Extractor) applyDefaults(record *domain.Record, doc *etree.Document, filename string, now time.Time) {
	record.EstablishmentCode = EstablishmentCode
	record.OperationCode = OperationCode
	record.NFSequence = 0
	record.ActionFlag = ActionFlag
	record.IssuanceFlag = IssuanceFlag
	record.FreightType = FreightType
	record.ElectronicFlag = ElectronicFlag
	record.OperatorTag = OperatorTag
	record.GrossWeight = decimal.Zero
	record.NetWeight = decimal.Zero
	record.IPITax = decimal.Zero
	record.Freight = decimal.Zero
	record.Insurance = decimal.Zero
	record.AccessoryExpense = decimal.Zero
	record.MerchandiseValue = record.TotalValue
	record.LastUpdated = now
	record.SourceFilename = filename
	record.RawXMLExcerpt = Truncate(serialize(doc), domain.MaxRawXMLLength)

	record.ItemSequence = 1
	record.ItemQuantity = decimal.NewFromInt(1)
	record.UnitValue = record.TotalValue
	record.ItemTotalValue = record.TotalValue
	record.ItemDiscount = decimal.Zero
}

func (x *Extractor) logExtraction(out Extraction, filename string) {
	fields := []zap.Field{
		zap.String("file", filename),
		zap.String("format", out.Format.String()),
		zap.String("invoice_number", out.Record.InvoiceNumber),
		zap.String("series", out.Record.Series),
	}
	if len(out.Defaulted) > 0 {
		fields = append(fields, zap.Strings("defaulted", out.Defaulted))
	}

	switch out.Format {
	case NfseFormat:
		x.log.Info("nfse extracted", append(fields,
			zap.String("issuer_name", out.IssuerName),
			zap.String("counterparty_name", out.CounterpartyName),
		)...)
	case LegacyNfeFormat:
		x.log.Info("nfe extracted", fields...)
	default:
		x.log.Warn("unrecognized invoice layout, using defaults", fields...)
	}
}

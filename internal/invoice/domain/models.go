// Package domain contains the persisted invoice record and its contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	MaxObservationLength = 255
	MaxRawXMLLength      = 4000
	MaxOperatorTagLength = 15
)

// Record is one ingested invoice. Column names follow the bookkeeping table
// the records are loaded into.
type Record struct {
	ID                snowflake.ID    `gorm:"column:nr_sequencia;primaryKey;autoIncrement:false" json:"id"`
	EstablishmentCode int64           `gorm:"column:cd_estabelecimento;not null" json:"establishment_code"`
	IssuerTaxID       *string         `gorm:"column:cd_cgc_emitente;type:varchar(14)" json:"issuer_tax_id"`
	Series            string          `gorm:"column:cd_serie_nf;type:varchar(255);not null;uniqueIndex:ux_nf_xmlfs_numero_serie,priority:2" json:"series"`
	NFSequence        int64           `gorm:"column:nr_sequencia_nf;not null;default:0" json:"nf_sequence"`
	OperationCode     int64           `gorm:"column:cd_operacao_nf;not null" json:"operation_code"`
	IssueDate         time.Time       `gorm:"column:dt_emissao;not null" json:"issue_date"`
	EntryExitDate     *time.Time      `gorm:"column:dt_entrada_saida" json:"entry_exit_date"`
	ActionFlag        string          `gorm:"column:ie_acao_nf;type:varchar(1);not null" json:"action_flag"`
	IssuanceFlag      string          `gorm:"column:ie_emissao_nf;type:varchar(1);not null" json:"issuance_flag"`
	FreightType       string          `gorm:"column:ie_tipo_frete;type:varchar(1);not null" json:"freight_type"`
	MerchandiseValue  decimal.Decimal `gorm:"column:vl_mercadoria;type:numeric(15,2);not null" json:"merchandise_value"`
	TotalValue        decimal.Decimal `gorm:"column:vl_total_nota;type:numeric(15,2);not null" json:"total_value"`
	GrossWeight       decimal.Decimal `gorm:"column:qt_peso_bruto;type:numeric(13,4);not null" json:"gross_weight"`
	NetWeight         decimal.Decimal `gorm:"column:qt_peso_liquido;type:numeric(13,4);not null" json:"net_weight"`
	LastUpdated       time.Time       `gorm:"column:dt_atualizacao;not null" json:"last_updated"`
	OperatorTag       string          `gorm:"column:nm_usuario;type:varchar(15);not null" json:"operator_tag"`
	AccountingDate    *time.Time      `gorm:"column:dt_contabil" json:"accounting_date"`
	CounterpartyTaxID *string         `gorm:"column:cd_cgc;type:varchar(14)" json:"counterparty_tax_id"`
	IPITax            decimal.Decimal `gorm:"column:vl_ipi;type:numeric(15,2);not null" json:"ipi_tax"`
	Discounts         decimal.Decimal `gorm:"column:vl_descontos;type:numeric(15,2);not null" json:"discounts"`
	Freight           decimal.Decimal `gorm:"column:vl_frete;type:numeric(15,2);not null" json:"freight"`
	Insurance         decimal.Decimal `gorm:"column:vl_seguro;type:numeric(15,2);not null" json:"insurance"`
	AccessoryExpense  decimal.Decimal `gorm:"column:vl_despesa_acessoria;type:numeric(15,2);not null" json:"accessory_expense"`
	Observation       *string         `gorm:"column:ds_observacao;type:varchar(255)" json:"observation"`
	InvoiceNumber     string          `gorm:"column:nr_nota_fiscal;type:varchar(255);not null;uniqueIndex:ux_nf_xmlfs_numero_serie,priority:1" json:"invoice_number"`
	ElectronicFlag    string          `gorm:"column:ie_nf_eletronica;type:varchar(1);not null" json:"electronic_flag"`
	RawXMLExcerpt     string          `gorm:"column:ds_xml_compl;type:varchar(4000)" json:"raw_xml_excerpt"`
	SourceFilename    string          `gorm:"column:ds_link_xml;type:varchar(255)" json:"source_filename"`

	// The pipeline always writes exactly one synthetic line per invoice.
	ItemSequence   int64           `gorm:"column:nr_item_nf;not null" json:"item_sequence"`
	ItemQuantity   decimal.Decimal `gorm:"column:qt_item_nf;type:numeric(13,4);not null" json:"item_quantity"`
	UnitValue      decimal.Decimal `gorm:"column:vl_unitario_item_nf;type:numeric(15,2);not null" json:"unit_value"`
	ItemTotalValue decimal.Decimal `gorm:"column:vl_total_item_nf;type:numeric(15,2);not null" json:"item_total_value"`
	ItemDiscount   decimal.Decimal `gorm:"column:vl_desconto;type:numeric(15,2);not null" json:"item_discount"`
	NetValue       decimal.Decimal `gorm:"column:vl_liquido;type:numeric(15,2);not null" json:"net_value"`

	Format          string         `gorm:"column:ds_formato;type:varchar(20)" json:"format"`
	DefaultedFields datatypes.JSON `gorm:"column:defaulted_fields" json:"defaulted_fields"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "nf_nfitem_nfanexo_xmlfs" }

// Key identifies a record by its natural dedup key.
type Key struct {
	InvoiceNumber string
	Series        string
}

func (r *Record) Key() Key {
	return Key{InvoiceNumber: r.InvoiceNumber, Series: r.Series}
}

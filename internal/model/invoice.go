package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document type codes defined by the SRI comprobante catalogue
const (
	DocTypeFactura      = "01"
	DocTypeNotaCredito  = "04"
	DocTypeNotaDebito   = "05"
	DocTypeGuiaRemision = "06"
	DocTypeRetencion    = "07"
)

// Environment flags
const (
	EnvironmentTest       = "1"
	EnvironmentProduction = "2"
)

// Emission type flags
const (
	EmissionNormal      = "1"
	EmissionContingency = "2"
)

// Tax codes used inside detalle/impuesto and totalConImpuesto blocks
const (
	TaxCodeVAT = "2"
	TaxCodeICE = "3"
)

// VAT percentage codes (codigoPorcentaje)
const (
	VATCodeZero       = "0"
	VATCode12         = "2"
	VATCode8          = "3"
	VATCode15         = "4"
	VATCodeNotSubject = "6"
	VATCodeExempt     = "7"
)

// InvoiceHeader carries the emission identity of a single document.
// It is immutable once the pipeline starts; the sequential number must be
// allocated through a sequence.Allocator before the header is built.
type InvoiceHeader struct {
	EmissionDate  time.Time `json:"emission_date"`
	DocType       string    `json:"doc_type"`       // 2 digits, e.g. "01"
	IssuerRUC     string    `json:"issuer_ruc"`     // 13 digits
	Environment   string    `json:"environment"`    // 1 digit: 1=test, 2=production
	Establishment string    `json:"establishment"`  // 3 digits
	EmissionPoint string    `json:"emission_point"` // 3 digits
	Sequential    string    `json:"sequential"`     // 9 digits, zero-padded
	EmissionType  string    `json:"emission_type"`  // 1 digit: 1=normal, 2=contingency
	Currency      string    `json:"currency"`       // e.g. "DOLAR"
	NumericSalt   string    `json:"numeric_salt"`   // 8 digits, anti-collision entropy
}

// Issuer identifies the emitting company as it appears in infoTributaria.
type Issuer struct {
	RUC                 string `json:"ruc"`
	LegalName           string `json:"legal_name"`
	TradeName           string `json:"trade_name,omitempty"`
	HeadOfficeAddress   string `json:"head_office_address"`
	EstablishmentAddr   string `json:"establishment_address,omitempty"`
	SpecialTaxpayerCode string `json:"special_taxpayer_code,omitempty"`
	KeepsAccounting     bool   `json:"keeps_accounting"`
}

// Buyer identifies the receiving party as it appears in infoFactura.
type Buyer struct {
	IDType  string `json:"id_type"` // 04=RUC, 05=cedula, 06=pasaporte, 07=consumidor final, 08=exterior
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// TaxDetail is one tax line inside a detalle or the totals block.
type TaxDetail struct {
	Code           string          `json:"code"`            // 2=VAT, 3=ICE
	PercentageCode string          `json:"percentage_code"` // VAT codigoPorcentaje
	Rate           decimal.Decimal `json:"rate"`
	TaxableBase    decimal.Decimal `json:"taxable_base"`
	Amount         decimal.Decimal `json:"amount"`
}

// LineItem is one detalle of the invoice.
type LineItem struct {
	MainCode      string          `json:"main_code"`
	AuxiliaryCode string          `json:"auxiliary_code,omitempty"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Discount      decimal.Decimal `json:"discount"`
	SubtotalNoTax decimal.Decimal `json:"subtotal_no_tax"`
	Taxes         []TaxDetail     `json:"taxes"`
}

// Totals holds the declared invoice totals the builder reconciles against
// the per-line tax details.
type Totals struct {
	SubtotalNoTaxes decimal.Decimal `json:"subtotal_no_taxes"`
	TotalDiscount   decimal.Decimal `json:"total_discount"`
	TaxSummary      []TaxDetail     `json:"tax_summary"`
	Tip             decimal.Decimal `json:"tip"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
}

// AdditionalField is one campoAdicional of the optional infoAdicional block.
type AdditionalField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Invoice is the fully validated input the pipeline receives from the
// business layer. The pipeline trusts business correctness and re-validates
// only structural and schema constraints.
type Invoice struct {
	Header           InvoiceHeader     `json:"header"`
	Issuer           Issuer            `json:"issuer"`
	Buyer            Buyer             `json:"buyer"`
	Lines            []LineItem        `json:"lines"`
	Totals           Totals            `json:"totals"`
	PaymentMethod    string            `json:"payment_method,omitempty"` // formaPago code, default "01"
	AdditionalFields []AdditionalField `json:"additional_fields,omitempty"`
}

// Package document serializes a validated invoice into the fixed-schema
// factura XML (schema v2.0.0). Element order is schema-mandated and optional
// blocks are omitted entirely when absent; an empty optional element is a
// rejection risk at the authority.
package document

import (
	"fmt"
	"sort"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/facturex/sri-pipeline/internal/accesskey"
	dec "github.com/facturex/sri-pipeline/internal/decimal"
	"github.com/facturex/sri-pipeline/internal/model"
)

// SchemaVersion is the factura schema version this builder targets.
const SchemaVersion = "2.0.0"

// Maximum field lengths per the SRI ficha tecnica
const (
	maxLegalName    = 300
	maxTradeName    = 300
	maxAddress      = 300
	maxMainCode     = 25
	maxAuxCode      = 25
	maxDescription  = 300
	maxFieldName    = 300
	maxFieldValue   = 300
	maxBuyerID      = 20
	maxSpecialCode  = 13
	maxPaymentTotal = 50
)

// emission order of totalImpuesto buckets inside totalConImpuestos
var vatBucketOrder = map[string]int{
	model.VATCodeZero:       0,
	model.VATCode8:          1,
	model.VATCode12:         2,
	model.VATCode15:         3,
	model.VATCodeNotSubject: 4,
	model.VATCodeExempt:     5,
}

// Builder produces canonical factura documents.
type Builder struct {
	version string
}

// NewBuilder creates a builder for the current schema version.
func NewBuilder() *Builder {
	return &Builder{version: SchemaVersion}
}

// Build validates the invoice against schema constraints, reconciles totals
// and produces the canonical XML tree. The access key must match the
// builder's own recomputation from the header; the document carries it
// verbatim in infoTributaria/claveAcceso.
func (b *Builder) Build(inv *model.Invoice, key string) (*etree.Document, error) {
	recomputed, err := accesskey.Generate(inv.Header)
	if err != nil {
		return nil, err
	}
	if recomputed != key {
		return nil, model.NewSchemaError("claveAcceso", "ACCESS_KEY_MISMATCH",
			fmt.Sprintf("supplied key %s does not match header recomputation %s", key, recomputed))
	}

	if err := b.validateParties(inv); err != nil {
		return nil, err
	}
	if err := b.validateLines(inv.Lines); err != nil {
		return nil, err
	}
	summary, err := b.reconcileTotals(inv)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("factura")
	root.CreateAttr("id", "comprobante")
	root.CreateAttr("version", b.version)

	root.AddChild(b.buildInfoTributaria(inv, key))
	root.AddChild(b.buildInfoFactura(inv, summary))
	root.AddChild(b.buildDetalles(inv.Lines))
	if len(inv.AdditionalFields) > 0 {
		root.AddChild(b.buildInfoAdicional(inv.AdditionalFields))
	}

	return doc, nil
}

func (b *Builder) validateParties(inv *model.Invoice) error {
	h := inv.Header

	switch h.DocType {
	case model.DocTypeFactura, model.DocTypeNotaCredito, model.DocTypeNotaDebito,
		model.DocTypeGuiaRemision, model.DocTypeRetencion:
	default:
		return model.NewSchemaError("codDoc", "ENUM", fmt.Sprintf("unknown document type %q", h.DocType))
	}
	if h.Environment != model.EnvironmentTest && h.Environment != model.EnvironmentProduction {
		return model.NewSchemaError("ambiente", "ENUM", fmt.Sprintf("unknown environment %q", h.Environment))
	}
	if h.EmissionType != model.EmissionNormal && h.EmissionType != model.EmissionContingency {
		return model.NewSchemaError("tipoEmision", "ENUM", fmt.Sprintf("unknown emission type %q", h.EmissionType))
	}

	// Structural check only: check-digit validity of the issuer RUC is a
	// business rule owned by the registration layer upstream.
	if !model.ValidRUCFormat(inv.Issuer.RUC) {
		return model.NewSchemaError("ruc", "FORMAT", fmt.Sprintf("malformed issuer RUC %q", inv.Issuer.RUC))
	}
	if inv.Issuer.RUC != h.IssuerRUC {
		return model.NewSchemaError("ruc", "HEADER_MISMATCH", "issuer RUC differs from header RUC")
	}
	if err := checkLen("razonSocial", inv.Issuer.LegalName, maxLegalName, true); err != nil {
		return err
	}
	if err := checkLen("nombreComercial", inv.Issuer.TradeName, maxTradeName, false); err != nil {
		return err
	}
	if err := checkLen("dirMatriz", inv.Issuer.HeadOfficeAddress, maxAddress, true); err != nil {
		return err
	}
	if err := checkLen("contribuyenteEspecial", inv.Issuer.SpecialTaxpayerCode, maxSpecialCode, false); err != nil {
		return err
	}

	if !model.ValidBuyerID(inv.Buyer.IDType, inv.Buyer.ID) {
		return model.NewSchemaError("identificacionComprador", "CHECK_DIGIT",
			fmt.Sprintf("identification %q does not match type %q", inv.Buyer.ID, inv.Buyer.IDType))
	}
	if len(inv.Buyer.ID) > maxBuyerID {
		return model.NewSchemaError("identificacionComprador", "MAX_LENGTH", "identification too long")
	}
	if err := checkLen("razonSocialComprador", inv.Buyer.Name, maxLegalName, true); err != nil {
		return err
	}
	return checkLen("direccionComprador", inv.Buyer.Address, maxAddress, false)
}

func (b *Builder) validateLines(lines []model.LineItem) error {
	if len(lines) == 0 {
		return model.NewSchemaError("detalles", "REQUIRED", "invoice must carry at least one line item")
	}

	for i, line := range lines {
		prefix := fmt.Sprintf("detalles[%d]", i)

		if err := checkLen(prefix+".codigoPrincipal", line.MainCode, maxMainCode, true); err != nil {
			return err
		}
		if err := checkLen(prefix+".codigoAuxiliar", line.AuxiliaryCode, maxAuxCode, false); err != nil {
			return err
		}
		if err := checkLen(prefix+".descripcion", line.Description, maxDescription, true); err != nil {
			return err
		}

		if !line.Quantity.IsPositive() {
			return model.NewSchemaError(prefix+".cantidad", "POSITIVE", "quantity must be greater than zero")
		}
		if dec.IsNegative(line.UnitPrice) {
			return model.NewSchemaError(prefix+".precioUnitario", "NON_NEGATIVE", "unit price cannot be negative")
		}
		if dec.IsNegative(line.Discount) {
			return model.NewSchemaError(prefix+".descuento", "NON_NEGATIVE", "discount cannot be negative")
		}
		if !dec.WithinQuantityPrecision(line.Quantity) {
			return model.NewSchemaError(prefix+".cantidad", "PRECISION", "quantity exceeds 6 decimal places")
		}
		if !dec.WithinQuantityPrecision(line.UnitPrice) {
			return model.NewSchemaError(prefix+".precioUnitario", "PRECISION", "unit price exceeds 6 decimal places")
		}

		subtotal := dec.LineSubtotal(line.Quantity, line.UnitPrice, line.Discount)
		if dec.IsNegative(subtotal) {
			return model.NewSchemaError(prefix+".descuento", "RANGE", "discount exceeds line subtotal")
		}
		if !dec.EqualMoney(subtotal, line.SubtotalNoTax) {
			return model.NewTotalsError(prefix+".precioTotalSinImpuesto",
				dec.FormatMoney(line.SubtotalNoTax), dec.FormatMoney(subtotal))
		}

		if len(line.Taxes) == 0 {
			return model.NewSchemaError(prefix+".impuestos", "REQUIRED", "line must declare at least one tax")
		}
		for j, tax := range line.Taxes {
			taxPrefix := fmt.Sprintf("%s.impuestos[%d]", prefix, j)
			if tax.Code != model.TaxCodeVAT && tax.Code != model.TaxCodeICE {
				return model.NewSchemaError(taxPrefix+".codigo", "ENUM", fmt.Sprintf("unknown tax code %q", tax.Code))
			}
			if tax.Code == model.TaxCodeVAT {
				if _, ok := vatBucketOrder[tax.PercentageCode]; !ok {
					return model.NewSchemaError(taxPrefix+".codigoPorcentaje", "ENUM",
						fmt.Sprintf("unknown VAT percentage code %q", tax.PercentageCode))
				}
			}
			want := dec.TaxAmount(tax.TaxableBase, tax.Rate)
			if !dec.EqualMoney(want, tax.Amount) {
				return model.NewTotalsError(taxPrefix+".valor",
					dec.FormatMoney(tax.Amount), dec.FormatMoney(want))
			}
		}
	}
	return nil
}

// taxBucket accumulates one totalImpuesto group keyed by (code, percentage code).
type taxBucket struct {
	code           string
	percentageCode string
	rate           decimal.Decimal
	base           decimal.Decimal
	amount         decimal.Decimal
}

// reconcileTotals recomputes every total from the line items and compares it
// against the declared Totals. The final comparison is exact at 2 decimals;
// any divergence aborts the pipeline.
func (b *Builder) reconcileTotals(inv *model.Invoice) ([]taxBucket, error) {
	subtotal := dec.Zero
	discount := dec.Zero
	buckets := make(map[string]*taxBucket)

	for _, line := range inv.Lines {
		subtotal = subtotal.Add(line.SubtotalNoTax)
		discount = discount.Add(line.Discount)

		for _, tax := range line.Taxes {
			key := tax.Code + ":" + tax.PercentageCode
			bucket, ok := buckets[key]
			if !ok {
				bucket = &taxBucket{
					code:           tax.Code,
					percentageCode: tax.PercentageCode,
					rate:           tax.Rate,
				}
				buckets[key] = bucket
			}
			bucket.base = bucket.base.Add(tax.TaxableBase)
			bucket.amount = bucket.amount.Add(tax.Amount)
		}
	}

	if !dec.EqualMoney(subtotal, inv.Totals.SubtotalNoTaxes) {
		return nil, model.NewTotalsError("totalSinImpuestos",
			dec.FormatMoney(inv.Totals.SubtotalNoTaxes), dec.FormatMoney(subtotal))
	}
	if !dec.EqualMoney(discount, inv.Totals.TotalDiscount) {
		return nil, model.NewTotalsError("totalDescuento",
			dec.FormatMoney(inv.Totals.TotalDiscount), dec.FormatMoney(discount))
	}

	taxTotal := dec.Zero
	declared := make(map[string]model.TaxDetail, len(inv.Totals.TaxSummary))
	for _, tax := range inv.Totals.TaxSummary {
		declared[tax.Code+":"+tax.PercentageCode] = tax
	}
	if len(declared) != len(buckets) {
		return nil, model.NewTotalsError("totalConImpuestos",
			fmt.Sprintf("%d buckets", len(declared)), fmt.Sprintf("%d buckets", len(buckets)))
	}
	for key, bucket := range buckets {
		want, ok := declared[key]
		if !ok {
			return nil, model.NewTotalsError("totalConImpuestos", "missing bucket "+key, dec.FormatMoney(bucket.amount))
		}
		if !dec.EqualMoney(bucket.base, want.TaxableBase) {
			return nil, model.NewTotalsError("totalImpuesto.baseImponible",
				dec.FormatMoney(want.TaxableBase), dec.FormatMoney(bucket.base))
		}
		if !dec.EqualMoney(bucket.amount, want.Amount) {
			return nil, model.NewTotalsError("totalImpuesto.valor",
				dec.FormatMoney(want.Amount), dec.FormatMoney(bucket.amount))
		}
		taxTotal = taxTotal.Add(bucket.amount)
	}

	grand := subtotal.Add(taxTotal).Add(inv.Totals.Tip)
	if !dec.EqualMoney(grand, inv.Totals.GrandTotal) {
		return nil, model.NewTotalsError("importeTotal",
			dec.FormatMoney(inv.Totals.GrandTotal), dec.FormatMoney(grand))
	}

	ordered := make([]taxBucket, 0, len(buckets))
	for _, bucket := range buckets {
		ordered = append(ordered, *bucket)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].code != ordered[j].code {
			return ordered[i].code < ordered[j].code // VAT (2) before ICE (3)
		}
		return vatBucketOrder[ordered[i].percentageCode] < vatBucketOrder[ordered[j].percentageCode]
	})
	return ordered, nil
}

func (b *Builder) buildInfoTributaria(inv *model.Invoice, key string) *etree.Element {
	h := inv.Header
	e := etree.NewElement("infoTributaria")

	e.CreateElement("ambiente").SetText(h.Environment)
	e.CreateElement("tipoEmision").SetText(h.EmissionType)
	e.CreateElement("razonSocial").SetText(inv.Issuer.LegalName)
	if inv.Issuer.TradeName != "" {
		e.CreateElement("nombreComercial").SetText(inv.Issuer.TradeName)
	}
	e.CreateElement("ruc").SetText(inv.Issuer.RUC)
	e.CreateElement("claveAcceso").SetText(key)
	e.CreateElement("codDoc").SetText(h.DocType)
	e.CreateElement("estab").SetText(h.Establishment)
	e.CreateElement("ptoEmi").SetText(h.EmissionPoint)
	e.CreateElement("secuencial").SetText(h.Sequential)
	e.CreateElement("dirMatriz").SetText(inv.Issuer.HeadOfficeAddress)
	if inv.Issuer.SpecialTaxpayerCode != "" {
		e.CreateElement("contribuyenteEspecial").SetText(inv.Issuer.SpecialTaxpayerCode)
	}

	return e
}

func (b *Builder) buildInfoFactura(inv *model.Invoice, summary []taxBucket) *etree.Element {
	e := etree.NewElement("infoFactura")

	e.CreateElement("fechaEmision").SetText(inv.Header.EmissionDate.Format("02/01/2006"))
	if inv.Issuer.EstablishmentAddr != "" {
		e.CreateElement("dirEstablecimiento").SetText(inv.Issuer.EstablishmentAddr)
	}
	e.CreateElement("tipoIdentificacionComprador").SetText(inv.Buyer.IDType)
	e.CreateElement("razonSocialComprador").SetText(inv.Buyer.Name)
	e.CreateElement("identificacionComprador").SetText(inv.Buyer.ID)
	if inv.Buyer.Address != "" {
		e.CreateElement("direccionComprador").SetText(inv.Buyer.Address)
	}
	if inv.Issuer.KeepsAccounting {
		e.CreateElement("obligadoContabilidad").SetText("SI")
	} else {
		e.CreateElement("obligadoContabilidad").SetText("NO")
	}

	e.CreateElement("totalSinImpuestos").SetText(dec.FormatMoney(inv.Totals.SubtotalNoTaxes))
	e.CreateElement("totalDescuento").SetText(dec.FormatMoney(inv.Totals.TotalDiscount))
	e.AddChild(b.buildTotalConImpuestos(summary))
	e.CreateElement("propina").SetText(dec.FormatMoney(inv.Totals.Tip))
	e.CreateElement("importeTotal").SetText(dec.FormatMoney(inv.Totals.GrandTotal))
	e.CreateElement("moneda").SetText(inv.Header.Currency)

	payment := inv.PaymentMethod
	if payment == "" {
		payment = "01" // without use of the financial system
	}
	pagos := e.CreateElement("pagos")
	pago := pagos.CreateElement("pago")
	pago.CreateElement("formaPago").SetText(payment)
	pago.CreateElement("total").SetText(dec.FormatMoney(inv.Totals.GrandTotal))

	return e
}

func (b *Builder) buildTotalConImpuestos(summary []taxBucket) *etree.Element {
	e := etree.NewElement("totalConImpuestos")

	for _, bucket := range summary {
		t := e.CreateElement("totalImpuesto")
		t.CreateElement("codigo").SetText(bucket.code)
		if bucket.code == model.TaxCodeVAT {
			t.CreateElement("codigoPorcentaje").SetText(bucket.percentageCode)
		}
		t.CreateElement("baseImponible").SetText(dec.FormatMoney(bucket.base))
		// not-subject and exempt buckets carry no tarifa
		if bucket.code == model.TaxCodeVAT &&
			bucket.percentageCode != model.VATCodeNotSubject &&
			bucket.percentageCode != model.VATCodeExempt {
			t.CreateElement("tarifa").SetText(dec.FormatRate(bucket.rate))
		}
		t.CreateElement("valor").SetText(dec.FormatMoney(bucket.amount))
	}

	return e
}

func (b *Builder) buildDetalles(lines []model.LineItem) *etree.Element {
	e := etree.NewElement("detalles")

	for _, line := range lines {
		d := e.CreateElement("detalle")
		d.CreateElement("codigoPrincipal").SetText(line.MainCode)
		if line.AuxiliaryCode != "" {
			d.CreateElement("codigoAuxiliar").SetText(line.AuxiliaryCode)
		}
		d.CreateElement("descripcion").SetText(line.Description)
		d.CreateElement("cantidad").SetText(dec.FormatQuantity(line.Quantity))
		d.CreateElement("precioUnitario").SetText(dec.FormatQuantity(line.UnitPrice))
		d.CreateElement("descuento").SetText(dec.FormatMoney(line.Discount))
		d.CreateElement("precioTotalSinImpuesto").SetText(dec.FormatMoney(line.SubtotalNoTax))

		impuestos := d.CreateElement("impuestos")
		for _, tax := range line.Taxes {
			i := impuestos.CreateElement("impuesto")
			i.CreateElement("codigo").SetText(tax.Code)
			i.CreateElement("codigoPorcentaje").SetText(tax.PercentageCode)
			i.CreateElement("tarifa").SetText(dec.FormatRate(tax.Rate))
			i.CreateElement("baseImponible").SetText(dec.FormatMoney(tax.TaxableBase))
			i.CreateElement("valor").SetText(dec.FormatMoney(tax.Amount))
		}
	}

	return e
}

func (b *Builder) buildInfoAdicional(fields []model.AdditionalField) *etree.Element {
	e := etree.NewElement("infoAdicional")
	for _, f := range fields {
		campo := e.CreateElement("campoAdicional")
		campo.CreateAttr("nombre", f.Name)
		campo.SetText(f.Value)
	}
	return e
}

func checkLen(field, value string, max int, required bool) error {
	if value == "" {
		if required {
			return model.NewSchemaError(field, "REQUIRED", "field is required")
		}
		return nil
	}
	if len([]rune(value)) > max {
		return model.NewSchemaError(field, "MAX_LENGTH",
			fmt.Sprintf("field exceeds %d characters", max))
	}
	return nil
}

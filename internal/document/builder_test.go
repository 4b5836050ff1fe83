package document_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturex/sri-pipeline/internal/accesskey"
	dec "github.com/facturex/sri-pipeline/internal/decimal"
	"github.com/facturex/sri-pipeline/internal/document"
	"github.com/facturex/sri-pipeline/internal/model"
)

func testInvoice() *model.Invoice {
	return &model.Invoice{
		Header: model.InvoiceHeader{
			EmissionDate:  time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			DocType:       model.DocTypeFactura,
			IssuerRUC:     "1234567890001",
			Environment:   model.EnvironmentTest,
			Establishment: "001",
			EmissionPoint: "001",
			Sequential:    "000000001",
			EmissionType:  model.EmissionNormal,
			Currency:      "DOLAR",
			NumericSalt:   "12345678",
		},
		Issuer: model.Issuer{
			RUC:               "1234567890001",
			LegalName:         "Comercial Andina S.A.",
			HeadOfficeAddress: "Av. Amazonas N34-451, Quito",
			KeepsAccounting:   true,
		},
		Buyer: model.Buyer{
			IDType: model.IDTypeFinalConsumer,
			ID:     model.FinalConsumerID,
			Name:   "CONSUMIDOR FINAL",
		},
		Lines: []model.LineItem{
			{
				MainCode:      "PRD-001",
				Description:   "Servicio de mantenimiento",
				Quantity:      dec.MustFromString("2"),
				UnitPrice:     dec.MustFromString("50.00"),
				Discount:      dec.MustFromString("0"),
				SubtotalNoTax: dec.MustFromString("100.00"),
				Taxes: []model.TaxDetail{
					{
						Code:           model.TaxCodeVAT,
						PercentageCode: model.VATCode15,
						Rate:           dec.MustFromString("0.15"),
						TaxableBase:    dec.MustFromString("100.00"),
						Amount:         dec.MustFromString("15.00"),
					},
				},
			},
		},
		Totals: model.Totals{
			SubtotalNoTaxes: dec.MustFromString("100.00"),
			TotalDiscount:   dec.MustFromString("0"),
			TaxSummary: []model.TaxDetail{
				{
					Code:           model.TaxCodeVAT,
					PercentageCode: model.VATCode15,
					Rate:           dec.MustFromString("0.15"),
					TaxableBase:    dec.MustFromString("100.00"),
					Amount:         dec.MustFromString("15.00"),
				},
			},
			Tip:        dec.MustFromString("0"),
			GrandTotal: dec.MustFromString("115.00"),
		},
	}
}

func mustKey(t *testing.T, inv *model.Invoice) string {
	t.Helper()
	key, err := accesskey.Generate(inv.Header)
	require.NoError(t, err)
	return key
}

func TestBuild_Valid(t *testing.T) {
	inv := testInvoice()
	key := mustKey(t, inv)

	doc, err := document.NewBuilder().Build(inv, key)
	require.NoError(t, err)

	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, "factura", root.Tag)
	assert.Equal(t, "comprobante", root.SelectAttrValue("id", ""))
	assert.Equal(t, document.SchemaVersion, root.SelectAttrValue("version", ""))

	clave := root.FindElement("infoTributaria/claveAcceso")
	require.NotNil(t, clave)
	assert.Equal(t, key, clave.Text())
}

func TestBuild_ElementOrder(t *testing.T) {
	inv := testInvoice()
	doc, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	require.NoError(t, err)

	trib := doc.Root().FindElement("infoTributaria")
	require.NotNil(t, trib)

	var tags []string
	for _, child := range trib.ChildElements() {
		tags = append(tags, child.Tag)
	}
	assert.Equal(t, []string{
		"ambiente", "tipoEmision", "razonSocial", "ruc", "claveAcceso",
		"codDoc", "estab", "ptoEmi", "secuencial", "dirMatriz",
	}, tags)
}

func TestBuild_OptionalBlocksOmitted(t *testing.T) {
	inv := testInvoice()
	doc, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	require.NoError(t, err)

	root := doc.Root()
	assert.Nil(t, root.FindElement("infoAdicional"))
	assert.Nil(t, root.FindElement("infoTributaria/nombreComercial"))
	assert.Nil(t, root.FindElement("infoFactura/direccionComprador"))
}

func TestBuild_OptionalBlocksPresent(t *testing.T) {
	inv := testInvoice()
	inv.Issuer.TradeName = "Andina"
	inv.AdditionalFields = []model.AdditionalField{{Name: "email", Value: "cliente@example.com"}}

	doc, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	require.NoError(t, err)

	root := doc.Root()
	require.NotNil(t, root.FindElement("infoTributaria/nombreComercial"))

	campo := root.FindElement("infoAdicional/campoAdicional")
	require.NotNil(t, campo)
	assert.Equal(t, "email", campo.SelectAttrValue("nombre", ""))
	assert.Equal(t, "cliente@example.com", campo.Text())
}

func TestBuild_MoneyFormatting(t *testing.T) {
	inv := testInvoice()
	doc, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	require.NoError(t, err)

	root := doc.Root()
	assert.Equal(t, "100.00", root.FindElement("infoFactura/totalSinImpuestos").Text())
	assert.Equal(t, "115.00", root.FindElement("infoFactura/importeTotal").Text())
	assert.Equal(t, "15.00", root.FindElement("infoFactura/totalConImpuestos/totalImpuesto/valor").Text())
	assert.Equal(t, "2", root.FindElement("detalles/detalle/cantidad").Text())
	assert.Equal(t, "50", root.FindElement("detalles/detalle/precioUnitario").Text())
}

func TestBuild_AccessKeyMismatch(t *testing.T) {
	inv := testInvoice()
	key := mustKey(t, inv)

	// flip the salt so the supplied key no longer matches the header
	inv.Header.NumericSalt = "87654321"

	_, err := document.NewBuilder().Build(inv, key)
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "claveAcceso", schemaErr.Field)
}

func TestBuild_TotalsMismatch(t *testing.T) {
	inv := testInvoice()
	inv.Totals.GrandTotal = dec.MustFromString("120.00")

	_, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	var totalsErr *model.TotalsError
	require.ErrorAs(t, err, &totalsErr)
	assert.Equal(t, "importeTotal", totalsErr.Field)
}

func TestBuild_LineTaxMismatch(t *testing.T) {
	inv := testInvoice()
	inv.Lines[0].Taxes[0].Amount = dec.MustFromString("14.00")
	inv.Totals.TaxSummary[0].Amount = dec.MustFromString("14.00")
	inv.Totals.GrandTotal = dec.MustFromString("114.00")

	_, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	var totalsErr *model.TotalsError
	require.ErrorAs(t, err, &totalsErr)
}

func TestBuild_InvalidBuyerID(t *testing.T) {
	inv := testInvoice()
	inv.Buyer.IDType = model.IDTypeCedula
	inv.Buyer.ID = "1234567890" // bad check digit

	_, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "identificacionComprador", schemaErr.Field)
}

func TestBuild_ValidCedulaBuyer(t *testing.T) {
	inv := testInvoice()
	inv.Buyer.IDType = model.IDTypeCedula
	inv.Buyer.ID = "1710034065"

	_, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	assert.NoError(t, err)
}

func TestBuild_DiscountExceedsSubtotal(t *testing.T) {
	inv := testInvoice()
	inv.Lines[0].Discount = dec.MustFromString("200.00")

	_, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestBuild_NoLines(t *testing.T) {
	inv := testInvoice()
	inv.Lines = nil
	inv.Totals = model.Totals{}

	_, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "detalles", schemaErr.Field)
}

func TestBuild_MalformedIssuerRUC(t *testing.T) {
	inv := testInvoice()
	inv.Issuer.RUC = "1234567890123"
	inv.Header.IssuerRUC = "1234567890123"

	_, err := document.NewBuilder().Build(inv, mustKey(t, inv))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "ruc", schemaErr.Field)
}

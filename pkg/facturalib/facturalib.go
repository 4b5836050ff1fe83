// Package facturalib provides a public API for emitting Ecuador SRI
// electronic invoices.
//
// It wraps the full emission pipeline: access key generation, canonical
// factura XML, XAdES-BES signing, and the reception/authorization protocol.
//
// Example usage:
//
//	emitter, err := facturalib.NewEmitter(facturalib.Options{
//	    CertificatePath:     "firma.p12",
//	    CertificatePassword: os.Getenv("SRI_CERT_PASSWORD"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := emitter.Emit(ctx, invoice)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	record, err := emitter.AwaitAuthorization(ctx, result.AccessKey)
package facturalib

import (
	"github.com/facturex/sri-pipeline/internal/accesskey"
	"github.com/facturex/sri-pipeline/internal/lifecycle"
	"github.com/facturex/sri-pipeline/internal/model"
)

// Re-export core types for public API
type (
	Invoice         = model.Invoice
	InvoiceHeader   = model.InvoiceHeader
	Issuer          = model.Issuer
	Buyer           = model.Buyer
	LineItem        = model.LineItem
	TaxDetail       = model.TaxDetail
	Totals          = model.Totals
	AdditionalField = model.AdditionalField

	Record = lifecycle.Record
	State  = lifecycle.State
)

// Re-export document type codes
const (
	DocTypeFactura     = model.DocTypeFactura
	DocTypeNotaCredito = model.DocTypeNotaCredito
	DocTypeNotaDebito  = model.DocTypeNotaDebito
)

// Re-export environments
const (
	EnvironmentTest       = model.EnvironmentTest
	EnvironmentProduction = model.EnvironmentProduction
)

// Re-export lifecycle states
const (
	StateGenerated  = lifecycle.StateGenerated
	StateSigned     = lifecycle.StateSigned
	StateSubmitted  = lifecycle.StateSubmitted
	StateAuthorized = lifecycle.StateAuthorized
	StateRejected   = lifecycle.StateRejected
	StateReturned   = lifecycle.StateReturned
)

// GenerateAccessKey computes the 49-digit access key for a header without
// running the pipeline.
func GenerateAccessKey(header InvoiceHeader) (string, error) {
	return accesskey.Generate(header)
}

// ValidateAccessKey re-verifies the shape and check digit of an access key.
func ValidateAccessKey(key string) error {
	return accesskey.Validate(key)
}

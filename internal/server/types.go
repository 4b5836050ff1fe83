package server

import (
	"time"

	"github.com/facturex/sri-pipeline/internal/lifecycle"
)

// EmitResponse is returned by the emission endpoint.
type EmitResponse struct {
	AccessKey string            `json:"access_key"`
	State     lifecycle.State   `json:"state"`
	SignedXML string            `json:"signed_xml"` // base64
	Record    *lifecycle.Record `json:"record"`
}

// RecordResponse wraps a lifecycle record plus the business outcome of the
// operation that produced it.
type RecordResponse struct {
	Record  *lifecycle.Record `json:"record"`
	Outcome string            `json:"outcome,omitempty"`
}

// VerifyResponse mirrors sign.VerificationResult for API consumers.
type VerifyResponse struct {
	Valid                 bool              `json:"valid"`
	SignatureFound        bool              `json:"signature_found"`
	DocumentDigestValid   bool              `json:"document_digest_valid"`
	PropertiesDigestValid bool              `json:"properties_digest_valid"`
	SignatureValueValid   bool              `json:"signature_value_valid"`
	Signer                *SignerInfoOutput `json:"signer,omitempty"`
	SignedAt              *time.Time        `json:"signed_at,omitempty"`
	Errors                []string          `json:"errors,omitempty"`
}

// SignerInfoOutput is the API shape of the signer's certificate subject.
type SignerInfoOutput struct {
	Name         string     `json:"name"`
	Organization string     `json:"organization,omitempty"`
	SerialNumber string     `json:"serial_number"`
	Issuer       string     `json:"issuer"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidTo      *time.Time `json:"valid_to,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Kind     string   `json:"kind,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// HeaderError reports an invoice header field that cannot produce an access key
type HeaderError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *HeaderError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid header field %s: %s (value=%v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("invalid header field %s: %s", e.Field, e.Message)
}

// NewHeaderError creates a new header error
func NewHeaderError(field string, value interface{}, message string) *HeaderError {
	return &HeaderError{Field: field, Value: value, Message: message}
}

// SchemaError reports a field that violates the factura schema (length,
// format, or enumeration). Non-retriable; the invoice must be corrected
// upstream.
type SchemaError struct {
	Field   string
	Rule    string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewSchemaError creates a new schema error
func NewSchemaError(field, rule, message string) *SchemaError {
	return &SchemaError{Field: field, Rule: rule, Message: message}
}

// TotalsError reports a divergence between declared totals and the sum of
// per-line tax details. Non-retriable.
type TotalsError struct {
	Field    string
	Declared string
	Computed string
}

func (e *TotalsError) Error() string {
	return fmt.Sprintf("totals mismatch on %s: declared=%s computed=%s", e.Field, e.Declared, e.Computed)
}

// NewTotalsError creates a new totals error
func NewTotalsError(field, declared, computed string) *TotalsError {
	return &TotalsError{Field: field, Declared: declared, Computed: computed}
}

// CertificateError reports certificate or key material problems at signing
// time. Operator-correctable; never auto-retried.
type CertificateError struct {
	Reason  string
	Message string
	Cause   error
}

func (e *CertificateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("certificate error [%s]: %s (%v)", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("certificate error [%s]: %s", e.Reason, e.Message)
}

func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// Certificate error reasons
const (
	CertReasonUnreadable  = "UNREADABLE"
	CertReasonBadPassword = "BAD_PASSWORD"
	CertReasonExpired     = "EXPIRED"
	CertReasonNotYetValid = "NOT_YET_VALID"
	CertReasonRevoked     = "REVOKED"
	CertReasonKeyType     = "KEY_TYPE"
)

// NewCertificateError creates a new certificate error
func NewCertificateError(reason, message string, cause error) *CertificateError {
	return &CertificateError{Reason: reason, Message: message, Cause: cause}
}

// TransientError reports a network-level failure that survived the bounded
// retry policy. The operation may be attempted again later with the same
// access key.
type TransientError struct {
	Operation string
	Attempts  int
	Cause     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s after %d attempts: %v", e.Operation, e.Attempts, e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a new transient error
func NewTransientError(operation string, attempts int, cause error) *TransientError {
	return &TransientError{Operation: operation, Attempts: attempts, Cause: cause}
}

// AuthorityMessage is one message item returned by the SRI, preserved
// verbatim because it drives corrective action upstream.
type AuthorityMessage struct {
	Identifier     string `json:"identifier"`
	Message        string `json:"message"`
	AdditionalInfo string `json:"additional_info,omitempty"`
	Type           string `json:"type,omitempty"`
}

func (m AuthorityMessage) String() string {
	if m.AdditionalInfo != "" {
		return fmt.Sprintf("[%s] %s: %s", m.Identifier, m.Message, m.AdditionalInfo)
	}
	return fmt.Sprintf("[%s] %s", m.Identifier, m.Message)
}

func joinMessages(msgs []AuthorityMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, "; ")
}

// RejectionError is a terminal business outcome: the authority rejected the
// document, either at reception or at authorization.
type RejectionError struct {
	AccessKey string
	Stage     string // "reception" or "authorization"
	Messages  []AuthorityMessage
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("document %s rejected at %s: %s", e.AccessKey, e.Stage, joinMessages(e.Messages))
}

// NewRejectionError creates a new rejection error
func NewRejectionError(accessKey, stage string, messages []AuthorityMessage) *RejectionError {
	return &RejectionError{AccessKey: accessKey, Stage: stage, Messages: messages}
}

// ReturnError is a terminal-but-correctable outcome: the document was
// returned and must be regenerated under a new sequential number, never
// resubmitted with the same access key.
type ReturnError struct {
	AccessKey string
	Messages  []AuthorityMessage
}

func (e *ReturnError) Error() string {
	return fmt.Sprintf("document %s returned by authority: %s", e.AccessKey, joinMessages(e.Messages))
}

// NewReturnError creates a new return error
func NewReturnError(accessKey string, messages []AuthorityMessage) *ReturnError {
	return &ReturnError{AccessKey: accessKey, Messages: messages}
}

// TimeoutError reports that the authorization poll window elapsed without a
// decision. Non-fatal: the record stays SUBMITTED and a later poll can still
// resolve it.
type TimeoutError struct {
	AccessKey string
	Waited    time.Duration
	Polls     int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("authorization for %s still pending after %s (%d polls)", e.AccessKey, e.Waited, e.Polls)
}

// NewTimeoutError creates a new authorization timeout error
func NewTimeoutError(accessKey string, waited time.Duration, polls int) *TimeoutError {
	return &TimeoutError{AccessKey: accessKey, Waited: waited, Polls: polls}
}

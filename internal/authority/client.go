// Package authority is the gateway to the SRI reception and authorization
// web services. It submits signed documents, polls authorization status, and
// classifies every response into retriable and terminal outcomes. The client
// never loops internally; poll scheduling belongs to the caller.
package authority

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/facturex/sri-pipeline/internal/model"
)

// ReceptionStatus classifies the reception endpoint's answer.
type ReceptionStatus string

// Reception outcomes
const (
	ReceptionReceived ReceptionStatus = "RECEIVED"
	ReceptionRejected ReceptionStatus = "REJECTED_AT_RECEPTION"
)

// ReceptionResult is the classified answer of a submit call.
type ReceptionResult struct {
	Status   ReceptionStatus          `json:"status"`
	Messages []model.AuthorityMessage `json:"messages,omitempty"`
}

// AuthorizationStatus classifies the authorization endpoint's answer.
type AuthorizationStatus string

// Authorization outcomes. Pending is not terminal; the caller polls again.
const (
	AuthorizationAuthorized AuthorizationStatus = "AUTHORIZED"
	AuthorizationRejected   AuthorizationStatus = "REJECTED"
	AuthorizationReturned   AuthorizationStatus = "RETURNED"
	AuthorizationPending    AuthorizationStatus = "PENDING"
)

// AuthorizationResult is the classified answer of a single poll.
type AuthorizationResult struct {
	Status    AuthorizationStatus      `json:"status"`
	Number    string                   `json:"number,omitempty"`
	Timestamp time.Time                `json:"timestamp,omitempty"`
	Messages  []model.AuthorityMessage `json:"messages,omitempty"`
}

// Default retry policy for transient failures
const (
	DefaultRetryMax     = 3
	DefaultRetryWaitMin = 1 * time.Second
	DefaultRetryWaitMax = 30 * time.Second
)

const (
	soapEnvelopeSubmit = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
    <soap:Body>
        <ns2:validarComprobante xmlns:ns2="http://ec.gob.sri.ws.recepcion">
            <xml>%s</xml>
        </ns2:validarComprobante>
    </soap:Body>
</soap:Envelope>`

	soapEnvelopePoll = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
    <soap:Body>
        <ns2:autorizacionComprobante xmlns:ns2="http://ec.gob.sri.ws.autorizacion">
            <claveAccesoComprobante>%s</claveAccesoComprobante>
        </ns2:autorizacionComprobante>
    </soap:Body>
</soap:Envelope>`
)

// Client talks to one environment's pair of SRI endpoints. Safe for
// concurrent use; it holds no per-document state, which is what makes
// resubmission and re-polling idempotent per access key.
type Client struct {
	receptionURL     string
	authorizationURL string
	http             *retryablehttp.Client
	logger           *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRetryPolicy overrides the bounded exponential backoff used for
// transient failures.
func WithRetryPolicy(retryMax int, waitMin, waitMax time.Duration) ClientOption {
	return func(c *Client) {
		c.http.RetryMax = retryMax
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a gateway client for the given endpoint pair.
func NewClient(receptionURL, authorizationURL string, opts ...ClientOption) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = DefaultRetryMax
	retryClient.RetryWaitMin = DefaultRetryWaitMin
	retryClient.RetryWaitMax = DefaultRetryWaitMax
	retryClient.Logger = nil

	c := &Client{
		receptionURL:     receptionURL,
		authorizationURL: authorizationURL,
		http:             retryClient,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends a signed document to the reception endpoint. Network errors
// and 5xx answers are retried with exponential backoff; once the bounded
// retries are exhausted a model.TransientError is returned and the caller may
// try again later with the same access key.
func (c *Client) Submit(ctx context.Context, signedXML []byte) (*ReceptionResult, error) {
	payload := base64.StdEncoding.EncodeToString(signedXML)
	envelope := fmt.Sprintf(soapEnvelopeSubmit, payload)

	body, err := c.post(ctx, "submit", c.receptionURL, envelope)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("cannot parse reception response: %w", err)
	}

	estado := findText(doc, "//RespuestaRecepcionComprobante/estado")
	switch estado {
	case "RECIBIDA":
		c.logger.Info("document received by authority")
		return &ReceptionResult{Status: ReceptionReceived}, nil
	case "DEVUELTA":
		messages := collectMessages(doc, "//comprobante/mensajes/mensaje")
		c.logger.Warn("document rejected at reception", "messages", len(messages))
		return &ReceptionResult{Status: ReceptionRejected, Messages: messages}, nil
	default:
		return nil, fmt.Errorf("unexpected reception estado %q", estado)
	}
}

// PollAuthorization queries authorization status for one access key. It
// performs a single round trip; a PENDING result means the authority has not
// decided yet and the caller must poll again after its own interval.
func (c *Client) PollAuthorization(ctx context.Context, accessKey string) (*AuthorizationResult, error) {
	envelope := fmt.Sprintf(soapEnvelopePoll, accessKey)

	body, err := c.post(ctx, "pollAuthorization", c.authorizationURL, envelope)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("cannot parse authorization response: %w", err)
	}

	auth := doc.FindElement("//autorizaciones/autorizacion")
	if auth == nil {
		// No decision recorded yet for this access key
		return &AuthorizationResult{Status: AuthorizationPending}, nil
	}

	estado := elementText(auth, "estado")
	messages := collectMessagesFrom(auth, "mensajes/mensaje")

	switch estado {
	case "AUTORIZADO":
		result := &AuthorizationResult{
			Status:   AuthorizationAuthorized,
			Number:   elementText(auth, "numeroAutorizacion"),
			Messages: messages,
		}
		if raw := elementText(auth, "fechaAutorizacion"); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				result.Timestamp = ts
			}
		}
		c.logger.Info("document authorized", "access_key", accessKey, "number", result.Number)
		return result, nil
	case "NO AUTORIZADO":
		c.logger.Warn("document rejected at authorization", "access_key", accessKey)
		return &AuthorizationResult{Status: AuthorizationRejected, Messages: messages}, nil
	case "DEVUELTA":
		c.logger.Warn("document returned by authority", "access_key", accessKey)
		return &AuthorizationResult{Status: AuthorizationReturned, Messages: messages}, nil
	case "EN PROCESO", "EN PROCESAMIENTO", "PPR":
		return &AuthorizationResult{Status: AuthorizationPending, Messages: messages}, nil
	default:
		return nil, fmt.Errorf("unexpected authorization estado %q", estado)
	}
}

// post sends one SOAP request and returns the response body. Retries happen
// inside the retryable client; an error here means the bounded policy is
// already exhausted.
func (c *Client) post(ctx context.Context, operation, url, envelope string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `""`)

	attempts := c.http.RetryMax + 1
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.NewTransientError(operation, attempts, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewTransientError(operation, attempts,
			fmt.Errorf("authority returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewTransientError(operation, attempts, err)
	}
	return body, nil
}

func findText(doc *etree.Document, path string) string {
	if elem := doc.FindElement(path); elem != nil {
		return strings.TrimSpace(elem.Text())
	}
	return ""
}

func elementText(parent *etree.Element, path string) string {
	if elem := parent.FindElement(path); elem != nil {
		return strings.TrimSpace(elem.Text())
	}
	return ""
}

func collectMessages(doc *etree.Document, path string) []model.AuthorityMessage {
	return messagesFromElements(doc.FindElements(path))
}

func collectMessagesFrom(parent *etree.Element, path string) []model.AuthorityMessage {
	return messagesFromElements(parent.FindElements(path))
}

// messagesFromElements preserves the authority's message list verbatim; the
// identifiers and texts drive corrective action upstream.
func messagesFromElements(elems []*etree.Element) []model.AuthorityMessage {
	messages := make([]model.AuthorityMessage, 0, len(elems))
	for _, m := range elems {
		messages = append(messages, model.AuthorityMessage{
			Identifier:     elementText(m, "identificador"),
			Message:        elementText(m, "mensaje"),
			AdditionalInfo: elementText(m, "informacionAdicional"),
			Type:           elementText(m, "tipo"),
		})
	}
	return messages
}

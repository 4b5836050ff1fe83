package sign

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Default revocation check configuration
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = 1 * time.Hour
)

// RevocationChecker queries the certificate authority's OCSP responder for
// the revocation status of a signing certificate. Results are cached so that
// bulk emission does not hit the responder once per document.
//
// The check is advisory: when no responder is published or the responder is
// unreachable, the certificate is treated as not revoked and a warning is
// logged. Only a definitive "revoked" answer blocks signing.
type RevocationChecker struct {
	client *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]revocationEntry
	ttl     time.Duration
}

type revocationEntry struct {
	notRevoked bool
	expiresAt  time.Time
}

// NewRevocationChecker creates a checker with the default timeout and cache
// TTL. A nil logger falls back to slog.Default.
func NewRevocationChecker(logger *slog.Logger) *RevocationChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevocationChecker{
		client:  &http.Client{Timeout: DefaultOCSPTimeout},
		logger:  logger,
		entries: make(map[string]revocationEntry),
		ttl:     DefaultOCSPCacheTTL,
	}
}

// NotRevoked reports whether the certificate can be used for signing.
// Definitive revocation returns false; every soft failure (no responder
// URL, network error, unknown status) returns true with a logged warning.
func (rc *RevocationChecker) NotRevoked(ctx context.Context, cert, issuer *x509.Certificate) (bool, error) {
	key := cert.Issuer.String() + ":" + cert.SerialNumber.String()

	rc.mu.RLock()
	entry, found := rc.entries[key]
	rc.mu.RUnlock()
	if found && time.Now().Before(entry.expiresAt) {
		return entry.notRevoked, nil
	}

	notRevoked, err := rc.query(ctx, cert, issuer)
	if err != nil {
		rc.logger.Warn("revocation check inconclusive, proceeding",
			"serial", cert.SerialNumber.String(),
			"error", err)
		return true, nil
	}

	rc.mu.Lock()
	rc.entries[key] = revocationEntry{notRevoked: notRevoked, expiresAt: time.Now().Add(rc.ttl)}
	rc.mu.Unlock()

	return notRevoked, nil
}

func (rc *RevocationChecker) query(ctx context.Context, cert, issuer *x509.Certificate) (bool, error) {
	if len(cert.OCSPServer) == 0 {
		return false, fmt.Errorf("no OCSP responder URL in certificate")
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return false, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	var lastErr error
	for _, server := range cert.OCSPServer {
		notRevoked, err := rc.queryResponder(ctx, server, request, issuer)
		if err == nil {
			return notRevoked, nil
		}
		lastErr = err
	}
	return false, fmt.Errorf("all OCSP responders failed: %w", lastErr)
}

func (rc *RevocationChecker) queryResponder(ctx context.Context, serverURL string, request []byte, issuer *x509.Certificate) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(request))
	if err != nil {
		return false, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := rc.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("OCSP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCSP responder returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read OCSP response: %w", err)
	}

	ocspResp, err := ocsp.ParseResponseForCert(body, nil, issuer)
	if err != nil {
		return false, fmt.Errorf("failed to parse OCSP response: %w", err)
	}

	switch ocspResp.Status {
	case ocsp.Good:
		return true, nil
	case ocsp.Revoked:
		return false, nil
	default:
		return false, fmt.Errorf("OCSP status unknown")
	}
}

package sign_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/facturex/sri-pipeline/internal/model"
	"github.com/facturex/sri-pipeline/internal/sign"
)

// ocspFixture is a CA plus a leaf signing certificate pointing at a stub
// OCSP responder. The responder answers with whatever status is set.
type ocspFixture struct {
	issuer    *x509.Certificate
	issuerKey *rsa.PrivateKey
	leaf      *x509.Certificate
	leafKey   *rsa.PrivateKey
	server    *httptest.Server
	status    atomic.Int32
	requests  atomic.Int32
}

func newOCSPFixture(t *testing.T) *ocspFixture {
	t.Helper()
	f := &ocspFixture{}
	f.status.Store(int32(ocsp.Good))

	var err error
	f.issuerKey, err = rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "FIXTURE ROOT CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &f.issuerKey.PublicKey, f.issuerKey)
	require.NoError(t, err)
	f.issuer, err = x509.ParseCertificate(caDER)
	require.NoError(t, err)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)

		status := int(f.status.Load())
		if status < 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		template := ocsp.Response{
			Status:       status,
			SerialNumber: f.leaf.SerialNumber,
			ThisUpdate:   time.Now(),
			NextUpdate:   time.Now().Add(time.Hour),
		}
		if status == ocsp.Revoked {
			template.RevokedAt = time.Now()
			template.RevocationReason = ocsp.KeyCompromise
		}
		body, err := ocsp.CreateResponse(f.issuer, f.issuer, template, f.issuerKey)
		if err != nil {
			t.Errorf("build OCSP response: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(body)
	}))
	t.Cleanup(f.server.Close)

	f.leafKey, err = rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	leafTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(4242),
		Subject:               pkix.Name{CommonName: "COMERCIAL ANDINA S.A."},
		NotBefore:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		OCSPServer:            []string{f.server.URL},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, f.issuer, &f.leafKey.PublicKey, f.issuerKey)
	require.NoError(t, err)
	f.leaf, err = x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return f
}

func TestNotRevoked_GoodCertificate(t *testing.T) {
	f := newOCSPFixture(t)
	checker := sign.NewRevocationChecker(nil)

	ok, err := checker.NotRevoked(context.Background(), f.leaf, f.issuer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), f.requests.Load())

	// second check is served from the cache
	ok, err = checker.NotRevoked(context.Background(), f.leaf, f.issuer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), f.requests.Load())
}

func TestNotRevoked_RevokedCertificate(t *testing.T) {
	f := newOCSPFixture(t)
	f.status.Store(int32(ocsp.Revoked))
	checker := sign.NewRevocationChecker(nil)

	ok, err := checker.NotRevoked(context.Background(), f.leaf, f.issuer)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotRevoked_NoResponderSoftFail(t *testing.T) {
	bundle := testBundle(t) // self-signed, no OCSP responder URL
	checker := sign.NewRevocationChecker(nil)

	ok, err := checker.NotRevoked(context.Background(), bundle.Certificate, bundle.Certificate)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotRevoked_ResponderErrorSoftFail(t *testing.T) {
	f := newOCSPFixture(t)
	f.status.Store(-1) // responder answers 500

	checker := sign.NewRevocationChecker(nil)

	ok, err := checker.NotRevoked(context.Background(), f.leaf, f.issuer)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSign_RevokedCertificateBlocks(t *testing.T) {
	f := newOCSPFixture(t)
	f.status.Store(int32(ocsp.Revoked))

	signer := sign.NewSigner(
		sign.NewStaticProvider(&sign.Bundle{Certificate: f.leaf, Key: f.leafKey, Issuer: f.issuer}),
		sign.WithRevocationCheck(sign.NewRevocationChecker(nil)),
	)

	_, err := signer.Sign(context.Background(), testDocument(), signingTime)

	var certErr *model.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, model.CertReasonRevoked, certErr.Reason)
}

func TestSign_GoodCertificatePassesRevocationCheck(t *testing.T) {
	f := newOCSPFixture(t)

	signer := sign.NewSigner(
		sign.NewStaticProvider(&sign.Bundle{Certificate: f.leaf, Key: f.leafKey, Issuer: f.issuer}),
		sign.WithRevocationCheck(sign.NewRevocationChecker(nil)),
	)

	signed, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)
	assert.True(t, sign.Verify(signed).Valid)
}

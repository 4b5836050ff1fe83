package sign

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pkcs12"

	"github.com/facturex/sri-pipeline/internal/model"
)

// Bundle holds the certificate and private key used for signing. The key is
// decrypted once and held only in memory, never persisted in clear form.
type Bundle struct {
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
	// Issuer is the issuing certificate when the PKCS#12 container carries
	// the chain; nil for self-signed certificates.
	Issuer *x509.Certificate
}

// CertificateProvider yields the signing material. Injected into the Signer
// so tests can substitute a throwaway certificate without touching
// process-wide configuration.
type CertificateProvider interface {
	Bundle() (*Bundle, error)
}

// P12Provider loads a password-protected PKCS#12 container from disk.
// Decoding happens once; concurrent signers share the cached bundle.
type P12Provider struct {
	path     string
	password string

	once   sync.Once
	bundle *Bundle
	err    error
}

// NewP12Provider creates a provider for the given .p12 file and password.
func NewP12Provider(path, password string) *P12Provider {
	return &P12Provider{path: path, password: password}
}

// Bundle decodes the container on first use and caches the result.
func (p *P12Provider) Bundle() (*Bundle, error) {
	p.once.Do(func() {
		p.bundle, p.err = p.load()
	})
	return p.bundle, p.err
}

func (p *P12Provider) load() (*Bundle, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, model.NewCertificateError(model.CertReasonUnreadable,
			fmt.Sprintf("cannot read certificate bundle %s", p.path), err)
	}

	key, cert, err := pkcs12.Decode(data, p.password)
	if err != nil {
		return nil, model.NewCertificateError(model.CertReasonBadPassword,
			"cannot decode PKCS#12 container", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, model.NewCertificateError(model.CertReasonKeyType,
			fmt.Sprintf("unsupported private key type %T", key), nil)
	}

	return &Bundle{Certificate: cert, Key: rsaKey}, nil
}

// StaticProvider serves a pre-built bundle. Used by tests and by callers
// that manage certificate material themselves.
type StaticProvider struct {
	bundle *Bundle
}

// NewStaticProvider wraps an in-memory bundle.
func NewStaticProvider(bundle *Bundle) *StaticProvider {
	return &StaticProvider{bundle: bundle}
}

// Bundle returns the wrapped bundle.
func (p *StaticProvider) Bundle() (*Bundle, error) {
	if p.bundle == nil || p.bundle.Certificate == nil || p.bundle.Key == nil {
		return nil, model.NewCertificateError(model.CertReasonUnreadable, "no certificate material configured", nil)
	}
	return p.bundle, nil
}

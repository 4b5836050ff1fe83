// Package sign produces and verifies XAdES-BES enveloped signatures over
// canonical factura documents. The signature covers two references: the
// document itself (enveloped, C14N 1.0) and the XAdES SignedProperties
// carrying signing time and certificate digest.
package sign

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/facturex/sri-pipeline/internal/model"
)

// XML namespaces and algorithm identifiers
const (
	DSigNamespace  = "http://www.w3.org/2000/09/xmldsig#"
	XAdESNamespace = "http://uri.etsi.org/01903/v1.3.2#"

	algC14N      = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	algRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	algEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	algSHA256    = "http://www.w3.org/2001/04/xmlenc#sha256"

	typeSignedProperties = "http://uri.etsi.org/01903#SignedProperties"
)

// Element IDs inside the signature block. Fixed so that signing is
// deterministic for a fixed signing timestamp.
const (
	idSignature        = "Signature"
	idSignedInfo       = "Signature-SignedInfo"
	idSignedProperties = "Signature-SignedProperties"
	idSignatureValue   = "SignatureValue"
	idKeyInfo          = "Certificate"
	idObject           = "Signature-Object"
	idReferenceProps   = "SignedPropertiesID"
	idReferenceDoc     = "Reference-comprobante"
)

// Signer wraps a canonical document in an XAdES-BES enveloped signature.
type Signer struct {
	provider   CertificateProvider
	revocation *RevocationChecker
}

// SignerOption configures a Signer
type SignerOption func(*Signer)

// WithRevocationCheck enables an OCSP revocation check against the bundle's
// issuer certificate at signing time.
func WithRevocationCheck(rc *RevocationChecker) SignerOption {
	return func(s *Signer) {
		s.revocation = rc
	}
}

// NewSigner creates a signer backed by the given certificate provider.
func NewSigner(provider CertificateProvider, opts ...SignerOption) *Signer {
	s := &Signer{provider: provider}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign computes the enveloped signature and returns the serialized signed
// document. The signing time is an input so callers (and tests) control it;
// no wall clock is sampled here. The bytes that were digested are captured
// before the signature element is appended, so nothing already serialized is
// reordered or rewritten.
func (s *Signer) Sign(ctx context.Context, doc *etree.Document, signingTime time.Time) ([]byte, error) {
	bundle, err := s.provider.Bundle()
	if err != nil {
		return nil, err
	}
	if err := s.checkCertificate(ctx, bundle, signingTime); err != nil {
		return nil, err
	}

	root := doc.Root()
	if root == nil {
		return nil, model.NewSchemaError("document", "EMPTY", "cannot sign an empty document")
	}

	canonicalizer := dsig.MakeC14N10RecCanonicalizer()

	// Digest of the exact canonical form of the document prior to any
	// signature insertion.
	docDigest, err := digestElement(canonicalizer, root)
	if err != nil {
		return nil, model.NewCertificateError(model.CertReasonUnreadable, "cannot canonicalize document", err)
	}

	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", DSigNamespace)
	sig.CreateAttr("xmlns:etsi", XAdESNamespace)
	sig.CreateAttr("Id", idSignature)

	object := buildObject(bundle, signingTime)
	signedProps := object.FindElement("etsi:QualifyingProperties/etsi:SignedProperties")
	propsDigest, err := digestElement(canonicalizer, signedProps)
	if err != nil {
		return nil, model.NewCertificateError(model.CertReasonUnreadable, "cannot canonicalize signed properties", err)
	}

	signedInfo := buildSignedInfo(propsDigest, docDigest)
	sig.AddChild(signedInfo)

	canonicalSignedInfo, err := canonicalizer.Canonicalize(signedInfo)
	if err != nil {
		return nil, model.NewCertificateError(model.CertReasonUnreadable, "cannot canonicalize SignedInfo", err)
	}
	hashed := sha256.Sum256(canonicalSignedInfo)
	signatureBytes, err := rsa.SignPKCS1v15(rand.Reader, bundle.Key, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, model.NewCertificateError(model.CertReasonKeyType, "RSA signing failed", err)
	}

	sigValue := sig.CreateElement("ds:SignatureValue")
	sigValue.CreateAttr("Id", idSignatureValue)
	sigValue.SetText(base64.StdEncoding.EncodeToString(signatureBytes))

	sig.AddChild(buildKeyInfo(bundle))
	sig.AddChild(object)

	root.AddChild(sig)
	return doc.WriteToBytes()
}

func (s *Signer) checkCertificate(ctx context.Context, bundle *Bundle, signingTime time.Time) error {
	cert := bundle.Certificate
	if signingTime.Before(cert.NotBefore) {
		return model.NewCertificateError(model.CertReasonNotYetValid,
			"certificate not valid until "+cert.NotBefore.Format(time.RFC3339), nil)
	}
	if signingTime.After(cert.NotAfter) {
		return model.NewCertificateError(model.CertReasonExpired,
			"certificate expired on "+cert.NotAfter.Format(time.RFC3339), nil)
	}

	if s.revocation != nil && bundle.Issuer != nil {
		ok, err := s.revocation.NotRevoked(ctx, cert, bundle.Issuer)
		if err != nil {
			return model.NewCertificateError(model.CertReasonRevoked, "revocation check failed", err)
		}
		if !ok {
			return model.NewCertificateError(model.CertReasonRevoked, "certificate has been revoked", nil)
		}
	}
	return nil
}

func buildSignedInfo(propsDigest, docDigest string) *etree.Element {
	si := etree.NewElement("ds:SignedInfo")
	si.CreateAttr("xmlns:ds", DSigNamespace)
	si.CreateAttr("xmlns:etsi", XAdESNamespace)
	si.CreateAttr("Id", idSignedInfo)

	si.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", algC14N)
	si.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", algRSASHA256)

	refProps := si.CreateElement("ds:Reference")
	refProps.CreateAttr("Id", idReferenceProps)
	refProps.CreateAttr("Type", typeSignedProperties)
	refProps.CreateAttr("URI", "#"+idSignedProperties)
	refProps.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algSHA256)
	refProps.CreateElement("ds:DigestValue").SetText(propsDigest)

	refDoc := si.CreateElement("ds:Reference")
	refDoc.CreateAttr("Id", idReferenceDoc)
	refDoc.CreateAttr("URI", "")
	transforms := refDoc.CreateElement("ds:Transforms")
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", algEnveloped)
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", algC14N)
	refDoc.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algSHA256)
	refDoc.CreateElement("ds:DigestValue").SetText(docDigest)

	return si
}

func buildKeyInfo(bundle *Bundle) *etree.Element {
	ki := etree.NewElement("ds:KeyInfo")
	ki.CreateAttr("Id", idKeyInfo)

	x509Data := ki.CreateElement("ds:X509Data")
	x509Data.CreateElement("ds:X509Certificate").
		SetText(base64.StdEncoding.EncodeToString(bundle.Certificate.Raw))

	keyValue := ki.CreateElement("ds:KeyValue")
	rsaValue := keyValue.CreateElement("ds:RSAKeyValue")
	rsaValue.CreateElement("ds:Modulus").
		SetText(base64.StdEncoding.EncodeToString(bundle.Key.PublicKey.N.Bytes()))
	rsaValue.CreateElement("ds:Exponent").
		SetText(base64.StdEncoding.EncodeToString(big.NewInt(int64(bundle.Key.PublicKey.E)).Bytes()))

	return ki
}

func buildObject(bundle *Bundle, signingTime time.Time) *etree.Element {
	object := etree.NewElement("ds:Object")
	object.CreateAttr("Id", idObject)

	qualifying := object.CreateElement("etsi:QualifyingProperties")
	qualifying.CreateAttr("Target", "#"+idSignature)

	props := qualifying.CreateElement("etsi:SignedProperties")
	// Redundant declarations keep the subtree canonicalization
	// self-contained on both the signing and the verification side.
	props.CreateAttr("xmlns:ds", DSigNamespace)
	props.CreateAttr("xmlns:etsi", XAdESNamespace)
	props.CreateAttr("Id", idSignedProperties)

	sigProps := props.CreateElement("etsi:SignedSignatureProperties")
	sigProps.CreateElement("etsi:SigningTime").SetText(signingTime.Format(time.RFC3339))

	cert := bundle.Certificate
	certDigest := sha256.Sum256(cert.Raw)

	signingCert := sigProps.CreateElement("etsi:SigningCertificate")
	certElem := signingCert.CreateElement("etsi:Cert")

	digest := certElem.CreateElement("etsi:CertDigest")
	digest.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algSHA256)
	digest.CreateElement("ds:DigestValue").
		SetText(base64.StdEncoding.EncodeToString(certDigest[:]))

	issuerSerial := certElem.CreateElement("etsi:IssuerSerial")
	issuerSerial.CreateElement("ds:X509IssuerName").SetText(cert.Issuer.String())
	issuerSerial.CreateElement("ds:X509SerialNumber").SetText(cert.SerialNumber.String())

	return object
}

// digestElement canonicalizes an element and returns the base64 SHA-256 of
// the exact canonical bytes.
func digestElement(canonicalizer dsig.Canonicalizer, elem *etree.Element) (string, error) {
	canonical, err := canonicalizer.Canonicalize(elem)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

package sign

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// VerificationResult contains the outcome of verifying a signed document.
type VerificationResult struct {
	// Overall validity - true only if all checks pass
	Valid bool `json:"valid"`

	// Individual check results
	SignatureFound        bool `json:"signature_found"`
	DocumentDigestValid   bool `json:"document_digest_valid"`
	PropertiesDigestValid bool `json:"properties_digest_valid"`
	SignatureValueValid   bool `json:"signature_value_valid"`

	// Signer information
	Signer *SignerInfo `json:"signer,omitempty"`

	// Claimed signing timestamp from the XAdES properties
	SignedAt *time.Time `json:"signed_at,omitempty"`

	// Errors (reasons for invalid result)
	Errors []string `json:"errors,omitempty"`
}

// SignerInfo contains certificate subject information
type SignerInfo struct {
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	SerialNumber string    `json:"serial_number"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
}

func (r *VerificationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *VerificationResult) computeValidity() {
	r.Valid = r.SignatureFound &&
		r.DocumentDigestValid &&
		r.PropertiesDigestValid &&
		r.SignatureValueValid &&
		len(r.Errors) == 0
}

func (r *VerificationResult) setSigner(cert *x509.Certificate) {
	signer := &SignerInfo{
		Name:         cert.Subject.CommonName,
		SerialNumber: cert.SerialNumber.String(),
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
	}
	if len(cert.Subject.Organization) > 0 {
		signer.Organization = cert.Subject.Organization[0]
	}
	if cert.Issuer.CommonName != "" {
		signer.Issuer = cert.Issuer.CommonName
	} else if len(cert.Issuer.Organization) > 0 {
		signer.Issuer = cert.Issuer.Organization[0]
	}
	r.Signer = signer
}

// Verify recomputes both reference digests and the RSA signature of a signed
// document using the certificate embedded in its KeyInfo. It checks the
// signature's internal consistency only; trust in the certificate itself is a
// separate concern (see ValidateWithRoots).
func Verify(signedXML []byte) *VerificationResult {
	result := &VerificationResult{}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		result.addError(fmt.Sprintf("cannot parse document: %v", err))
		return result
	}
	root := doc.Root()
	if root == nil {
		result.addError("document has no root element")
		return result
	}

	sig := root.SelectElement("ds:Signature")
	if sig == nil {
		result.addError("no enveloped signature found")
		return result
	}
	result.SignatureFound = true

	cert, err := embeddedCertificate(sig)
	if err != nil {
		result.addError(err.Error())
		return result
	}
	result.setSigner(cert)

	if ts := sig.FindElement("ds:Object/etsi:QualifyingProperties/etsi:SignedProperties/etsi:SignedSignatureProperties/etsi:SigningTime"); ts != nil {
		if parsed, err := time.Parse(time.RFC3339, ts.Text()); err == nil {
			result.SignedAt = &parsed
		}
	}

	canonicalizer := dsig.MakeC14N10RecCanonicalizer()

	// Document reference: canonical form of the root with the signature
	// element removed, per the enveloped-signature transform.
	rootCopy := root.Copy()
	if sigCopy := rootCopy.SelectElement("ds:Signature"); sigCopy != nil {
		rootCopy.RemoveChild(sigCopy)
	}
	checkDigest(result, canonicalizer, rootCopy, referenceDigest(sig, ""), "document",
		func(ok bool) { result.DocumentDigestValid = ok })

	// SignedProperties reference
	props := sig.FindElement("ds:Object/etsi:QualifyingProperties/etsi:SignedProperties")
	if props == nil {
		result.addError("signature carries no XAdES SignedProperties")
	} else {
		checkDigest(result, canonicalizer, props, referenceDigest(sig, typeSignedProperties), "signed properties",
			func(ok bool) { result.PropertiesDigestValid = ok })
	}

	verifySignatureValue(result, canonicalizer, sig, cert)

	result.computeValidity()
	return result
}

// ValidateWithRoots runs the signed document through a full XML-DSig
// validation against a set of trusted root certificates.
func ValidateWithRoots(signedXML []byte, roots []*x509.Certificate) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return fmt.Errorf("cannot parse document: %w", err)
	}
	if doc.Root() == nil {
		return fmt.Errorf("document has no root element")
	}

	store := &dsig.MemoryX509CertificateStore{Roots: roots}
	validationCtx := dsig.NewDefaultValidationContext(store)
	if _, err := validationCtx.Validate(doc.Root()); err != nil {
		return fmt.Errorf("signature validation failed: %w", err)
	}
	return nil
}

func embeddedCertificate(sig *etree.Element) (*x509.Certificate, error) {
	certElem := sig.FindElement("ds:KeyInfo/ds:X509Data/ds:X509Certificate")
	if certElem == nil {
		return nil, fmt.Errorf("signature carries no X509 certificate")
	}
	der, err := base64.StdEncoding.DecodeString(certElem.Text())
	if err != nil {
		return nil, fmt.Errorf("cannot decode embedded certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("cannot parse embedded certificate: %w", err)
	}
	return cert, nil
}

// referenceDigest finds the DigestValue of the Reference matching the given
// XAdES type; an empty type selects the enveloped document reference.
func referenceDigest(sig *etree.Element, refType string) string {
	for _, ref := range sig.FindElements("ds:SignedInfo/ds:Reference") {
		if ref.SelectAttrValue("Type", "") != refType {
			continue
		}
		if dv := ref.SelectElement("ds:DigestValue"); dv != nil {
			return dv.Text()
		}
	}
	return ""
}

func checkDigest(result *VerificationResult, canonicalizer dsig.Canonicalizer, elem *etree.Element, declared, what string, set func(bool)) {
	if declared == "" {
		result.addError(fmt.Sprintf("missing %s reference digest", what))
		return
	}
	computed, err := digestElement(canonicalizer, elem)
	if err != nil {
		result.addError(fmt.Sprintf("cannot canonicalize %s: %v", what, err))
		return
	}
	if computed != declared {
		result.addError(fmt.Sprintf("%s digest mismatch", what))
		return
	}
	set(true)
}

func verifySignatureValue(result *VerificationResult, canonicalizer dsig.Canonicalizer, sig *etree.Element, cert *x509.Certificate) {
	signedInfo := sig.SelectElement("ds:SignedInfo")
	sigValue := sig.SelectElement("ds:SignatureValue")
	if signedInfo == nil || sigValue == nil {
		result.addError("signature is missing SignedInfo or SignatureValue")
		return
	}

	canonical, err := canonicalizer.Canonicalize(signedInfo)
	if err != nil {
		result.addError(fmt.Sprintf("cannot canonicalize SignedInfo: %v", err))
		return
	}

	signature, err := base64.StdEncoding.DecodeString(sigValue.Text())
	if err != nil {
		result.addError(fmt.Sprintf("cannot decode SignatureValue: %v", err))
		return
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		result.addError(fmt.Sprintf("unsupported public key type %T", cert.PublicKey))
		return
	}

	hashed := sha256.Sum256(canonical)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], signature); err != nil {
		result.addError("RSA signature does not verify")
		return
	}
	result.SignatureValueValid = true
}

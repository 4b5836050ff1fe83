package sign_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturex/sri-pipeline/internal/model"
	"github.com/facturex/sri-pipeline/internal/sign"
)

var signingTime = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func testBundle(t *testing.T) *sign.Bundle {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(98765),
		Subject: pkix.Name{
			CommonName:   "COMERCIAL ANDINA S.A.",
			Organization: []string{"Comercial Andina"},
		},
		NotBefore:             signingTime.Add(-24 * time.Hour),
		NotAfter:              signingTime.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &sign.Bundle{Certificate: cert, Key: key}
}

func testDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("factura")
	root.CreateAttr("id", "comprobante")
	root.CreateAttr("version", "2.0.0")

	trib := root.CreateElement("infoTributaria")
	trib.CreateElement("ambiente").SetText("1")
	trib.CreateElement("razonSocial").SetText("Comercial Andina S.A.")
	trib.CreateElement("claveAcceso").SetText("2902202401123456789000111001001000000001123456781")
	return doc
}

func newTestSigner(t *testing.T) (*sign.Signer, *sign.Bundle) {
	t.Helper()
	bundle := testBundle(t)
	return sign.NewSigner(sign.NewStaticProvider(bundle)), bundle
}

func TestSign_EnvelopesDocument(t *testing.T) {
	signer, _ := newTestSigner(t)

	signed, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))

	root := doc.Root()
	assert.Equal(t, "factura", root.Tag)

	sigElem := root.SelectElement("ds:Signature")
	require.NotNil(t, sigElem, "signature must be a direct child of the root")

	// structural pieces of the XAdES-BES profile
	assert.NotNil(t, sigElem.FindElement("ds:SignedInfo"))
	assert.NotNil(t, sigElem.FindElement("ds:SignatureValue"))
	assert.NotNil(t, sigElem.FindElement("ds:KeyInfo/ds:X509Data/ds:X509Certificate"))
	assert.NotNil(t, sigElem.FindElement("ds:Object/etsi:QualifyingProperties/etsi:SignedProperties/etsi:SignedSignatureProperties/etsi:SigningTime"))

	refs := sigElem.FindElements("ds:SignedInfo/ds:Reference")
	require.Len(t, refs, 2)
}

func TestSign_VerifyRoundTrip(t *testing.T) {
	signer, _ := newTestSigner(t)

	signed, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)

	result := sign.Verify(signed)
	assert.True(t, result.SignatureFound)
	assert.True(t, result.DocumentDigestValid)
	assert.True(t, result.PropertiesDigestValid)
	assert.True(t, result.SignatureValueValid)
	assert.True(t, result.Valid, "errors: %v", result.Errors)

	require.NotNil(t, result.SignedAt)
	assert.True(t, result.SignedAt.Equal(signingTime))
	require.NotNil(t, result.Signer)
	assert.Equal(t, "COMERCIAL ANDINA S.A.", result.Signer.Name)
	assert.Equal(t, "98765", result.Signer.SerialNumber)
}

func TestSign_ValidatesAgainstXMLDSig(t *testing.T) {
	signer, bundle := newTestSigner(t)

	signed, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)

	err = sign.ValidateWithRoots(signed, []*x509.Certificate{bundle.Certificate})
	assert.NoError(t, err)
}

func TestSign_Deterministic(t *testing.T) {
	bundle := testBundle(t)
	signer := sign.NewSigner(sign.NewStaticProvider(bundle))

	first, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)
	second, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestVerify_DetectsDocumentTampering(t *testing.T) {
	signer, _ := newTestSigner(t)

	signed, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)

	tampered := strings.Replace(string(signed), "Comercial Andina S.A.", "Otra Empresa S.A.", 1)
	require.NotEqual(t, string(signed), tampered)

	result := sign.Verify([]byte(tampered))
	assert.False(t, result.Valid)
	assert.False(t, result.DocumentDigestValid)
}

func TestVerify_DetectsSignedPropertiesTampering(t *testing.T) {
	signer, _ := newTestSigner(t)

	signed, err := signer.Sign(context.Background(), testDocument(), signingTime)
	require.NoError(t, err)

	tampered := strings.Replace(string(signed),
		signingTime.Format(time.RFC3339),
		signingTime.Add(time.Hour).Format(time.RFC3339), 1)
	require.NotEqual(t, string(signed), tampered)

	result := sign.Verify([]byte(tampered))
	assert.False(t, result.Valid)
	assert.False(t, result.PropertiesDigestValid)
}

func TestVerify_UnsignedDocument(t *testing.T) {
	raw, err := testDocument().WriteToBytes()
	require.NoError(t, err)

	result := sign.Verify(raw)
	assert.False(t, result.Valid)
	assert.False(t, result.SignatureFound)
}

func TestSign_CertificateExpired(t *testing.T) {
	signer, bundle := newTestSigner(t)

	_, err := signer.Sign(context.Background(), testDocument(), bundle.Certificate.NotAfter.Add(time.Hour))

	var certErr *model.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, model.CertReasonExpired, certErr.Reason)
}

func TestSign_CertificateNotYetValid(t *testing.T) {
	signer, bundle := newTestSigner(t)

	_, err := signer.Sign(context.Background(), testDocument(), bundle.Certificate.NotBefore.Add(-time.Hour))

	var certErr *model.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, model.CertReasonNotYetValid, certErr.Reason)
}

func TestP12Provider_MissingFile(t *testing.T) {
	provider := sign.NewP12Provider("/nonexistent/cert.p12", "secret")

	_, err := provider.Bundle()
	var certErr *model.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, model.CertReasonUnreadable, certErr.Reason)
}

func TestStaticProvider_Empty(t *testing.T) {
	provider := sign.NewStaticProvider(&sign.Bundle{})

	_, err := provider.Bundle()
	var certErr *model.CertificateError
	require.ErrorAs(t, err, &certErr)
}

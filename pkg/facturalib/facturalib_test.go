package facturalib_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturex/sri-pipeline/pkg/facturalib"
)

func TestGenerateAccessKey(t *testing.T) {
	header := facturalib.InvoiceHeader{
		EmissionDate:  time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		DocType:       facturalib.DocTypeFactura,
		IssuerRUC:     "1234567890001",
		Environment:   facturalib.EnvironmentTest,
		Establishment: "001",
		EmissionPoint: "001",
		Sequential:    "000000001",
		EmissionType:  "1",
		NumericSalt:   "12345678",
	}

	key, err := facturalib.GenerateAccessKey(header)
	require.NoError(t, err)
	assert.Len(t, key, 49)
	assert.NoError(t, facturalib.ValidateAccessKey(key))
}

func TestValidateAccessKey_Invalid(t *testing.T) {
	assert.Error(t, facturalib.ValidateAccessKey("too-short"))
}

func TestNewEmitter(t *testing.T) {
	emitter, err := facturalib.NewEmitter(facturalib.Options{
		CertificatePath:     "/tmp/firma.p12",
		CertificatePassword: "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, emitter)
}

func TestNewEmitter_WithRevocationCheck(t *testing.T) {
	emitter, err := facturalib.NewEmitter(facturalib.Options{
		CertificatePath:     "/tmp/firma.p12",
		CertificatePassword: "secret",
		CheckRevocation:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, emitter)
}

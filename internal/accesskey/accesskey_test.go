package accesskey_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturex/sri-pipeline/internal/accesskey"
	"github.com/facturex/sri-pipeline/internal/model"
)

func testHeader() model.InvoiceHeader {
	return model.InvoiceHeader{
		EmissionDate:  time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		DocType:       "01",
		IssuerRUC:     "1234567890001",
		Environment:   "1",
		Establishment: "001",
		EmissionPoint: "001",
		Sequential:    "000000001",
		EmissionType:  "1",
		NumericSalt:   "12345678",
	}
}

func TestGenerate_Length(t *testing.T) {
	key, err := accesskey.Generate(testHeader())
	require.NoError(t, err)
	assert.Len(t, key, accesskey.KeyLength)
}

func TestGenerate_Deterministic(t *testing.T) {
	h := testHeader()

	first, err := accesskey.Generate(h)
	require.NoError(t, err)
	second, err := accesskey.Generate(h)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGenerate_PayloadLayout(t *testing.T) {
	key, err := accesskey.Generate(testHeader())
	require.NoError(t, err)

	assert.Equal(t, "29022024", key[0:8], "date slot ddmmyyyy")
	assert.Equal(t, "01", key[8:10], "doc type slot")
	assert.Equal(t, "1234567890001", key[10:23], "RUC slot")
	assert.Equal(t, "1", key[23:24], "environment slot")
	assert.Equal(t, "001001000000001", key[24:39], "series + sequential slots")
	assert.Equal(t, "12345678", key[39:47], "salt slot")
	assert.Equal(t, "1", key[47:48], "emission type slot")
}

func TestGenerate_ChecksumReproduces(t *testing.T) {
	key, err := accesskey.Generate(testHeader())
	require.NoError(t, err)

	check, err := accesskey.Checksum(key[:accesskey.PayloadLength])
	require.NoError(t, err)
	assert.Equal(t, byte('0'+check), key[accesskey.KeyLength-1])
}

func TestGenerate_ShortFieldsArePadded(t *testing.T) {
	h := testHeader()
	h.Sequential = "7"
	h.Establishment = "1"
	h.EmissionPoint = "2"

	key, err := accesskey.Generate(h)
	require.NoError(t, err)
	assert.Equal(t, "001002000000007", key[24:39])
}

func TestGenerate_FieldOverflow(t *testing.T) {
	h := testHeader()
	h.Sequential = "1234567890" // 10 digits in a 9-digit slot

	_, err := accesskey.Generate(h)
	require.Error(t, err)

	var headerErr *model.HeaderError
	require.ErrorAs(t, err, &headerErr)
	assert.Equal(t, "sequential", headerErr.Field)
}

func TestGenerate_NonNumericField(t *testing.T) {
	h := testHeader()
	h.IssuerRUC = "12345678900AB"

	_, err := accesskey.Generate(h)
	var headerErr *model.HeaderError
	require.ErrorAs(t, err, &headerErr)
	assert.Equal(t, "issuer_ruc", headerErr.Field)
}

func TestGenerate_ZeroDate(t *testing.T) {
	h := testHeader()
	h.EmissionDate = time.Time{}

	_, err := accesskey.Generate(h)
	var headerErr *model.HeaderError
	require.ErrorAs(t, err, &headerErr)
	assert.Equal(t, "emission_date", headerErr.Field)
}

// Zero sequential on a leap-year February 29 is a format boundary, not a
// rejection.
func TestGenerate_LeapDayZeroSequential(t *testing.T) {
	h := testHeader()
	h.Sequential = "000000000"

	key, err := accesskey.Generate(h)
	require.NoError(t, err)
	require.NoError(t, accesskey.Validate(key))
	assert.True(t, strings.HasPrefix(key, "29022024"))
}

func TestRandomSalt_FillsSaltSlot(t *testing.T) {
	salt, err := accesskey.RandomSalt()
	require.NoError(t, err)
	require.Len(t, salt, 8)
	for i := 0; i < len(salt); i++ {
		assert.True(t, salt[i] >= '0' && salt[i] <= '9', "salt %q not numeric", salt)
	}

	h := testHeader()
	h.NumericSalt = salt
	key, err := accesskey.Generate(h)
	require.NoError(t, err)
	assert.Equal(t, salt, key[39:47])
}

func TestChecksum_KnownVectors(t *testing.T) {
	tests := []struct {
		payload string
		want    int
	}{
		// all zeros: sum=0, r=11 -> 0
		{strings.Repeat("0", 48), 0},
		// all ones: sum = 8 * (2+3+4+5+6+7) = 216, 216 mod 11 = 7, r = 4
		{strings.Repeat("1", 48), 4},
	}

	for _, tt := range tests {
		got, err := accesskey.Checksum(tt.payload)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

// Cross-check the generator against an inline recomputation of the
// published algorithm.
func TestChecksum_IndependentRecomputation(t *testing.T) {
	key, err := accesskey.Generate(testHeader())
	require.NoError(t, err)

	want := mustChecksum(t, key[:accesskey.PayloadLength])
	got, err := accesskey.Checksum(key[:accesskey.PayloadLength])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func mustChecksum(t *testing.T, payload string) int {
	t.Helper()
	// Independent recomputation with the published algorithm.
	weights := []int{2, 3, 4, 5, 6, 7}
	sum := 0
	for i := 0; i < len(payload); i++ {
		sum += int(payload[len(payload)-1-i]-'0') * weights[i%6]
	}
	r := 11 - sum%11
	if r == 11 {
		return 0
	}
	if r == 10 {
		return 1
	}
	return r
}

func TestChecksum_RejectsBadPayload(t *testing.T) {
	_, err := accesskey.Checksum("123")
	assert.Error(t, err)

	_, err = accesskey.Checksum(strings.Repeat("x", 48))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	key, err := accesskey.Generate(testHeader())
	require.NoError(t, err)
	assert.NoError(t, accesskey.Validate(key))

	assert.Error(t, accesskey.Validate(key[:48]))
	assert.Error(t, accesskey.Validate(key[:48]+"x"))
}

// Systematic single-digit perturbations across every payload position and
// digit value must flip the check digit in at least 90% of cases. Mod-11 is
// not collision free, so 100% is not expected.
func TestChecksum_MutationDetection(t *testing.T) {
	key, err := accesskey.Generate(testHeader())
	require.NoError(t, err)

	payload := key[:accesskey.PayloadLength]
	original, err := accesskey.Checksum(payload)
	require.NoError(t, err)

	total := 0
	detected := 0
	for pos := 0; pos < accesskey.PayloadLength; pos++ {
		for d := byte('0'); d <= '9'; d++ {
			if payload[pos] == d {
				continue
			}
			mutated := payload[:pos] + string(d) + payload[pos+1:]
			check, err := accesskey.Checksum(mutated)
			require.NoError(t, err)

			total++
			if check != original {
				detected++
			}
		}
	}

	ratio := float64(detected) / float64(total)
	assert.GreaterOrEqual(t, ratio, 0.9, "detected %d of %d mutations", detected, total)
}

func BenchmarkGenerate(b *testing.B) {
	h := testHeader()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := accesskey.Generate(h); err != nil {
			b.Fatal(err)
		}
	}
}

// Package accesskey builds the 49-digit clave de acceso that identifies an
// electronic document for its whole life. The key concatenates the header
// fields in the order fixed by the SRI and closes with a mod-11 check digit.
package accesskey

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/facturex/sri-pipeline/internal/model"
)

// KeyLength is the total length of a clave de acceso including check digit.
const KeyLength = 49

// PayloadLength is the length of the key without its check digit.
const PayloadLength = 48

// Fixed slot widths of the 48-digit payload, in concatenation order.
const (
	slotDate          = 8 // ddmmyyyy
	slotDocType       = 2
	slotRUC           = 13
	slotEnvironment   = 1
	slotEstablishment = 3
	slotEmissionPoint = 3
	slotSequential    = 9
	slotSalt          = 8
	slotEmissionType  = 1
)

// mod-11 weights, cycling from the rightmost payload digit leftward.
var weights = []int{2, 3, 4, 5, 6, 7}

// Generate computes the access key for a header. It is a pure function:
// the same header always yields the same key, which makes retries idempotent.
func Generate(header model.InvoiceHeader) (string, error) {
	if header.EmissionDate.IsZero() {
		return "", model.NewHeaderError("emission_date", nil, "emission date is required")
	}

	var b strings.Builder
	b.Grow(KeyLength)
	b.WriteString(header.EmissionDate.Format("02012006"))

	fields := []struct {
		name  string
		value string
		width int
	}{
		{"doc_type", header.DocType, slotDocType},
		{"issuer_ruc", header.IssuerRUC, slotRUC},
		{"environment", header.Environment, slotEnvironment},
		{"establishment", header.Establishment, slotEstablishment},
		{"emission_point", header.EmissionPoint, slotEmissionPoint},
		{"sequential", header.Sequential, slotSequential},
		{"numeric_salt", header.NumericSalt, slotSalt},
		{"emission_type", header.EmissionType, slotEmissionType},
	}

	for _, f := range fields {
		padded, err := padSlot(f.name, f.value, f.width)
		if err != nil {
			return "", err
		}
		b.WriteString(padded)
	}

	payload := b.String()
	check, err := Checksum(payload)
	if err != nil {
		return "", err
	}

	return payload + fmt.Sprintf("%d", check), nil
}

// Checksum computes the mod-11 check digit over a 48-digit payload.
// Weights cycle 2..7 from the rightmost digit; r = 11 - (sum mod 11),
// with r==11 mapping to 0 and r==10 mapping to 1.
func Checksum(payload string) (int, error) {
	if len(payload) != PayloadLength {
		return 0, model.NewHeaderError("payload", payload, fmt.Sprintf("payload must be %d digits", PayloadLength))
	}

	sum := 0
	for i := 0; i < PayloadLength; i++ {
		c := payload[PayloadLength-1-i]
		if c < '0' || c > '9' {
			return 0, model.NewHeaderError("payload", payload, "payload must be numeric")
		}
		sum += int(c-'0') * weights[i%len(weights)]
	}

	r := 11 - sum%11
	switch r {
	case 11:
		return 0, nil
	case 10:
		return 1, nil
	default:
		return r, nil
	}
}

// Validate checks that a key is 49 digits long and that its check digit
// matches a recomputation over the first 48.
func Validate(key string) error {
	if len(key) != KeyLength {
		return model.NewHeaderError("access_key", key, fmt.Sprintf("access key must be %d digits", KeyLength))
	}

	check, err := Checksum(key[:PayloadLength])
	if err != nil {
		return err
	}

	last := key[KeyLength-1]
	if last < '0' || last > '9' {
		return model.NewHeaderError("access_key", key, "access key must be numeric")
	}
	if int(last-'0') != check {
		return model.NewHeaderError("access_key", key,
			fmt.Sprintf("check digit mismatch: got %c, want %d", last, check))
	}

	return nil
}

var saltCeiling = big.NewInt(100000000)

// RandomSalt draws a random 8-digit numeric salt for headers that do not
// carry one yet. Salts only need to spread keys apart, not be secret, but
// crypto/rand avoids seeding concerns.
func RandomSalt() (string, error) {
	n, err := rand.Int(rand.Reader, saltCeiling)
	if err != nil {
		return "", fmt.Errorf("failed to draw numeric salt: %w", err)
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}

// padSlot left-pads a numeric field to its slot width and rejects values
// that are non-numeric or too long for the slot.
func padSlot(name, value string, width int) (string, error) {
	if value == "" {
		return "", model.NewHeaderError(name, value, "field is required")
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return "", model.NewHeaderError(name, value, "field must be numeric")
		}
	}
	if len(value) > width {
		return "", model.NewHeaderError(name, value, fmt.Sprintf("field overflows %d-digit slot", width))
	}
	return strings.Repeat("0", width-len(value)) + value, nil
}

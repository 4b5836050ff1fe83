package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/facturex/sri-pipeline/internal/authority"
	"github.com/facturex/sri-pipeline/internal/lifecycle"
	"github.com/facturex/sri-pipeline/internal/processor"
	"github.com/facturex/sri-pipeline/internal/sequence"
	"github.com/facturex/sri-pipeline/internal/sign"
)

// SRI web service endpoints per environment
const (
	testReceptionURL     = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	testAuthorizationURL = "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"
	prodReceptionURL     = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"
	prodAuthorizationURL = "https://cel.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"
)

var (
	version = "1.0.0"

	// Global flags
	verbose          bool
	certPath         string
	certPassword     string
	checkRevocation  bool
	production       bool
	receptionURL     string
	authorizationURL string
)

var rootCmd = &cobra.Command{
	Use:   "sri-pipeline",
	Short: "Generate, sign, and authorize Ecuador SRI electronic invoices",
	Long: `sri-pipeline drives an invoice through the full SRI emission flow:
access key generation, canonical factura XML, XAdES-BES signing, and the
reception/authorization web services.

Examples:
  # Emit an invoice and wait for authorization
  sri-pipeline emit invoice.json --cert firma.p12 --wait

  # Check authorization status for an access key
  sri-pipeline poll 2902202401123456789000111001001000000001123456781

  # Compute an access key from header fields
  sri-pipeline keygen --date 29/02/2024 --ruc 1234567890001 --sequential 1

  # Verify the signature of a signed document
  sri-pipeline verify factura-signed.xml

  # Start the HTTP API
  sri-pipeline serve --cert firma.p12 --address :8080`,
	Version: version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&certPath, "cert", "", "Path to the PKCS#12 signing certificate")
	rootCmd.PersistentFlags().StringVar(&certPassword, "cert-password", "", "Certificate password (env: SRI_CERT_PASSWORD)")
	rootCmd.PersistentFlags().BoolVar(&checkRevocation, "check-revocation", false, "Query the issuer's OCSP responder before signing")
	rootCmd.PersistentFlags().BoolVar(&production, "production", false, "Use the production SRI endpoints")
	rootCmd.PersistentFlags().StringVar(&receptionURL, "reception-url", "", "Override the reception endpoint URL")
	rootCmd.PersistentFlags().StringVar(&authorizationURL, "authorization-url", "", "Override the authorization endpoint URL")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if certPassword == "" {
		certPassword = os.Getenv("SRI_CERT_PASSWORD")
	}
	if receptionURL == "" {
		if production {
			receptionURL = prodReceptionURL
		} else {
			receptionURL = testReceptionURL
		}
	}
	if authorizationURL == "" {
		if production {
			authorizationURL = prodAuthorizationURL
		} else {
			authorizationURL = testAuthorizationURL
		}
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newGateway() *authority.Client {
	return authority.NewClient(receptionURL, authorizationURL)
}

func newPipeline() (*processor.Pipeline, error) {
	if certPath == "" {
		return nil, fmt.Errorf("a signing certificate is required (--cert)")
	}
	var signerOpts []sign.SignerOption
	if checkRevocation {
		signerOpts = append(signerOpts, sign.WithRevocationCheck(sign.NewRevocationChecker(slog.Default())))
	}
	signer := sign.NewSigner(sign.NewP12Provider(certPath, certPassword), signerOpts...)

	return processor.NewPipeline(
		signer,
		newGateway(),
		lifecycle.NewInMemoryStore(),
		processor.WithSequenceAllocator(sequence.NewMemoryAllocator()),
	), nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

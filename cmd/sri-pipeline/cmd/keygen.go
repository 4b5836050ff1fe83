package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/facturex/sri-pipeline/internal/accesskey"
	"github.com/facturex/sri-pipeline/internal/model"
)

var (
	keyDate          string
	keyDocType       string
	keyRUC           string
	keyEnvironment   string
	keyEstablishment string
	keyPoint         string
	keySequential    string
	keySalt          string
	keyEmissionType  string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [access-key]",
	Short: "Compute or validate a 49-digit access key",
	Long: `Without arguments, compute the access key for the given header
fields. With an access key argument, re-verify its length, digits, and
mod-11 check digit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keyDate, "date", "", "Emission date as dd/mm/yyyy")
	keygenCmd.Flags().StringVar(&keyDocType, "doc-type", model.DocTypeFactura, "Document type code")
	keygenCmd.Flags().StringVar(&keyRUC, "ruc", "", "Issuer RUC (13 digits)")
	keygenCmd.Flags().StringVar(&keyEnvironment, "environment", model.EnvironmentTest, "Environment: 1=test, 2=production")
	keygenCmd.Flags().StringVar(&keyEstablishment, "establishment", "001", "Establishment code")
	keygenCmd.Flags().StringVar(&keyPoint, "point", "001", "Emission point code")
	keygenCmd.Flags().StringVar(&keySequential, "sequential", "", "Sequential number")
	keygenCmd.Flags().StringVar(&keySalt, "salt", "", "8-digit numeric salt (random when omitted)")
	keygenCmd.Flags().StringVar(&keyEmissionType, "emission-type", model.EmissionNormal, "Emission type: 1=normal, 2=contingency")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := accesskey.Validate(args[0]); err != nil {
			return err
		}
		fmt.Println("valid")
		return nil
	}

	date, err := time.Parse("02/01/2006", keyDate)
	if err != nil {
		return fmt.Errorf("invalid --date, expected dd/mm/yyyy: %w", err)
	}

	if keySalt == "" {
		keySalt, err = accesskey.RandomSalt()
		if err != nil {
			return err
		}
		printVerbose("generated salt %s\n", keySalt)
	}

	header := model.InvoiceHeader{
		EmissionDate:  date,
		DocType:       keyDocType,
		IssuerRUC:     keyRUC,
		Environment:   keyEnvironment,
		Establishment: keyEstablishment,
		EmissionPoint: keyPoint,
		Sequential:    keySequential,
		EmissionType:  keyEmissionType,
		NumericSalt:   keySalt,
	}

	key, err := accesskey.Generate(header)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

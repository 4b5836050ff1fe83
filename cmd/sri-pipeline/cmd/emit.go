package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facturex/sri-pipeline/internal/model"
)

var (
	emitWait   bool
	emitOutput string
)

var emitCmd = &cobra.Command{
	Use:   "emit <invoice.json>",
	Short: "Emit an invoice through the SRI pipeline",
	Long: `Read a validated invoice from a JSON file, generate its access key,
build and sign the canonical factura XML, and submit it to the reception
endpoint. With --wait, keep polling the authorization endpoint until the
authority decides or the poll window expires.

The signed XML is written next to the input file as <name>-signed.xml
unless --output is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().BoolVar(&emitWait, "wait", false, "Poll until the authority decides")
	emitCmd.Flags().StringVarP(&emitOutput, "output", "o", "", "Path for the signed XML")
}

func runEmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("cannot read invoice: %w", err)
	}

	var inv model.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return fmt.Errorf("cannot parse invoice: %w", err)
	}

	pipeline, err := newPipeline()
	if err != nil {
		return err
	}

	result, err := pipeline.Emit(cmd.Context(), &inv)
	if err != nil {
		return err
	}
	printVerbose("submitted with access key %s\n", result.AccessKey)

	output := emitOutput
	if output == "" {
		output = args[0] + "-signed.xml"
	}
	if err := os.WriteFile(output, result.SignedXML, 0o644); err != nil {
		return fmt.Errorf("cannot write signed document: %w", err)
	}

	record := result.Record
	if emitWait {
		record, err = pipeline.AwaitAuthorization(cmd.Context(), result.AccessKey)
		var timeout *model.TimeoutError
		if errors.As(err, &timeout) {
			fmt.Fprintf(os.Stderr, "still pending: %v\n", timeout)
		} else if err != nil {
			// terminal business outcomes still carry the final record
			if record == nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}

	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

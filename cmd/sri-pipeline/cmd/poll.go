package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facturex/sri-pipeline/internal/accesskey"
)

var pollCmd = &cobra.Command{
	Use:   "poll <access-key>",
	Short: "Query authorization status for an access key",
	Long: `Perform a single query against the authorization endpoint and print
the authority's answer. Polling is stateless: the same access key can be
queried any number of times without side effects.`,
	Args: cobra.ExactArgs(1),
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := accesskey.Validate(key); err != nil {
		return err
	}

	result, err := newGateway().PollAuthorization(cmd.Context(), key)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

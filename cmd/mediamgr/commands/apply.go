package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/mediamgr"
)

var applyFile string

var applyCmd = &cobra.Command{
	Use:   "apply -f <file>",
	Short: "Create or update documents from YAML",
	Long: `Apply one or more documents from a YAML file. Use '-' to read from stdin.
Multi-document YAML (--- separated) is supported. Each document names its
collection; a document whose _key already exists is merged into the stored
one, anything else is created. Documents are validated before writing and
applying stops at the first failure.

Example:
  ---
  collection: cast
  _key: "1000"
  name: Ada
  refs: []
  ---
  collection: appears_in
  _from: cast/1000
  _to: media/2000
  first_seen: "00:01:10"
  last_seen: "00:02:00"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if applyFile == "" {
			return fmt.Errorf("flag -f is required")
		}
		var (
			data []byte
			err  error
		)
		if applyFile == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(applyFile)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", applyFile, err)
		}
		docs, err := mediamgr.ParseDocuments(data)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no documents found in %s", applyFile)
		}

		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()

		results, applyErr := m.Apply(cmd.Context(), docs)
		if formatOutput == "json" || formatOutput == "table" || jqExpr != "" {
			if err := printOutput(cmd, results); err != nil {
				return err
			}
		} else {
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", r.ID, r.Status)
			}
		}
		return applyErr
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "YAML file to apply (use '-' for stdin)")
	rootCmd.AddCommand(applyCmd)
}

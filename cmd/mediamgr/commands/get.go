package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/docstore"
)

var getCmd = &cobra.Command{
	Use:   "get <collection> <key> | get <collection/key>",
	Short: "Show one document",
	Long: `Show a single document by collection and key, or by full id.

Examples:
  mediamgr get cast 1000
  mediamgr get media/9e107d9d372bb6826bd81d3542a419d6 -o json
  mediamgr get media 9e107d9d372bb6826bd81d3542a419d6 --jq .metadata.mimetype`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var coll, key string
		if len(args) == 2 {
			coll, key = args[0], args[1]
		} else {
			var ok bool
			coll, key, ok = docstore.SplitID(args[0])
			if !ok {
				return fmt.Errorf("%q is not a document id; use 'get <collection> <key>'", args[0])
			}
		}

		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()

		if !m.Registry().Has(coll) {
			return fmt.Errorf("%w: %s", docstore.ErrUnknownCollection, coll)
		}
		doc, err := m.Store().Collection(coll).Get(cmd.Context(), key)
		if err != nil {
			return err
		}
		return printOutput(cmd, doc)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}

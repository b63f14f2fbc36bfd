package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var queryVars []string

// parseVars turns name=value pairs into query variables.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--var %q: want name=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

var queryCmd = &cobra.Command{
	Use:   "query <name>",
	Short: "Run a named graph query",
	Long: `Run a named traversal from the query catalog and print the vertex
documents it reaches.

Queries:
  cast_by_media        --var media_id=<media id>   cast appearing in a media item
  media_by_cast        --var cast_id=<cast id>     media a performer appears in
  faces_matching_face  --var face_id=<face id>     faces matched with a face

Examples:
  mediamgr query media_by_cast --var cast_id=cast/1000
  mediamgr query cast_by_media --var media_id=media/2000 -o table
  mediamgr query list`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vars, err := parseVars(queryVars)
		if err != nil {
			return err
		}
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()

		docs, err := collect(m.Executor().Execute(cmd.Context(), args[0], vars))
		if err != nil {
			return err
		}
		return printOutput(cmd, docs)
	},
}

type queryInfo struct {
	Name      string   `json:"name" yaml:"name"`
	Graph     string   `json:"graph" yaml:"graph"`
	Direction string   `json:"direction" yaml:"direction"`
	MinDepth  int      `json:"min_depth" yaml:"min_depth"`
	MaxDepth  int      `json:"max_depth" yaml:"max_depth"`
	Vars      []string `json:"vars" yaml:"vars"`
}

var queryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the query catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()

		cat := m.Executor().Catalog()
		var out []queryInfo
		for _, name := range cat.Names() {
			d, _ := cat.Lookup(name)
			out = append(out, queryInfo{
				Name:      d.Name,
				Graph:     d.Graph,
				Direction: d.Direction.String(),
				MinDepth:  d.MinDepth,
				MaxDepth:  d.MaxDepth,
				Vars:      d.Vars,
			})
		}
		return printOutput(cmd, out)
	},
}

func init() {
	queryCmd.Flags().StringArrayVar(&queryVars, "var", nil, "query variable as name=value (repeatable)")
	queryCmd.AddCommand(queryListCmd)
	rootCmd.AddCommand(queryCmd)
}

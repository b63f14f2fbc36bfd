package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/cli"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create collections, indexes and graphs",
	Long: `Create every collection, index and graph of the schema registry that
does not exist yet. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()
		if err := m.Provision(cmd.Context()); err != nil {
			return err
		}
		reg := m.Registry()
		cli.PrintSuccess(cmd.OutOrStdout(), "provisioned %d collections, %d graphs", len(reg.Names()), len(reg.Graphs()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}

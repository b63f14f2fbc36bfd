package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/cli"
	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/mediamgr"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	contextName  string
	formatOutput string
	jqExpr       string
)

// testStore replaces the configured store in tests.
var testStore docstore.Store

var rootCmd = &cobra.Command{
	Use:   "mediamgr",
	Short: "Manage cast, media and faces in a document graph",
	Long: `mediamgr - register media, the cast appearing in it and the faces
detected in it, and query the graph connecting them.

Configuration is stored in ~/.mediamgr/config.yaml as named contexts, each
selecting a store backend (memory, badger, redis, sqlite, neo4j). Without
any context, a badger store under ~/.mediamgr/data/default is used.

Examples:
  # Create a context and provision it
  mediamgr config add-context local --backend badger --badger-dir ~/media-db
  mediamgr provision

  # Register a directory of images
  mediamgr ingest --source-dir ~/Pictures/inbox

  # Walk the graph
  mediamgr query media_by_cast --var cast_id=cast/1000 -o table`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. An interrupt cancels the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&configPath, "config", "", "config file (default ~/.mediamgr/config.yaml)")
	pf.StringVarP(&contextName, "context", "c", "", "context to use (default: current context)")
	pf.StringVarP(&formatOutput, "format", "o", "yaml", "output format: yaml, json, table")
	pf.StringVar(&jqExpr, "jq", "", "jq expression applied to the output")
}

func loadConfig() (*cli.Config, error) {
	return cli.LoadConfig(configPath)
}

func logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// resolveContext returns the context selected by --context or the config.
func resolveContext() (*cli.Context, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Resolve(contextName)
}

// openManager opens the selected store. The returned func closes it.
func openManager(cmd *cobra.Command) (*mediamgr.Manager, func(), error) {
	c, err := resolveContext()
	if err != nil {
		return nil, nil, err
	}
	reg, err := cli.OpenRegistry(c)
	if err != nil {
		return nil, nil, err
	}
	log := logger(cmd)

	store := testStore
	closeFn := func() {}
	if store == nil {
		s, err := cli.OpenStore(cmd.Context(), c, log)
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFn = func() {
			if err := s.Close(); err != nil {
				log.Warn("close store", "err", err)
			}
		}
	}
	log.Debug("store opened", "context", c.Name, "backend", c.Backend, "database", c.Database)
	return mediamgr.New(store, mediamgr.WithRegistry(reg), mediamgr.WithLogger(log)), closeFn, nil
}

func printOutput(cmd *cobra.Command, v any) error {
	return cli.Output(v, cli.OutputOptions{
		Format: cli.OutputFormat(formatOutput),
		JQ:     jqExpr,
		Writer: cmd.OutOrStdout(),
	})
}

func collect(cur *docstore.Cursor, err error) ([]docstore.Document, error) {
	if err != nil {
		return nil, err
	}
	docs, err := cur.Collect()
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return docs, nil
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/cli"
	"github.com/haivivi/mediamgr/pkg/storage"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage store contexts",
	Long: `Manage named contexts. Each context selects a store backend and its
connection settings, plus optional ingest source and library locations.

MEDIAMGR_BACKEND, MEDIAMGR_DATABASE, MEDIAMGR_SCHEMA, MEDIAMGR_BADGER_DIR,
MEDIAMGR_REDIS_ADDR, MEDIAMGR_REDIS_PASSWORD, MEDIAMGR_REDIS_DB,
MEDIAMGR_SQLITE_PATH, MEDIAMGR_NEO4J_URI, MEDIAMGR_NEO4J_USER,
MEDIAMGR_NEO4J_PASSWORD and MEDIAMGR_NEO4J_DATABASE override the resolved
context.`,
}

var addCtx struct {
	backend  string
	database string
	schema   string

	badgerDir string

	redisAddr     string
	redisPassword string
	redisDB       int

	sqlitePath string

	neo4jURI      string
	neo4jUser     string
	neo4jPassword string
	neo4jDatabase string

	sourceDir  string
	libraryDir string
	s3         storage.S3Config
}

var addContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add or replace a context",
	Long: `Add or replace a context. The first context added becomes current.

Examples:
  mediamgr config add-context local --backend badger --badger-dir ~/media-db
  mediamgr config add-context graph --backend neo4j --neo4j-uri neo4j://localhost:7687 \
      --neo4j-password secret
  mediamgr config add-context cloud --backend redis --redis-addr localhost:6379 \
      --s3-bucket media --s3-prefix inbox --s3-endpoint http://localhost:9000 --s3-path-style`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c := &cli.Context{
			Backend:  cli.Backend(addCtx.backend),
			Database: addCtx.database,
			Schema:   addCtx.schema,
		}
		switch c.Backend {
		case cli.BackendBadger:
			c.Badger = &cli.BadgerConfig{Dir: addCtx.badgerDir}
		case cli.BackendRedis:
			c.Redis = &cli.RedisConfig{Addr: addCtx.redisAddr, Password: addCtx.redisPassword, DB: addCtx.redisDB}
		case cli.BackendSQLite:
			c.SQLite = &cli.SQLiteConfig{Path: addCtx.sqlitePath}
		case cli.BackendNeo4j:
			c.Neo4j = &cli.Neo4jConfig{
				URI:      addCtx.neo4jURI,
				Username: addCtx.neo4jUser,
				Password: addCtx.neo4jPassword,
				Database: addCtx.neo4jDatabase,
			}
		}
		switch {
		case addCtx.sourceDir != "" && addCtx.s3.Bucket != "":
			return fmt.Errorf("--source-dir and --s3-bucket are mutually exclusive")
		case addCtx.sourceDir != "":
			c.Source = &cli.FileStoreConfig{Dir: addCtx.sourceDir}
		case addCtx.s3.Bucket != "":
			s3 := addCtx.s3
			c.Source = &cli.FileStoreConfig{S3: &s3}
		}
		if addCtx.libraryDir != "" {
			c.Library = &cli.FileStoreConfig{Dir: addCtx.libraryDir}
		}

		if err := cfg.AddContext(args[0], c); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "context %q saved to %s", args[0], cfg.Path())
		return nil
	},
}

var useContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "switched to context %q", args[0])
		return nil
	},
}

var deleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "deleted context %q", args[0])
		return nil
	},
}

type contextRow struct {
	Current bool        `json:"current" yaml:"current"`
	Name    string      `json:"name" yaml:"name"`
	Backend cli.Backend `json:"backend" yaml:"backend"`
}

var getContextsCmd = &cobra.Command{
	Use:   "get-contexts",
	Short: "List contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rows := []contextRow{}
		for _, name := range cfg.ListContexts() {
			rows = append(rows, contextRow{
				Current: name == cfg.CurrentContext,
				Name:    name,
				Backend: cfg.Contexts[name].Backend,
			})
		}
		if len(rows) == 0 && formatOutput == string(cli.FormatTable) {
			fmt.Fprintln(cmd.OutOrStdout(), cli.Hint("no contexts; add one with 'mediamgr config add-context'"))
			return nil
		}
		return printOutput(cmd, rows)
	},
}

var currentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Print the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			return fmt.Errorf("no current context set")
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.CurrentContext)
		return nil
	},
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the resolved context with secrets masked",
	Long: `Show the context selected by --context (or the current one) after
environment overrides, with passwords and secret keys masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolveContext()
		if err != nil {
			return err
		}
		return printOutput(cmd, c.Masked())
	},
}

func init() {
	f := addContextCmd.Flags()
	f.StringVar(&addCtx.backend, "backend", string(cli.BackendBadger), "store backend: memory, badger, redis, sqlite, neo4j")
	f.StringVar(&addCtx.database, "database", "", "document database name (default mediamgr)")
	f.StringVar(&addCtx.schema, "schema", "", "registry file replacing the built-in schema")
	f.StringVar(&addCtx.badgerDir, "badger-dir", "", "badger data directory")
	f.StringVar(&addCtx.redisAddr, "redis-addr", "", "redis host:port")
	f.StringVar(&addCtx.redisPassword, "redis-password", "", "redis password")
	f.IntVar(&addCtx.redisDB, "redis-db", 0, "redis database number")
	f.StringVar(&addCtx.sqlitePath, "sqlite-path", "", "sqlite database file")
	f.StringVar(&addCtx.neo4jURI, "neo4j-uri", "", "neo4j URI, e.g. neo4j://localhost:7687")
	f.StringVar(&addCtx.neo4jUser, "neo4j-user", "", "neo4j user (default neo4j)")
	f.StringVar(&addCtx.neo4jPassword, "neo4j-password", "", "neo4j password")
	f.StringVar(&addCtx.neo4jDatabase, "neo4j-database", "", "neo4j database (default: server default)")
	f.StringVar(&addCtx.sourceDir, "source-dir", "", "ingest source directory")
	f.StringVar(&addCtx.libraryDir, "library-dir", "", "directory ingest archives files into")
	f.StringVar(&addCtx.s3.Bucket, "s3-bucket", "", "ingest source S3 bucket")
	f.StringVar(&addCtx.s3.Prefix, "s3-prefix", "", "key prefix inside the bucket")
	f.StringVar(&addCtx.s3.Region, "s3-region", "", "S3 region (default us-east-1)")
	f.StringVar(&addCtx.s3.Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL")
	f.StringVar(&addCtx.s3.AccessKeyID, "s3-access-key", "", "S3 access key id")
	f.StringVar(&addCtx.s3.SecretAccessKey, "s3-secret-key", "", "S3 secret access key")
	f.BoolVar(&addCtx.s3.PathStyle, "s3-path-style", false, "use path-style bucket addressing")

	configCmd.AddCommand(addContextCmd, useContextCmd, deleteContextCmd, getContextsCmd, currentContextCmd, viewCmd)
	rootCmd.AddCommand(configCmd)
}

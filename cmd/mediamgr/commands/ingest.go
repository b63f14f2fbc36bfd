package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/cli"
	"github.com/haivivi/mediamgr/pkg/ingest"
	"github.com/haivivi/mediamgr/pkg/storage"
)

var ingestFlags struct {
	sourceDir   string
	libraryDir  string
	prefix      string
	move        bool
	concurrency int
	results     bool
}

type ingestRow struct {
	Path   string        `json:"path" yaml:"path"`
	Status ingest.Status `json:"status" yaml:"status"`
	Key    string        `json:"key,omitempty" yaml:"key,omitempty"`
	ID     string        `json:"id,omitempty" yaml:"id,omitempty"`
	Size   string        `json:"size,omitempty" yaml:"size,omitempty"`
	Error  string        `json:"error,omitempty" yaml:"error,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Register media files from a directory or S3 prefix",
	Long: `Hash and inspect every file under the source, registering each supported
image as a media document keyed by its MD5. Files already registered are
reported as existing. Unsupported files are skipped.

The source defaults to the context's source location (a directory or an
S3 bucket). With a library, each file is copied to <library>/<md5><ext>
and its path recorded as library_path; --move removes the source file
once it is registered.

Examples:
  mediamgr ingest --source-dir ~/Pictures/inbox
  mediamgr ingest --prefix 2024/06 --library-dir ~/media-library --move
  mediamgr ingest --results -o table`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolveContext()
		if err != nil {
			return err
		}
		srcCfg := c.Source
		if ingestFlags.sourceDir != "" {
			srcCfg = &cli.FileStoreConfig{Dir: ingestFlags.sourceDir}
		}
		src, err := cli.OpenFileStore(srcCfg)
		if err != nil {
			if errors.Is(err, cli.ErrNoFileStore) {
				return fmt.Errorf("no ingest source: pass --source-dir or configure one on the context")
			}
			return err
		}

		log := logger(cmd)
		opts := []ingest.Option{
			ingest.WithConcurrency(ingestFlags.concurrency),
			ingest.WithPrefix(ingestFlags.prefix),
			ingest.WithLogger(log),
		}
		libCfg := c.Library
		if ingestFlags.libraryDir != "" {
			libCfg = &cli.FileStoreConfig{Dir: ingestFlags.libraryDir}
		}
		var lib storage.FileStore
		switch lib, err = cli.OpenFileStore(libCfg); {
		case err == nil:
			opts = append(opts, ingest.WithLibrary(lib, ingestFlags.move))
		case errors.Is(err, cli.ErrNoFileStore):
			if ingestFlags.move {
				return fmt.Errorf("--move requires a library")
			}
		default:
			return err
		}

		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()

		report, err := ingest.New(m, src, opts...).Run(cmd.Context())
		if err != nil {
			return err
		}

		if ingestFlags.results || jqExpr != "" {
			rows := make([]ingestRow, 0, len(report.Results))
			for _, r := range report.Results {
				row := ingestRow{Path: r.Path, Status: r.Status, Key: r.Key, ID: r.ID}
				if r.Bytes > 0 {
					row.Size = cli.FormatBytes(r.Bytes)
				}
				if r.Err != nil {
					row.Error = r.Err.Error()
				}
				rows = append(rows, row)
			}
			if err := printOutput(cmd, rows); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			for _, r := range report.Results {
				if r.Status == ingest.StatusFailed {
					cli.PrintWarning(out, "%s: %v", r.Path, r.Err)
				}
			}
			cli.PrintSuccess(out, "%d added (%s), %d existing, %d unsupported, %d failed",
				report.Count(ingest.StatusAdded),
				cli.FormatBytes(report.Bytes(ingest.StatusAdded)),
				report.Count(ingest.StatusExisting),
				report.Count(ingest.StatusUnsupported),
				report.Count(ingest.StatusFailed),
			)
		}
		return report.Err()
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.sourceDir, "source-dir", "", "source directory (default: the context's source)")
	f.StringVar(&ingestFlags.libraryDir, "library-dir", "", "library directory (default: the context's library)")
	f.StringVar(&ingestFlags.prefix, "prefix", "", "only ingest files under this path prefix")
	f.BoolVar(&ingestFlags.move, "move", false, "delete source files once archived and registered")
	f.IntVar(&ingestFlags.concurrency, "concurrency", 4, "files processed in parallel")
	f.BoolVar(&ingestFlags.results, "results", false, "print one row per file instead of a summary")
	rootCmd.AddCommand(ingestCmd)
}

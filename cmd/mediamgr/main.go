// Package main is the entry point for the mediamgr CLI.
//
// Usage:
//
//	mediamgr [flags] <command> [args]
//
// Commands:
//
//	config     - Store contexts (add, use, delete, list, view)
//	provision  - Create collections, indexes and graphs
//	ingest     - Register media files from a directory or S3 prefix
//	apply      - Create or update documents from YAML
//	get        - Show one document
//	query      - Run a named graph query
//	faces      - Add faces and list matching faces
//	link       - Create appears_in and face_matches_face edges
//	version    - Show version information
package main

import (
	"os"

	"github.com/haivivi/mediamgr/cmd/mediamgr/commands"
	"github.com/haivivi/mediamgr/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}

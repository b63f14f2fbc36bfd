package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/mediamgr"
)

// idFor accepts a full id or a bare key of collection.
func idFor(collection, s string) string {
	if strings.Contains(s, "/") {
		return s
	}
	return docstore.JoinID(collection, s)
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Create edges between existing documents",
}

var linkSeen struct {
	first string
	last  string
}

var linkAppearsInCmd = &cobra.Command{
	Use:   "appears-in <cast> <media>",
	Short: "Record that a performer appears in a media item",
	Long: `Create an appears_in edge from a cast document to a media document.
Both accept a full id (cast/1000) or a bare key (1000).

Example:
  mediamgr link appears-in 1000 2000 --first-seen 00:01:10 --last-seen 00:02:00`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()
		meta, err := m.LinkAppearsIn(cmd.Context(),
			idFor(mediamgr.CollCast, args[0]),
			idFor(mediamgr.CollMedia, args[1]),
			mediamgr.WithSeen(linkSeen.first, linkSeen.last),
		)
		if err != nil {
			return err
		}
		return printOutput(cmd, meta)
	},
}

var linkConfidence string

var linkFacesCmd = &cobra.Command{
	Use:   "faces <face> <face>",
	Short: "Record that two faces match",
	Long: `Create a face_matches_face edge between two face documents. Matching is
symmetric for queries; one edge is stored.

Example:
  mediamgr link faces 3000 3010 --confidence 0.93`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()
		meta, err := m.LinkFaces(cmd.Context(),
			idFor(mediamgr.CollFaces, args[0]),
			idFor(mediamgr.CollFaces, args[1]),
			mediamgr.WithConfidence(linkConfidence),
		)
		if err != nil {
			return err
		}
		return printOutput(cmd, meta)
	},
}

func init() {
	linkAppearsInCmd.Flags().StringVar(&linkSeen.first, "first-seen", "", "first appearance (required)")
	linkAppearsInCmd.Flags().StringVar(&linkSeen.last, "last-seen", "", "last appearance (required)")
	linkFacesCmd.Flags().StringVar(&linkConfidence, "confidence", "", "match confidence (required)")
	linkAppearsInCmd.MarkFlagRequired("first-seen")
	linkAppearsInCmd.MarkFlagRequired("last-seen")
	linkFacesCmd.MarkFlagRequired("confidence")
	linkCmd.AddCommand(linkAppearsInCmd, linkFacesCmd)
	rootCmd.AddCommand(linkCmd)
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/mediamgr"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Add faces and list faces by cast, media or match",
}

var faceAdd struct {
	identifier string
	media      string
	cast       string
}

type faceAdded struct {
	ID      string `json:"_id" yaml:"_id"`
	Created bool   `json:"created" yaml:"created"`
}

var facesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a detected face",
	Long: `Register a face detected in a media item and attributed to a performer.
The face key is derived from the identifier, so adding the same identifier
twice reports the existing face instead of creating a second one.

Example:
  mediamgr faces add --identifier 'enc:1f3a...' --media 2000 --cast 1000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()
		id, created, err := m.AddFace(cmd.Context(), faceAdd.identifier,
			idFor(mediamgr.CollMedia, faceAdd.media),
			idFor(mediamgr.CollCast, faceAdd.cast),
		)
		if err != nil {
			return err
		}
		return printOutput(cmd, faceAdded{ID: id, Created: created})
	},
}

var facesList struct {
	cast  string
	media string
}

var facesListCmd = &cobra.Command{
	Use:   "list --cast <cast> | --media <media>",
	Short: "List the faces of a performer or of a media item",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (facesList.cast == "") == (facesList.media == "") {
			return fmt.Errorf("exactly one of --cast or --media is required")
		}
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()

		var (
			cur *docstore.Cursor
			ctx = cmd.Context()
		)
		if facesList.cast != "" {
			var c *mediamgr.Cast
			if c, err = m.LoadCast(ctx, idFor(mediamgr.CollCast, facesList.cast)); err == nil {
				cur, err = c.Faces(ctx)
			}
		} else {
			var md *mediamgr.Media
			if md, err = m.LoadMedia(ctx, idFor(mediamgr.CollMedia, facesList.media)); err == nil {
				cur, err = md.Faces(ctx)
			}
		}
		docs, err := collect(cur, err)
		if err != nil {
			return err
		}
		return printOutput(cmd, docs)
	},
}

var facesMatchingCmd = &cobra.Command{
	Use:   "matching <face>",
	Short: "List faces matched with a face, in either direction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, done, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer done()
		f, err := m.LoadFace(cmd.Context(), idFor(mediamgr.CollFaces, args[0]))
		if err != nil {
			return err
		}
		docs, err := collect(f.MatchingFaces(cmd.Context()))
		if err != nil {
			return err
		}
		return printOutput(cmd, docs)
	},
}

func init() {
	fa := facesAddCmd.Flags()
	fa.StringVar(&faceAdd.identifier, "identifier", "", "face identifier (required)")
	fa.StringVar(&faceAdd.media, "media", "", "media id or key (required)")
	fa.StringVar(&faceAdd.cast, "cast", "", "cast id or key (required)")
	facesAddCmd.MarkFlagRequired("identifier")
	facesAddCmd.MarkFlagRequired("media")
	facesAddCmd.MarkFlagRequired("cast")

	facesListCmd.Flags().StringVar(&facesList.cast, "cast", "", "cast id or key")
	facesListCmd.Flags().StringVar(&facesList.media, "media", "", "media id or key")

	facesCmd.AddCommand(facesAddCmd, facesListCmd, facesMatchingCmd)
	rootCmd.AddCommand(facesCmd)
}

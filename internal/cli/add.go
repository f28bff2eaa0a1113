package cli

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/assetdb/internal/app"
	"github.com/roach88/assetdb/internal/asset"
	"github.com/roach88/assetdb/internal/objstore"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Store     string
	MediaType string
}

// AddResult is the output of the add command.
type AddResult struct {
	Store     string `json:"store"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MediaType string `json:"type"`
	Outcome   string `json:"outcome"`
}

func (r AddResult) String() string {
	if r.Outcome == asset.AlreadyPresent.String() {
		return fmt.Sprintf("%s already present in %s", r.Name, r.Store)
	}
	return fmt.Sprintf("stored %s in %s (%s, %s)", r.Name, r.Store, humanize.Bytes(uint64(r.Size)), r.MediaType)
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Store one file",
		Long: `Store a single file in one of the asset stores.

The record is identified by file name, modification time, size and media
type. Adding the same file twice is not an error; the second call reports
that the asset is already present.

Examples:
  assetdb add theme.css
  assetdb add --store buttons ok.png
  assetdb add --store backgrounds --type image/webp sky.bin`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", asset.Styles, "target store (buttons|backgrounds|styles)")
	cmd.Flags().StringVar(&opts.MediaType, "type", "", "media type (default: from extension or content)")

	return cmd
}

func runAdd(opts *AddOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sess, err := opts.newSession(cmd)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	rec, err := readRecord(path, opts.MediaType)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeFile, "failed to read file", err)
	}
	formatter.VerboseLog("Adding %s (%s, %d bytes) to %s", rec.Name, rec.MediaType, rec.Size, opts.Store)

	var (
		result AddResult
		failed error
	)
	runErr := sess.drive(cmd.Context(), false, func(c *app.Controller, msg app.Message) bool {
		switch m := msg.(type) {
		case app.DatabaseReady:
			c.Send(app.StoreRequest{Store: opts.Store, Record: rec})
			return false
		case app.OpenFailed:
			failed = fail(formatter, ExitCommandError, ErrCodeOpenFailed, "failed to open database", m.Err)
		case app.StoreFailed:
			code := ExitFailure
			if objstore.IsUnknownStore(m.Err) {
				code = ExitCommandError
			}
			failed = fail(formatter, code, ErrCodeStoreFailed, "failed to store asset", m.Err)
		case app.Stored:
			result = newAddResult(m.Store, rec, asset.Stored)
		case app.AlreadyPresent:
			result = newAddResult(m.Store, rec, asset.AlreadyPresent)
		}
		return true
	})
	if failed != nil {
		return failed
	}
	if runErr != nil {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "interrupted", runErr)
	}
	return formatter.Success(result)
}

func newAddResult(storeName string, rec asset.Record, outcome asset.Outcome) AddResult {
	return AddResult{
		Store:     storeName,
		Name:      rec.Name,
		Size:      rec.Size,
		MediaType: rec.MediaType,
		Outcome:   outcome.String(),
	}
}

// readRecord builds a record from the file at path. An empty mediaType is
// derived from the extension, then from the content.
func readRecord(path, mediaType string) (asset.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return asset.Record{}, err
	}
	if info.IsDir() {
		return asset.Record{}, fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return asset.Record{}, err
	}
	name := filepath.Base(path)
	if mediaType == "" {
		mediaType = detectMediaType(name, data)
	}
	return asset.NewRecord(name, info.ModTime(), mediaType, data), nil
}

// detectMediaType returns the bare media type (no parameters) for a file.
func detectMediaType(name string, data []byte) string {
	mt := mime.TypeByExtension(filepath.Ext(name))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

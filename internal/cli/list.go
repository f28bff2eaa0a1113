package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/assetdb/internal/app"
	"github.com/roach88/assetdb/internal/asset"
)

// ListEntry is one asset in list output. Binary assets carry a reference;
// styles carry their decoded text.
type ListEntry struct {
	Ref       string `json:"ref,omitempty"`
	MediaType string `json:"type,omitempty"`
	Size      int64  `json:"size"`
	Text      string `json:"text,omitempty"`
}

// ListResult is the output of the list command.
type ListResult struct {
	Database    string      `json:"database"`
	Buttons     []ListEntry `json:"buttons"`
	Backgrounds []ListEntry `json:"backgrounds"`
	Styles      []ListEntry `json:"styles"`
}

func (r ListResult) String() string {
	var b strings.Builder
	section := func(name string, entries []ListEntry) {
		fmt.Fprintf(&b, "%s (%d)\n", name, len(entries))
		for _, e := range entries {
			if e.Ref != "" {
				fmt.Fprintf(&b, "  %s  %s  %s\n", e.Ref, e.MediaType, humanize.Bytes(uint64(e.Size)))
				continue
			}
			fmt.Fprintf(&b, "  %s  %s\n", humanize.Bytes(uint64(e.Size)), firstLine(e.Text))
		}
	}
	section(asset.Buttons, r.Buttons)
	section(asset.Backgrounds, r.Backgrounds)
	section(asset.Styles, r.Styles)
	return strings.TrimSuffix(b.String(), "\n")
}

func firstLine(s string) string {
	line, _, cut := strings.Cut(s, "\n")
	if cut {
		return line + " ..."
	}
	return line
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Read every stored asset",
		Long: `Read all stores in one transaction and print what a client would get:
a blob reference per image and the decoded text of every style sheet.

Records that cannot be converted are skipped and logged to stderr.

Examples:
  assetdb list
  assetdb list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sess, err := opts.newSession(cmd)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	var (
		result ListResult
		failed error
	)
	runErr := sess.drive(cmd.Context(), true, func(_ *app.Controller, msg app.Message) bool {
		switch m := msg.(type) {
		case app.DatabaseReady:
			result.Database = m.Name
			return false
		case app.OpenFailed:
			failed = fail(formatter, ExitCommandError, ErrCodeOpenFailed, "failed to open database", m.Err)
		case app.ReadFailed:
			failed = fail(formatter, ExitFailure, ErrCodeReadFailed, "failed to read assets", m.Err)
		case app.AssetsReady:
			// The controller releases the bundle on shutdown, so resolve now.
			result.Buttons = sess.entries(m.Bundle.Buttons)
			result.Backgrounds = sess.entries(m.Bundle.Backgrounds)
			result.Styles = make([]ListEntry, len(m.Bundle.Styles))
			for i, text := range m.Bundle.Styles {
				result.Styles[i] = ListEntry{Size: int64(len(text)), Text: text}
			}
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

func (s *session) entries(refs []asset.Reference) []ListEntry {
	out := make([]ListEntry, 0, len(refs))
	for _, ref := range refs {
		payload, mediaType, ok := s.refs.Resolve(ref.URL)
		if !ok {
			continue
		}
		out = append(out, ListEntry{Ref: ref.URL, MediaType: mediaType, Size: int64(len(payload))})
	}
	return out
}

package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/assetdb/internal/asset"
)

// Style builds a text/css record whose payload is body.
func Style(name string, lastModified int64, body string) asset.Record {
	return asset.Record{
		Name:         name,
		LastModified: lastModified,
		Size:         int64(len(body)),
		MediaType:    "text/css",
		Payload:      []byte(body),
	}
}

// Image builds an image/png record with a placeholder payload.
func Image(name string, lastModified int64) asset.Record {
	payload := append([]byte("\x89PNG\r\n\x1a\n"), name...)
	return asset.Record{
		Name:         name,
		LastModified: lastModified,
		Size:         int64(len(payload)),
		MediaType:    "image/png",
		Payload:      payload,
	}
}

// WriteFile creates dir/name with body and sets its modification time.
// It returns the full path.
func WriteFile(t *testing.T, dir, name, body string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

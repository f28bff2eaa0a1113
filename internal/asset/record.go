package asset

import (
	"time"

	"github.com/roach88/assetdb/internal/objstore"
)

// Record is a file to be stored: a blob plus the metadata the unique index covers.
type Record struct {
	Name         string
	LastModified int64 // milliseconds since the Unix epoch
	Size         int64
	MediaType    string
	Payload      []byte
}

// NewRecord builds a record from file contents. Size is the payload length.
func NewRecord(name string, modTime time.Time, mediaType string, payload []byte) Record {
	return Record{
		Name:         name,
		LastModified: modTime.UnixMilli(),
		Size:         int64(len(payload)),
		MediaType:    mediaType,
		Payload:      payload,
	}
}

func (r Record) raw() objstore.RawRecord {
	size := r.Size
	if size == 0 {
		size = int64(len(r.Payload))
	}
	return objstore.RawRecord{
		Name:         r.Name,
		LastModified: r.LastModified,
		Size:         size,
		MediaType:    r.MediaType,
		Kind:         objstore.KindBlob,
		Payload:      r.Payload,
	}
}

package asset

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/roach88/assetdb/internal/objstore"
)

// ConversionErrorKind classifies why a stored record could not be converted.
type ConversionErrorKind string

const (
	// NotBinary means the stored value is not a blob.
	NotBinary ConversionErrorKind = "NOT_BINARY"

	// ReferenceCreationFailed means no reference could be issued for the blob.
	ReferenceCreationFailed ConversionErrorKind = "REFERENCE_CREATION_FAILED"

	// NotText means the blob does not decode as text.
	NotText ConversionErrorKind = "NOT_TEXT"
)

// ConversionError describes one record dropped from a read.
type ConversionError struct {
	Kind  ConversionErrorKind
	Store string
	Key   int64
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %s record %d: %v", e.Kind, e.Store, e.Key, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// IsConversionError reports whether err is a ConversionError of the given kind.
func IsConversionError(err error, kind ConversionErrorKind) bool {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

func toReference(refs *References, store string, rec objstore.RawRecord) (Reference, error) {
	if rec.Kind != objstore.KindBlob {
		return Reference{}, &ConversionError{Kind: NotBinary, Store: store, Key: rec.Key,
			Err: fmt.Errorf("stored value is a %s", rec.Kind)}
	}
	ref, err := refs.Create(rec.Payload, rec.MediaType)
	if err != nil {
		return Reference{}, &ConversionError{Kind: ReferenceCreationFailed, Store: store, Key: rec.Key, Err: err}
	}
	return ref, nil
}

func toText(store string, rec objstore.RawRecord) (string, error) {
	if rec.Kind != objstore.KindBlob {
		return "", &ConversionError{Kind: NotBinary, Store: store, Key: rec.Key,
			Err: fmt.Errorf("stored value is a %s", rec.Kind)}
	}
	text, err := DecodeText(rec.Payload)
	if err != nil {
		return "", &ConversionError{Kind: NotText, Store: store, Key: rec.Key, Err: err}
	}
	return text, nil
}

// DecodeText decodes a style payload. A UTF-8 BOM is stripped and UTF-16
// payloads with a BOM are transcoded; anything else must already be UTF-8.
// The text is otherwise returned as stored.
func DecodeText(payload []byte) (string, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), payload)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("payload is not valid UTF-8")
	}
	return string(decoded), nil
}

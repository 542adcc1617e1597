// Package artifact stores the blobs a podcast task produces: audio
// segments, the stitched episode, and the intermediate text documents
// (analyses, research, outline, dialogue, transcript, metadata).
//
// Two backends implement Store — S3 for deployments and the local
// filesystem for dev runs — behind one key layout, so the pipeline never
// branches on where a blob lives. Keys are slash-separated and relative;
// the helpers in keys.go produce them.
package artifact

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists under the given key.
var ErrNotFound = errors.New("artifact: not found")

// Content types of the artifacts the pipeline stores.
const (
	ContentTypeMP3  = "audio/mpeg"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Store persists task artifacts. Implementations must be safe for
// concurrent use.
type Store interface {
	// PutBytes stores data under key and returns the stored object's URL
	// (a file path for the filesystem backend, an s3:// URL for S3). The
	// write is durable when PutBytes returns: callers may only flip
	// artifact flags in the status store afterwards.
	PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// PutText stores a UTF-8 text document under key.
	PutText(ctx context.Context, key, text, contentType string) (string, error)

	// GetBytes returns the object under key. The key may also be a URL
	// previously returned by PutBytes. Returns ErrNotFound if no such
	// object exists.
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// GetText returns the text document under key (or a previously
	// returned URL). Returns ErrNotFound if no such object exists.
	GetText(ctx context.Context, key string) (string, error)

	// Delete removes the object under key. Backends that can detect a
	// missing object report it as ErrNotFound; callers treat that as
	// already gone.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Package upload defines the streaming-upload collaborator the runner drives
// and a gocloud.dev/blob implementation of it.
package upload

import (
	"context"
	"errors"
)

// DefaultMimeType is used when Metadata leaves MimeType empty.
const DefaultMimeType = "text/plain"

var (
	// ErrUnknownSession is returned for sessions this uploader did not start.
	ErrUnknownSession = errors.New("upload: unknown session")
	// ErrClosed is returned once the uploader has been closed.
	ErrClosed = errors.New("upload: uploader closed")
)

// Metadata describes the resource being uploaded.
type Metadata struct {
	Filename   string
	MimeType   string
	Attachment int
	// Labels are stored with the object, e.g. trace context.
	Labels map[string]string
}

// Session is an in-progress streaming upload.
type Session interface {
	ID() string
	Metadata() Metadata
}

// Result describes a completed upload.
type Result struct {
	SessionID       string `json:"session_id" yaml:"session_id"`
	Key             string `json:"key" yaml:"key"`
	Size            int64  `json:"size" yaml:"size"`
	StoredSize      int64  `json:"stored_size" yaml:"stored_size"`
	ContentType     string `json:"content_type" yaml:"content_type"`
	ContentEncoding string `json:"content_encoding,omitempty" yaml:"content_encoding,omitempty"`
}

// Uploader starts, completes and cancels streaming uploads of files that are
// still being written.
type Uploader interface {
	// Start begins streaming the file at path.
	Start(ctx context.Context, path string, meta Metadata) (Session, error)
	// Complete waits for the stream to drain and finalizes the upload.
	Complete(ctx context.Context, s Session) (Result, error)
	// Cancel aborts the upload; cause is recorded for diagnostics.
	Cancel(ctx context.Context, s Session, cause error) error
	// Close releases resources and abandons sessions left open.
	Close() error
}

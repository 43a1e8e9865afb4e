package unload

import (
	"context"
	"io"
)

// Object is a staged file.
type Object struct {
	Key  string
	Size int64
}

// ObjectStore is the staging storage the pipeline needs.
type ObjectStore interface {
	// List returns every object under prefix
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	// Download writes an object to w and returns the bytes written
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
	// Delete removes the given keys
	Delete(ctx context.Context, bucket string, keys []string) error
}

// Submitter starts an export command in the warehouse.
type Submitter interface {
	Submit(ctx context.Context, command string) (Handle, error)
}

// Handle tracks a submitted export command.
type Handle interface {
	// Poll reports completion without blocking; a failed command returns
	// its error once done
	Poll(ctx context.Context) (bool, error)
	// Cancel stops the command if it is still running and waits for it to end
	Cancel(ctx context.Context) error
}

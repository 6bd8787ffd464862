// Package storage defines the blob store abstraction used to mirror produced
// artifacts to durable storage.
package storage

import (
	"context"
	"io"
)

// BlobStore saves objects and returns a URI for them.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOp discards everything it is given.
type NoOp struct{}

// PutObject drains nothing and returns an empty URI.
func (NoOp) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}

// ContentType maps an artifact extension to its MIME type.
func ContentType(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

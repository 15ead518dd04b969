package storage

import (
	"context"
	"io"
)

type UploadInput struct {
	Key          string
	ContentType  string
	CacheControl string
	Body         io.Reader
	Size         int64
}

// Service stores published artifacts and returns their public URL.
type Service interface {
	PutObject(ctx context.Context, in UploadInput) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

package storage

import (
	"context"
	"errors"

	"github.com/mmartingarciia/retroducer/internal/models"
)

// Mode selects how a file is opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

var (
	// ErrNotFound indicates the requested file does not exist.
	ErrNotFound = errors.New("storage: file not found")

	// ErrNoSpace indicates the device cannot accept more bytes.
	ErrNoSpace = errors.New("storage: no space left")
)

// File is an open file on the storage device.
//
// Read returns 0, io.EOF at end of data. Write may accept fewer bytes than
// offered; callers treat that as a short write.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Defines the interface for storage backends.
// Paths are flat, slash separated and relative to the provider root.
type StorageProvider interface {
	Open(ctx context.Context, relativePath string, mode Mode) (File, error)
	GetMetadata(ctx context.Context, relativePath string) (models.FileMetadata, error)
	BuildStateMap(ctx context.Context) (map[string]models.FileMetadata, error)
	DeleteFile(ctx context.Context, relativePath string) error
	Usage(ctx context.Context) (models.StorageUsage, error)
	GetPath() string
}

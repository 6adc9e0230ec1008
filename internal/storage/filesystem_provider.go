package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mmartingarciia/retroducer/internal/models"
)

type FileSystemProvider struct {
	rootPath string
}

func NewFileSystemProvider(rootPath string) (*FileSystemProvider, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootPath, err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure storage root %s: %w", absPath, err)
	}
	return &FileSystemProvider{rootPath: absPath}, nil
}

func (p *FileSystemProvider) resolve(relativePath string) string {
	return filepath.Join(p.rootPath, filepath.FromSlash(relativePath))
}

// Opens a file for reading, or creates/truncates it for writing.
func (p *FileSystemProvider) Open(_ context.Context, relativePath string, mode Mode) (File, error) {
	fullPath := p.resolve(relativePath)
	if mode == ModeWrite {
		file, err := os.Create(fullPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create file %s: %w", fullPath, err)
		}
		return file, nil
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to open file %s: %w", relativePath, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file %s: %w", fullPath, err)
	}
	info, err := file.Stat()
	if err == nil && info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("failed to open file %s: is a directory: %w", relativePath, ErrNotFound)
	}
	return file, nil
}

func (p *FileSystemProvider) GetMetadata(_ context.Context, relativePath string) (models.FileMetadata, error) {
	info, err := os.Stat(p.resolve(relativePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.FileMetadata{}, fmt.Errorf("error stating file %s: %w", relativePath, ErrNotFound)
		}
		return models.FileMetadata{}, fmt.Errorf("error stating file %s: %w", relativePath, err)
	}
	return models.FileMetadata{
		RelativePath: relativePath,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
	}, nil
}

// Lists the top-level regular files. Hidden files and directories are skipped.
func (p *FileSystemProvider) BuildStateMap(_ context.Context) (map[string]models.FileMetadata, error) {
	entries, err := os.ReadDir(p.rootPath)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", p.rootPath, err)
	}
	stateMap := make(map[string]models.FileMetadata, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (len(name) > 0 && name[0] == '.') {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		stateMap[name] = models.FileMetadata{
			RelativePath: name,
			Size:         info.Size(),
			ModTime:      info.ModTime(),
		}
	}
	return stateMap, nil
}

func (p *FileSystemProvider) DeleteFile(_ context.Context, relativePath string) error {
	fullPath := p.resolve(relativePath)
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", relativePath, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s: %w", fullPath, err)
	}
	return nil
}

func (p *FileSystemProvider) Usage(_ context.Context) (models.StorageUsage, error) {
	return diskUsage(p.rootPath)
}

func (p *FileSystemProvider) GetPath() string {
	return p.rootPath
}

var _ StorageProvider = (*FileSystemProvider)(nil)

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mmartingarciia/retroducer/internal/models"
)

// MemoryProvider keeps files in process memory. It is used by tests and
// by bench setups without a card. A non-zero maxSize caps the total number
// of stored bytes; writes beyond it are short.
type MemoryProvider struct {
	mu      sync.Mutex
	files   map[string]*memEntry
	used    uint64
	maxSize uint64
}

var errClosed = errors.New("storage: file already closed")

type memEntry struct {
	data    []byte
	modTime time.Time
}

func NewMemoryProvider(maxSize uint64) *MemoryProvider {
	return &MemoryProvider{
		files:   make(map[string]*memEntry),
		maxSize: maxSize,
	}
}

func (p *MemoryProvider) Open(_ context.Context, relativePath string, mode Mode) (File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mode == ModeWrite {
		if old, ok := p.files[relativePath]; ok {
			p.used -= uint64(len(old.data))
		}
		entry := &memEntry{modTime: time.Now()}
		p.files[relativePath] = entry
		return &memFile{provider: p, entry: entry, mode: ModeWrite}, nil
	}

	entry, ok := p.files[relativePath]
	if !ok {
		return nil, fmt.Errorf("failed to open file %s: %w", relativePath, ErrNotFound)
	}
	return &memFile{provider: p, entry: entry, mode: ModeRead}, nil
}

func (p *MemoryProvider) GetMetadata(_ context.Context, relativePath string) (models.FileMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.files[relativePath]
	if !ok {
		return models.FileMetadata{}, fmt.Errorf("error stating file %s: %w", relativePath, ErrNotFound)
	}
	return models.FileMetadata{
		RelativePath: relativePath,
		Size:         int64(len(entry.data)),
		ModTime:      entry.modTime,
	}, nil
}

func (p *MemoryProvider) BuildStateMap(_ context.Context) (map[string]models.FileMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stateMap := make(map[string]models.FileMetadata, len(p.files))
	for name, entry := range p.files {
		stateMap[name] = models.FileMetadata{
			RelativePath: name,
			Size:         int64(len(entry.data)),
			ModTime:      entry.modTime,
		}
	}
	return stateMap, nil
}

func (p *MemoryProvider) DeleteFile(_ context.Context, relativePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.files[relativePath]
	if !ok {
		return fmt.Errorf("failed to delete %s: %w", relativePath, ErrNotFound)
	}
	p.used -= uint64(len(entry.data))
	delete(p.files, relativePath)
	return nil
}

func (p *MemoryProvider) Usage(_ context.Context) (models.StorageUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxSize == 0 {
		return models.StorageUsage{}, errors.New("storage: memory provider is unbounded")
	}
	return models.StorageUsage{Total: p.maxSize, Free: p.maxSize - p.used}, nil
}

func (p *MemoryProvider) GetPath() string {
	return "memory://"
}

type memFile struct {
	provider *MemoryProvider
	entry    *memEntry
	mode     Mode
	offset   int
	closed   bool
}

func (f *memFile) Read(b []byte) (int, error) {
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()

	if f.closed {
		return 0, errClosed
	}
	if f.mode != ModeRead {
		return 0, errors.New("storage: file not open for reading")
	}
	if f.offset >= len(f.entry.data) {
		return 0, io.EOF
	}
	n := copy(b, f.entry.data[f.offset:])
	f.offset += n
	return n, nil
}

func (f *memFile) Write(b []byte) (int, error) {
	p := f.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	if f.closed {
		return 0, errClosed
	}
	if f.mode != ModeWrite {
		return 0, errors.New("storage: file not open for writing")
	}
	n := len(b)
	if p.maxSize > 0 && p.used+uint64(n) > p.maxSize {
		n = int(p.maxSize - p.used)
	}
	f.entry.data = append(f.entry.data, b[:n]...)
	f.entry.modTime = time.Now()
	p.used += uint64(n)
	if n < len(b) {
		return n, ErrNoSpace
	}
	return n, nil
}

func (f *memFile) Close() error {
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	f.closed = true
	return nil
}

var _ StorageProvider = (*MemoryProvider)(nil)

package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmartingarciia/retroducer/internal/config"
)

func providers(t *testing.T) map[string]StorageProvider {
	t.Helper()
	fsp, err := NewFileSystemProvider(t.TempDir())
	require.NoError(t, err)
	return map[string]StorageProvider{
		"filesystem": fsp,
		"memory":     NewMemoryProvider(0),
	}
}

func writeAll(t *testing.T, p StorageProvider, name string, data []byte) {
	t.Helper()
	f, err := p.Open(context.Background(), name, ModeWrite)
	require.NoError(t, err)
	n, err := f.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
}

func TestProviders_WriteThenRead(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			writeAll(t, p, "song.raw", []byte("pcm-bytes"))

			f, err := p.Open(ctx, "song.raw", ModeRead)
			require.NoError(t, err)
			defer f.Close()
			got, err := io.ReadAll(f)
			require.NoError(t, err)
			assert.Equal(t, "pcm-bytes", string(got))

			meta, err := p.GetMetadata(ctx, "song.raw")
			require.NoError(t, err)
			assert.EqualValues(t, 9, meta.Size)
		})
	}
}

func TestProviders_OpenMissing(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.Open(context.Background(), "nope.mp3", ModeRead)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestProviders_WriteTruncates(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			writeAll(t, p, "a.raw", []byte("0123456789"))
			writeAll(t, p, "a.raw", []byte("xy"))
			meta, err := p.GetMetadata(context.Background(), "a.raw")
			require.NoError(t, err)
			assert.EqualValues(t, 2, meta.Size)
		})
	}
}

func TestProviders_BuildStateMapAndDelete(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			writeAll(t, p, "one.mp3", []byte("1"))
			writeAll(t, p, "two.wav", []byte("22"))

			state, err := p.BuildStateMap(ctx)
			require.NoError(t, err)
			assert.Len(t, state, 2)
			assert.EqualValues(t, 2, state["two.wav"].Size)

			require.NoError(t, p.DeleteFile(ctx, "one.mp3"))
			err = p.DeleteFile(ctx, "one.mp3")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestFileSystemProvider_SkipsHiddenAndDirs(t *testing.T) {
	root := t.TempDir()
	p, err := NewFileSystemProvider(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".Trashes"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "System Volume Information"), 0o755))
	writeAll(t, p, "track.mp3", []byte("abc"))

	state, err := p.BuildStateMap(context.Background())
	require.NoError(t, err)
	assert.Len(t, state, 1)
	assert.Contains(t, state, "track.mp3")
}

func TestMemoryProvider_ShortWriteWhenFull(t *testing.T) {
	p := NewMemoryProvider(8)
	f, err := p.Open(context.Background(), "big.raw", ModeWrite)
	require.NoError(t, err)

	n, err := f.Write([]byte("12345"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("67890"))
	assert.Equal(t, 3, n)
	assert.True(t, errors.Is(err, ErrNoSpace))

	usage, err := p.Usage(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, usage.Free)
}

func TestNewProvider_Factory(t *testing.T) {
	cfg := config.Default().Storage
	cfg.Filesystem["path"] = t.TempDir()

	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &FileSystemProvider{}, p)

	cfg.Type = "memory"
	cfg.Memory["max_size_bytes"] = "1024"
	p, err = NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	usage, err := p.Usage(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1024, usage.Total)

	cfg.Type = "tape"
	_, err = NewProvider(context.Background(), cfg)
	require.Error(t, err)
}

package upload

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmartingarciia/retroducer/internal/gate"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/storage"
)

func newManager(t *testing.T, maxSize uint64) (*Manager, *gate.Gate, *storage.MemoryProvider) {
	t.Helper()
	p := storage.NewMemoryProvider(maxSize)
	g := gate.New(p, nil)
	return NewManager(g, nil), g, p
}

// send delivers data as consecutive chunks of the given sizes.
func send(t *testing.T, m *Manager, name string, sizes ...int) (Session, error) {
	t.Helper()
	ctx := context.Background()
	var (
		s      Session
		err    error
		offset int64
	)
	for i, n := range sizes {
		s, err = m.HandleChunk(ctx, Chunk{
			SessionID: s.ID,
			Filename:  name,
			Index:     offset,
			Data:      make([]byte, n),
			Final:     i == len(sizes)-1,
		})
		if err != nil {
			return s, err
		}
		offset += int64(n)
	}
	return s, nil
}

func readBack(t *testing.T, p storage.StorageProvider, name string) []byte {
	t.Helper()
	f, err := p.Open(context.Background(), name, storage.ModeRead)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestUpload_ThreeChunks(t *testing.T) {
	m, g, p := newManager(t, 0)

	s, err := send(t, m, "song.raw", 512, 512, 10)
	require.NoError(t, err)
	assert.Equal(t, Closed, s.State)
	assert.EqualValues(t, 1034, s.BytesWritten)
	assert.Len(t, readBack(t, p, "song.raw"), 1034)
	assert.True(t, g.IsFree("song.raw"))

	_, active := m.Active()
	assert.False(t, active)
}

func TestUpload_BytesWrittenEqualsSumOfChunks(t *testing.T) {
	cases := [][]int{
		{0},
		{1},
		{1024, 1024, 1024, 1},
		{7, 0, 13, 0, 1},
	}
	for _, sizes := range cases {
		m, _, p := newManager(t, 0)
		s, err := send(t, m, "a.raw", sizes...)
		require.NoError(t, err)

		var total int
		for _, n := range sizes {
			total += n
		}
		assert.EqualValues(t, total, s.BytesWritten)
		assert.Len(t, readBack(t, p, "a.raw"), total)
	}
}

func TestUpload_SecondSessionConflicts(t *testing.T) {
	m, _, _ := newManager(t, 0)
	ctx := context.Background()

	first, err := m.HandleChunk(ctx, Chunk{Filename: "one.raw", Data: make([]byte, 100)})
	require.NoError(t, err)
	require.Equal(t, Receiving, first.State)

	_, err = m.HandleChunk(ctx, Chunk{Filename: "two.raw", Data: []byte("x")})
	assert.True(t, errors.Is(err, models.ErrConflict))

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, Receiving, active.State)
	assert.EqualValues(t, 100, active.BytesWritten)

	done, err := m.HandleChunk(ctx, Chunk{SessionID: first.ID, Index: 100, Data: []byte("tail"), Final: true})
	require.NoError(t, err)
	assert.EqualValues(t, 104, done.BytesWritten)
}

func TestUpload_BusyWhileBeingRead(t *testing.T) {
	m, g, p := newManager(t, 0)
	ctx := context.Background()
	_, err := send(t, m, "song.raw", 10)
	require.NoError(t, err)

	r, err := g.Acquire(ctx, "song.raw", storage.ModeRead)
	require.NoError(t, err)

	s, err := m.HandleChunk(ctx, Chunk{Filename: "song.raw", Data: []byte("new"), Final: true})
	assert.True(t, errors.Is(err, models.ErrBusy))
	assert.Equal(t, Failed, s.State)
	assert.Equal(t, "song.raw", s.Path)
	assert.Len(t, readBack(t, p, "song.raw"), 10)

	require.NoError(t, g.Release(r))
	s, err = m.HandleChunk(ctx, Chunk{Filename: "song.raw", Data: []byte("new"), Final: true})
	require.NoError(t, err)
	assert.Equal(t, Closed, s.State)
}

func TestUpload_ShortWriteFails(t *testing.T) {
	m, g, p := newManager(t, 600)

	s, err := send(t, m, "big.raw", 512, 512, 10)
	assert.True(t, errors.Is(err, models.ErrIOFailure))
	assert.True(t, errors.Is(err, storage.ErrNoSpace))
	assert.Equal(t, Failed, s.State)
	assert.EqualValues(t, 600, s.BytesWritten)
	assert.True(t, g.IsFree("big.raw"))

	// partial file stays in place
	assert.Len(t, readBack(t, p, "big.raw"), 600)

	_, active := m.Active()
	assert.False(t, active)
}

func TestUpload_OffsetMismatchFails(t *testing.T) {
	m, g, _ := newManager(t, 0)
	ctx := context.Background()

	s, err := m.HandleChunk(ctx, Chunk{Filename: "a.raw", Data: make([]byte, 8)})
	require.NoError(t, err)

	s, err = m.HandleChunk(ctx, Chunk{SessionID: s.ID, Index: 4, Data: make([]byte, 8)})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
	assert.Equal(t, Failed, s.State)
	assert.True(t, g.IsFree("a.raw"))

	_, err = m.HandleChunk(ctx, Chunk{SessionID: s.ID, Index: 8, Data: make([]byte, 8)})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestUpload_RejectsUnsafeNameBeforeGate(t *testing.T) {
	m, _, p := newManager(t, 0)

	_, err := m.HandleChunk(context.Background(), Chunk{Filename: "../etc/passwd", Data: []byte("x")})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	state, err := p.BuildStateMap(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestUpload_AbortReleasesHandle(t *testing.T) {
	m, g, _ := newManager(t, 0)
	var finished []Session
	m.OnDone(func(s Session) { finished = append(finished, s) })

	s, err := m.HandleChunk(context.Background(), Chunk{Filename: "a.raw", Data: []byte("abc")})
	require.NoError(t, err)
	assert.False(t, g.IsFree("a.raw"))

	m.Abort("someone-else", nil)
	assert.False(t, g.IsFree("a.raw"))

	m.Abort(s.ID, errors.New("client went away"))
	assert.True(t, g.IsFree("a.raw"))
	require.Len(t, finished, 1)
	assert.Equal(t, Failed, finished[0].State)
	assert.True(t, errors.Is(finished[0].Err, models.ErrIOFailure))
}

func TestUpload_ReuploadOverwrites(t *testing.T) {
	m, _, p := newManager(t, 0)

	_, err := send(t, m, "a.raw", 100)
	require.NoError(t, err)
	_, err = send(t, m, "a.raw", 3)
	require.NoError(t, err)
	assert.Len(t, readBack(t, p, "a.raw"), 3)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "receiving", Receiving.String())
	assert.Equal(t, "unknown", State(42).String())
	data, err := Closed.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"closed"`, string(data))
}

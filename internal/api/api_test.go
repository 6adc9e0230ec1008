package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmartingarciia/retroducer/internal/audio"
	"github.com/mmartingarciia/retroducer/internal/config"
	"github.com/mmartingarciia/retroducer/internal/engine"
	"github.com/mmartingarciia/retroducer/internal/gate"
	"github.com/mmartingarciia/retroducer/internal/history"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/network"
	"github.com/mmartingarciia/retroducer/internal/playback"
	"github.com/mmartingarciia/retroducer/internal/status"
	"github.com/mmartingarciia/retroducer/internal/storage"
	"github.com/mmartingarciia/retroducer/internal/upload"
)

type discardOutput struct{}

func (discardOutput) Feed([]byte) bool { return true }
func (discardOutput) SetVolume(int)    {}

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := storage.NewMemoryProvider(0)
	g := gate.New(provider, nil)
	uploads := upload.NewManager(g, nil)
	pb := playback.New(g, discardOutput{}, playback.Config{
		Format:    audio.Format{SampleRate: 44100, Channels: 2},
		BlockSize: 512,
		MaxVolume: 21,
		Volume:    10,
	}, nil)
	reporter := status.NewReporter(pb, uploads, network.NewSoftAP(config.Default().Network), provider)
	hist, err := history.NewBadgerStore("", true)
	require.NoError(t, err)

	player := engine.NewPlayer(g, uploads, pb, reporter, hist, engine.Options{
		TickInterval: time.Millisecond,
		HistoryLimit: 10,
	})
	server := NewServer(player, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- player.Run(ctx) }()
	go server.broadcastEvents(ctx)

	t.Cleanup(func() {
		cancel()
		<-done
		hist.Close()
	})
	return server
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Address:        "127.0.0.1:0",
		ChunkSize:      512,
		MaxUploadBytes: 1 << 20,
		StatusPushRate: 4,
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func doUpload(t *testing.T, s *Server, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestUpload_ChunkedThenPlay(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rec := doUpload(t, s, "song.raw", make([]byte, 1034))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[models.UploadResult](t, rec)
	assert.Equal(t, "song.raw", result.Path)
	assert.EqualValues(t, 1034, result.Bytes)
	assert.Equal(t, "closed", result.State)
	assert.NotEmpty(t, result.SessionID)

	rec = doJSON(t, s, http.MethodGet, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode[[]models.FileMetadata](t, rec)
	require.Len(t, files, 1)
	assert.Equal(t, "song.raw", files[0].RelativePath)
	assert.EqualValues(t, 1034, files[0].Size)

	rec = doJSON(t, s, http.MethodPost, "/api/playback/start", `{"path":"song.raw"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := doJSON(t, s, http.MethodGet, "/status", "")
		st := decode[models.SystemStatus](t, rec)
		return st.PlaybackState == "stopped" && st.BytesConsumed == 1034
	}, 2*time.Second, 5*time.Millisecond)

	rec = doJSON(t, s, http.MethodGet, "/api/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]history.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, history.KindPlayback, entries[0].Kind)
}

func TestUpload_EmptyFile(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rec := doUpload(t, s, "empty.raw", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[models.UploadResult](t, rec)
	assert.EqualValues(t, 0, result.Bytes)
	assert.Equal(t, "closed", result.State)
}

func TestUpload_ExactChunkMultiple(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rec := doUpload(t, s, "even.raw", make([]byte, 1024))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1024, decode[models.UploadResult](t, rec).Bytes)
}

func TestUpload_Rejections(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType := multipartBody(t, "other", "x.raw", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doUpload(t, s, ".hidden.raw", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[Response](t, rec).Error)
}

func TestUpload_TooLargeAbortsSession(t *testing.T) {
	cfg := testServerConfig()
	cfg.ChunkSize = 256
	cfg.MaxUploadBytes = 600
	s := newTestServer(t, cfg)

	rec := doUpload(t, s, "big.raw", make([]byte, 2000))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[models.SystemStatus](t, rec).Uploading)

	// the aborted session does not block the next transfer
	rec = doUpload(t, s, "small.raw", make([]byte, 10))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPlaybackRoutes_ErrorMapping(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rec := doJSON(t, s, http.MethodPost, "/api/playback/start", `{"path":"missing.raw"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "source_unavailable", decode[Response](t, rec).Error)

	rec = doJSON(t, s, http.MethodPost, "/api/playback/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/playback/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[Response](t, rec).Error)

	rec = doJSON(t, s, http.MethodPost, "/api/playback/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/playback/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVolumeRoute(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	rec := doJSON(t, s, http.MethodPut, "/api/volume", `{"level":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 21, decode[VolumeResponse](t, rec).Volume)

	rec = doJSON(t, s, http.MethodPut, "/api/volume", `{"level":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[VolumeResponse](t, rec).Volume)

	rec = doJSON(t, s, http.MethodPut, "/api/volume", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRoute(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	require.Equal(t, http.StatusOK, doUpload(t, s, "gone.raw", []byte("abc")).Code)

	rec := doJSON(t, s, http.MethodDelete, "/api/files/gone.raw", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/files/gone.raw", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryRoute_BadLimit(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	rec := doJSON(t, s, http.MethodGet, "/api/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	rec := doJSON(t, s, http.MethodOptions, "/api/volume", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_ReceivesUploadEvent(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusOK, doUpload(t, s, "live.raw", []byte("abc")).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var event PlayerEvent
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == "upload" {
			assert.Equal(t, "live.raw", event.Path)
			return
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{models.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", models.ErrSourceUnavailable, models.ErrBusy), http.StatusNotFound},
		{models.ErrConflict, http.StatusConflict},
		{models.ErrInvalidTransition, http.StatusConflict},
		{models.ErrBusy, http.StatusLocked},
		{engine.ErrStopped, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, _ := classify(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

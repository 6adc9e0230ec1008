package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/models"
	"github.com/mmartingarciia/retroducer/internal/upload"
)

const uploadFormField = "file"

// handleUpload streams the "file" part of a multipart body into the upload
// manager in ChunkSize slices. One slice of lookahead lets the last chunk
// carry the final flag, so an empty file still produces one final chunk.
func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	part, err := filePart(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: err.Error(), Error: "invalid_input"})
		return
	}
	defer part.Close()

	session, err := s.streamPart(c.Request.Context(), part)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, Response{Success: false, Message: err.Error(), Error: "too_large"})
			return
		}
		respondError(c, err)
		return
	}

	logger.Info("Upload complete: %s (%d bytes)", session.Path, session.BytesWritten)
	c.JSON(http.StatusOK, models.UploadResult{
		SessionID: session.ID,
		Path:      session.Path,
		Bytes:     session.BytesWritten,
		State:     session.State.String(),
	})
}

// filePart advances the multipart reader to the file field.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: missing %q field", models.ErrInvalidInput, uploadFormField)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
		}
		if part.FormName() == uploadFormField {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) streamPart(ctx context.Context, part *multipart.Part) (upload.Session, error) {
	var (
		session upload.Session
		offset  int64
	)
	cur := make([]byte, s.cfg.ChunkSize)
	next := make([]byte, s.cfg.ChunkSize)

	n, readErr := io.ReadFull(part, cur)
	for {
		var (
			m       int
			nextErr error
			final   bool
		)
		switch {
		case readErr == io.EOF || readErr == io.ErrUnexpectedEOF:
			final = true
		case readErr != nil:
			s.abortUpload(session.ID, readErr)
			return session, readErr
		default:
			m, nextErr = io.ReadFull(part, next)
			final = m == 0 && nextErr == io.EOF
		}

		// chunks are applied even if the client hangs up mid-call so the
		// session ID is never lost; the next read fails and aborts it
		var err error
		session, err = s.player.HandleChunk(context.WithoutCancel(ctx), upload.Chunk{
			SessionID: session.ID,
			Filename:  part.FileName(),
			Index:     offset,
			Data:      cur[:n],
			Final:     final,
		})
		if err != nil {
			return session, err
		}
		if final {
			return session, nil
		}

		offset += int64(n)
		cur, next = next, cur
		n, readErr = m, nextErr
	}
}

// abortUpload fails an open session after the client went away. It runs on
// a fresh context since the request context is usually already done.
func (s *Server) abortUpload(id string, cause error) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.player.AbortUpload(ctx, id, cause); err != nil {
		logger.Warn("Failed to abort upload %s: %v", id, err)
	}
}

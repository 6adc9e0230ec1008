package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// maxHeaderChunk bounds any single chunk read before the data chunk.
	maxHeaderChunk = 1 << 20
	// maxHeaderBytes bounds everything read before the data chunk.
	maxHeaderBytes = 4 << 20

	wavFormatPCM        = 1
	wavFormatExtensible = -2
	wavFmtSize          = 16
	wavFmtExtSize       = 40
)

// checkWAVHeader walks the RIFF chunks up to the data chunk and rejects any
// header the beep decoder cannot handle safely: chunk sizes that are
// negative, larger than the file or larger than maxHeaderChunk, and fmt
// chunks whose rate, channel count or frame size are inconsistent. It
// returns a reader that replays the consumed header followed by the rest
// of r. size is the file size, or 0 if unknown.
func checkWAVHeader(r io.Reader, size int64) (io.Reader, error) {
	var head bytes.Buffer
	tee := io.TeeReader(r, &head)

	var riff struct {
		Mark [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(tee, binary.LittleEndian, &riff); err != nil {
		return nil, fmt.Errorf("wav: short RIFF header: %w", err)
	}
	if string(riff.Mark[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return nil, errors.New("wav: not a RIFF/WAVE file")
	}

	offset := int64(12)
	haveFmt := false
	for {
		var chunk struct {
			ID   [4]byte
			Size int32
		}
		if err := binary.Read(tee, binary.LittleEndian, &chunk); err != nil {
			return nil, fmt.Errorf("wav: missing chunk header: %w", err)
		}
		offset += 8
		id := string(chunk.ID[:])

		if id == "data" {
			if !haveFmt {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			return io.MultiReader(bytes.NewReader(head.Bytes()), r), nil
		}

		body := int64(chunk.Size)
		if id != "fmt " && body%2 != 0 {
			body++ // the decoder pads unknown chunks, not fmt
		}
		if body < 0 || body > maxHeaderChunk || (size > 0 && offset+body > size) {
			return nil, fmt.Errorf("wav: %q chunk size %d out of range", id, chunk.Size)
		}
		if offset+body > maxHeaderBytes {
			return nil, fmt.Errorf("wav: header exceeds %d bytes", maxHeaderBytes)
		}

		buf := make([]byte, body)
		if _, err := io.ReadFull(tee, buf); err != nil {
			return nil, fmt.Errorf("wav: truncated %q chunk: %w", id, err)
		}
		offset += body

		if id == "fmt " {
			if err := checkFmtChunk(buf); err != nil {
				return nil, err
			}
			haveFmt = true
		}
	}
}

func checkFmtChunk(buf []byte) error {
	if len(buf) < wavFmtSize {
		return fmt.Errorf("wav: fmt chunk too short (%d bytes)", len(buf))
	}
	le := binary.LittleEndian
	formatType := int16(le.Uint16(buf[0:2]))
	channels := int16(le.Uint16(buf[2:4]))
	rate := int32(le.Uint32(buf[4:8]))
	frameSize := int16(le.Uint16(buf[12:14]))
	bits := int16(le.Uint16(buf[14:16]))

	switch formatType {
	case wavFormatPCM:
	case wavFormatExtensible:
		if len(buf) != wavFmtExtSize {
			return fmt.Errorf("wav: extensible fmt chunk has %d bytes", len(buf))
		}
	default:
		return fmt.Errorf("wav: unsupported format type %d", formatType)
	}
	if channels < 1 {
		return fmt.Errorf("wav: invalid channel count %d", channels)
	}
	if rate <= 0 {
		return fmt.Errorf("wav: invalid sample rate %d", rate)
	}
	if bits != 8 && bits != 16 && bits != 24 {
		return fmt.Errorf("wav: unsupported bits per sample %d", bits)
	}
	if int(frameSize) != int(channels)*int(bits)/8 {
		return fmt.Errorf("wav: frame size %d does not match %d channels of %d bits", frameSize, channels, bits)
	}
	return nil
}

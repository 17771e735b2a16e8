package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	// Audio configuration (fixed by the Discord voice transport)
	SampleRate  = 48000
	Channels    = 2
	sampleWidth = 2 // 16-bit PCM

	wavHeaderSize = 44
)

var (
	// ErrEmptyRecording is returned when finalizing a buffer that never
	// received any frames
	ErrEmptyRecording = errors.New("no audio data recorded")

	// ErrFinalized is returned when a buffer is used after Finalize
	ErrFinalized = errors.New("buffer already finalized")
)

// Buffer accumulates raw PCM frames for a single recording session.
//
// It is intentionally unsynchronized: the session state machine guarantees
// that ingestion stops before Finalize reads the frames, and that appends
// are serialized by the session lock.
type Buffer struct {
	frames    [][]byte
	size      int
	finalized bool
}

// NewBuffer creates an empty frame buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a frame in arrival order. Frames are never reordered or
// deduplicated; growth is bounded only by the session's auto-stop timeout.
func (b *Buffer) Append(frame []byte) {
	if b.finalized || len(frame) == 0 {
		return
	}
	b.frames = append(b.frames, frame)
	b.size += len(frame)
}

// FrameCount returns the number of appended frames
func (b *Buffer) FrameCount() int {
	return len(b.frames)
}

// Size returns the total payload size in bytes
func (b *Buffer) Size() int {
	return b.size
}

// Finalize concatenates all frames into a WAV container at path. The buffer
// is consumed: a second Finalize fails with ErrFinalized.
func (b *Buffer) Finalize(path string) error {
	if b.finalized {
		return ErrFinalized
	}
	b.finalized = true

	if len(b.frames) == 0 {
		return ErrEmptyRecording
	}

	// #nosec G301 - temp audio directory must be readable by the transcriber
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("error creating audio directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 - path is built from server configuration
	if err != nil {
		return fmt.Errorf("error creating audio file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := writeWAVHeader(w, b.size); err != nil {
		_ = f.Close()
		return fmt.Errorf("error writing WAV header: %w", err)
	}
	for _, frame := range b.frames {
		if _, err := w.Write(frame); err != nil {
			_ = f.Close()
			return fmt.Errorf("error writing audio data: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("error flushing audio data: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing audio file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"path":        path,
		"frames":      len(b.frames),
		"bytes":       b.size,
		"duration_ms": b.size * 1000 / (SampleRate * Channels * sampleWidth),
	}).Info("Finalized recording")

	// Release the frames; the buffer is not reusable
	b.frames = nil
	return nil
}

// writeWAVHeader writes a canonical 44-byte PCM WAV header for dataLen
// bytes of interleaved s16le audio at the transport's native format
func writeWAVHeader(w *bufio.Writer, dataLen int) error {
	var h [wavHeaderSize]byte
	copy(h[0:4], "RIFF")
	// #nosec G115 - recording size is bounded by the auto-stop timeout
	binary.LittleEndian.PutUint32(h[4:8], uint32(wavHeaderSize-8+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], SampleRate*Channels*sampleWidth)
	binary.LittleEndian.PutUint16(h[32:34], Channels*sampleWidth)
	binary.LittleEndian.PutUint16(h[34:36], sampleWidth*8)
	copy(h[36:40], "data")
	// #nosec G115 - recording size is bounded by the auto-stop timeout
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	_, err := w.Write(h[:])
	return err
}

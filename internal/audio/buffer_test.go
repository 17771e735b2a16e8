package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPreservesFrameOrder(t *testing.T) {
	buf := NewBuffer()

	frames := [][]byte{
		{0x01, 0x02, 0x03, 0x04},
		{0x05, 0x06},
		{0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c},
	}
	var want []byte
	for _, frame := range frames {
		buf.Append(frame)
		want = append(want, frame...)
	}

	assert.Equal(t, 3, buf.FrameCount())
	assert.Equal(t, len(want), buf.Size())

	path := filepath.Join(t.TempDir(), "out.wav")
	require.NoError(t, buf.Finalize(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+len(want))
	assert.Equal(t, want, data[wavHeaderSize:], "payload must equal frames in append order")
}

func TestBufferWAVHeader(t *testing.T) {
	buf := NewBuffer()
	payload := make([]byte, 960*Channels*sampleWidth)
	buf.Append(payload)

	path := filepath.Join(t.TempDir(), "header.wav")
	require.NoError(t, buf.Finalize(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), wavHeaderSize)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.EqualValues(t, 1, binary.LittleEndian.Uint16(data[20:22]), "PCM format tag")
	assert.EqualValues(t, Channels, binary.LittleEndian.Uint16(data[22:24]))
	assert.EqualValues(t, SampleRate, binary.LittleEndian.Uint32(data[24:28]))
	assert.EqualValues(t, 16, binary.LittleEndian.Uint16(data[34:36]), "bits per sample")
	assert.EqualValues(t, len(payload), binary.LittleEndian.Uint32(data[40:44]))
}

func TestBufferFinalizeEmpty(t *testing.T) {
	buf := NewBuffer()
	path := filepath.Join(t.TempDir(), "empty.wav")

	err := buf.Finalize(path)
	assert.ErrorIs(t, err, ErrEmptyRecording)

	// Never a silent zero-length container
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBufferFinalizeIsDestructive(t *testing.T) {
	buf := NewBuffer()
	buf.Append([]byte{0x01, 0x02})

	dir := t.TempDir()
	require.NoError(t, buf.Finalize(filepath.Join(dir, "a.wav")))

	err := buf.Finalize(filepath.Join(dir, "b.wav"))
	assert.ErrorIs(t, err, ErrFinalized)

	// Appends after finalize are dropped
	buf.Append([]byte{0x03})
	assert.Equal(t, 0, buf.FrameCount())
}

func TestBufferIgnoresEmptyFrames(t *testing.T) {
	buf := NewBuffer()
	buf.Append(nil)
	buf.Append([]byte{})
	assert.Equal(t, 0, buf.FrameCount())
	assert.Equal(t, 0, buf.Size())
}

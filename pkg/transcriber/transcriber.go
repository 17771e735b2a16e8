package transcriber

import (
	"context"
	"fmt"
	"os"
)

// Transcriber converts a finalized audio file into text
type Transcriber interface {
	// Transcribe returns the transcript of the WAV file at audioPath
	Transcribe(ctx context.Context, audioPath string) (string, error)

	// Close releases resources
	Close() error
}

// MockTranscriber returns a fixed transcript without running a model
type MockTranscriber struct {
	Text string
	Err  error

	// Calls counts Transcribe invocations
	Calls int
}

// Transcribe returns the configured text, or a synthetic transcript
// describing the input when none is set
func (mt *MockTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	mt.Calls++
	if mt.Err != nil {
		return "", mt.Err
	}
	if mt.Text != "" {
		return mt.Text, nil
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("error reading audio file: %w", err)
	}
	return fmt.Sprintf("[Mock transcript: %d bytes of audio]", info.Size()), nil
}

// Close releases nothing for the mock
func (mt *MockTranscriber) Close() error {
	return nil
}

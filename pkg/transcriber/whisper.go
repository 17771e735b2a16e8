package transcriber

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultWhisperBinary = "whisper-cli"

// WhisperTranscriber shells out to a whisper.cpp CLI build. The model is
// loaded by the CLI per invocation, so no state is held between calls.
type WhisperTranscriber struct {
	modelPath string
	binary    string
	language  string
}

// NewWhisperTranscriber creates a whisper.cpp based transcriber. The binary
// can be overridden with WHISPER_BIN, the language with WHISPER_LANGUAGE.
func NewWhisperTranscriber(modelPath string) (*WhisperTranscriber, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("whisper model path is required")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper model not found: %w", err)
	}

	binary := os.Getenv("WHISPER_BIN")
	if binary == "" {
		binary = defaultWhisperBinary
	}
	language := os.Getenv("WHISPER_LANGUAGE")
	if language == "" {
		language = "en"
	}

	return &WhisperTranscriber{
		modelPath: modelPath,
		binary:    binary,
		language:  language,
	}, nil
}

// Transcribe runs the whisper CLI against the WAV file at audioPath
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"audio_path": audioPath,
		"model":      wt.modelPath,
	}).Info("Transcribing audio file")

	// #nosec G204 - binary and model path come from server configuration, not user input
	cmd := exec.CommandContext(ctx, wt.binary, wt.args(audioPath)...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("whisper failed: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("error running whisper: %w", err)
	}

	transcript := strings.TrimSpace(string(out))
	logrus.WithField("transcript_length", len(transcript)).Info("Transcription complete")
	return transcript, nil
}

func (wt *WhisperTranscriber) args(audioPath string) []string {
	return []string{
		"-m", wt.modelPath,
		"-l", wt.language,
		"--no-timestamps",
		"-f", audioPath,
	}
}

// Close releases nothing; the CLI holds no persistent state
func (wt *WhisperTranscriber) Close() error {
	return nil
}

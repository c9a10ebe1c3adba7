package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"meetscribe/internal/config"
	"meetscribe/internal/logging"
	"meetscribe/internal/models"

	"github.com/mattn/go-shellwords"
)

var (
	ErrAudioUnreadable = fmt.Errorf("%w: audio unreadable", models.ErrTranscription)
	ErrModelLoad       = fmt.Errorf("%w: model load failed", models.ErrTranscription)
	ErrDecode          = fmt.Errorf("%w: decode failed", models.ErrTranscription)
)

// Transcriber turns a stored audio file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// runFunc executes a command and returns its combined stderr on failure.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// WhisperCLI runs a whisper.cpp binary per request. The model file is
// shared read-only by every invocation.
type WhisperCLI struct {
	cmd      []string
	model    string
	language string
	threads  int
	timeout  time.Duration
	run      runFunc
}

func New(cfg config.TranscribeConfig) (*WhisperCLI, error) {
	command := cfg.Command
	if strings.TrimSpace(command) == "" {
		command = "whisper-cli"
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcribe command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("transcribe command is empty")
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: model_path is not configured", ErrModelLoad)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	w := &WhisperCLI{
		cmd:      args,
		model:    cfg.ModelPath,
		language: cfg.Language,
		threads:  cfg.Threads,
		timeout:  cfg.Timeout(),
		run:      execRun,
	}
	if w.language == "" {
		w.language = "auto"
	}
	if w.threads <= 0 {
		w.threads = 4
	}
	if w.timeout <= 0 {
		w.timeout = 10 * time.Minute
	}
	return w, nil
}

// LookPath reports whether the configured binary can be found.
func (w *WhisperCLI) LookPath() error {
	if _, err := exec.LookPath(w.cmd[0]); err != nil {
		return fmt.Errorf("transcribe binary %q: %w", w.cmd[0], err)
	}
	return nil
}

func (w *WhisperCLI) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAudioUnreadable, err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAudioUnreadable, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: empty file", ErrAudioUnreadable)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "meetscribe_stt_*")
	if err != nil {
		return "", fmt.Errorf("%w: temp dir: %v", models.ErrTranscription, err)
	}
	defer os.RemoveAll(tmpDir)
	prefix := filepath.Join(tmpDir, "transcript")

	args := append([]string{}, w.cmd[1:]...)
	args = append(args,
		"-m", w.model,
		"-f", path,
		"-l", w.language,
		"-t", strconv.Itoa(w.threads),
		"-otxt",
		"-of", prefix,
		"-np",
	)

	start := time.Now()
	if stderr, err := w.run(ctx, w.cmd[0], args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %v", models.ErrTranscription, ctxErr)
		}
		msg := strings.TrimSpace(string(stderr))
		if modelLoadFailed(msg) {
			return "", fmt.Errorf("%w: %v: %s", ErrModelLoad, err, msg)
		}
		return "", fmt.Errorf("%w: %v: %s", ErrDecode, err, msg)
	}

	out, err := os.ReadFile(prefix + ".txt")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: no transcript produced", ErrDecode)
		}
		return "", fmt.Errorf("%w: read transcript: %v", models.ErrTranscription, err)
	}
	text := strings.Join(strings.Fields(string(out)), " ")
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrDecode)
	}
	logging.Named("transcribe").Debugw("transcription finished",
		"chars", len(text), "elapsed", time.Since(start))
	return text, nil
}

// modelLoadMarkers appear on whisper.cpp's stderr only when the model file
// cannot be opened or parsed. Its normal load logging is not matched.
var modelLoadMarkers = []string{
	"failed to load model",
	"failed to initialize whisper context",
}

func modelLoadFailed(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, m := range modelLoadMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

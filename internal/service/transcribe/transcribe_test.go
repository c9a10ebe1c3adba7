package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"meetscribe/internal/config"
	"meetscribe/internal/models"
)

func newTestTranscriber(t *testing.T, run runFunc) *WhisperCLI {
	t.Helper()
	model := filepath.Join(t.TempDir(), "ggml-base.en.bin")
	if err := os.WriteFile(model, []byte("model"), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
	w, err := New(config.TranscribeConfig{
		Command:    "whisper-cli --no-gpu",
		ModelPath:  model,
		Language:   "en",
		Threads:    2,
		TimeoutSec: 5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.run = run
	return w
}

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func flagValue(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestTranscribeReadsOutput(t *testing.T) {
	var gotName string
	var gotArgs []string
	w := newTestTranscriber(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		prefix := flagValue(args, "-of")
		return nil, os.WriteFile(prefix+".txt", []byte("  We agreed to ship Friday.\n Alice will\twrite docs. \n"), 0o600)
	})
	path := audioFile(t)

	text, err := w.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "We agreed to ship Friday. Alice will write docs." {
		t.Fatalf("unexpected transcript %q", text)
	}
	if gotName != "whisper-cli" || gotArgs[0] != "--no-gpu" {
		t.Fatalf("command not parsed: %s %v", gotName, gotArgs)
	}
	if flagValue(gotArgs, "-f") != path || flagValue(gotArgs, "-l") != "en" || flagValue(gotArgs, "-t") != "2" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
	if _, err := os.Stat(filepath.Dir(flagValue(gotArgs, "-of"))); !os.IsNotExist(err) {
		t.Fatalf("temp output dir should be removed, stat err=%v", err)
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name    string
		run     runFunc
		path    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "missing audio",
			run:     func(context.Context, string, ...string) ([]byte, error) { t.Fatal("should not run"); return nil, nil },
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone.wav") },
			wantErr: ErrAudioUnreadable,
		},
		{
			name: "empty audio",
			run:  func(context.Context, string, ...string) ([]byte, error) { t.Fatal("should not run"); return nil, nil },
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "empty.wav")
				os.WriteFile(p, nil, 0o600)
				return p
			},
			wantErr: ErrAudioUnreadable,
		},
		{
			name: "command fails",
			run: func(context.Context, string, ...string) ([]byte, error) {
				return []byte("failed to read audio"), errors.New("exit status 1")
			},
			path:    audioFile,
			wantErr: ErrDecode,
		},
		{
			name: "model fails to load",
			run: func(context.Context, string, ...string) ([]byte, error) {
				return []byte("whisper_init_from_file_with_params_no_state: loading model\nerror: failed to initialize whisper context"), errors.New("exit status 2")
			},
			path:    audioFile,
			wantErr: ErrModelLoad,
		},
		{
			name:    "no output file",
			run:     func(context.Context, string, ...string) ([]byte, error) { return nil, nil },
			path:    audioFile,
			wantErr: ErrDecode,
		},
		{
			name: "blank output",
			run: func(_ context.Context, _ string, args ...string) ([]byte, error) {
				return nil, os.WriteFile(flagValue(args, "-of")+".txt", []byte(" \n\t"), 0o600)
			},
			path:    audioFile,
			wantErr: ErrDecode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestTranscriber(t, tt.run)
			_, err := w.Transcribe(context.Background(), tt.path(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, models.ErrTranscription) {
				t.Fatalf("error should wrap ErrTranscription: %v", err)
			}
		})
	}
}

func TestTranscribeTimeout(t *testing.T) {
	w := newTestTranscriber(t, func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	w.timeout = 20 * time.Millisecond

	_, err := w.Transcribe(context.Background(), audioFile(t))
	if !errors.Is(err, models.ErrTranscription) || !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("expected deadline transcription error, got %v", err)
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(config.TranscribeConfig{ModelPath: filepath.Join(t.TempDir(), "missing.bin")})
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	_, err = New(config.TranscribeConfig{})
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for empty path, got %v", err)
	}
}

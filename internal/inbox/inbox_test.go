package inbox

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meetscribe/internal/config"
	"meetscribe/internal/intake"
	"meetscribe/internal/models"
	"meetscribe/internal/pipeline"
	"meetscribe/internal/worker"
)

type fakeRunner struct {
	mu    sync.Mutex
	err   error
	names []string
}

func (f *fakeRunner) Run(_ context.Context, src intake.Source) (*pipeline.Result, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, rc)
	rc.Close()

	f.mu.Lock()
	f.names = append(f.names, src.Name())
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{
		ID:       "run-" + src.Name(),
		FileName: src.Name(),
		Summary: &models.StructuredSummary{
			Summary:      "Short sync.",
			KeyDecisions: []string{"None"},
			ActionItems:  []string{"Bob: book room"},
		},
	}, nil
}

type inlineWorkers struct{}

func (inlineWorkers) Submit(ctx context.Context, _ string, fn func(context.Context)) error {
	fn(ctx)
	return nil
}

func startWatcher(t *testing.T, runner Runner) (config.InboxConfig, func()) {
	t.Helper()
	root := t.TempDir()
	cfg := config.InboxConfig{
		Enabled:   true,
		Dir:       filepath.Join(root, "inbox"),
		OutputDir: filepath.Join(root, "out"),
		SettleMs:  20,
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Dir, "early.mp3"), []byte("ID3early"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := New(cfg, runner, inlineWorkers{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	return cfg, func() {
		cancel()
		<-done
		w.Close()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWatcherSummarizesDroppedFiles(t *testing.T) {
	runner := &fakeRunner{}
	cfg, stop := startWatcher(t, runner)
	defer stop()

	waitFor(t, "start-up scan", func() bool {
		return exists(filepath.Join(cfg.OutputDir, "early-summary.txt"))
	})
	if exists(filepath.Join(cfg.Dir, "early.mp3")) {
		t.Fatal("processed file should be removed from the inbox")
	}

	if err := os.WriteFile(filepath.Join(cfg.Dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Dir, "standup.wav"), []byte("RIFFdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(cfg.OutputDir, "standup-summary.txt")
	waitFor(t, "dropped file", func() bool { return exists(out) })

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "Summary\nShort sync.\n\nKey Decisions\n- None\n\nAction Items\n- Bob: book room\n"
	if string(data) != want {
		t.Fatalf("unexpected export:\n%s", data)
	}
	if !exists(filepath.Join(cfg.Dir, "notes.txt")) {
		t.Fatal("non-audio files must be left alone")
	}
}

func TestWatcherMovesFailures(t *testing.T) {
	runner := &fakeRunner{err: &models.StageError{Stage: "transcribing", Err: models.ErrTranscription}}
	cfg, stop := startWatcher(t, runner)
	defer stop()

	failed := filepath.Join(cfg.Dir, failedDirName, "early.mp3")
	waitFor(t, "failed file", func() bool { return exists(failed) })
	if exists(filepath.Join(cfg.Dir, "early.mp3")) {
		t.Fatal("failed file should leave the inbox")
	}
	if exists(filepath.Join(cfg.OutputDir, "early-summary.txt")) {
		t.Fatal("no summary expected for a failed run")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(config.InboxConfig{Dir: t.TempDir()}, nil, inlineWorkers{}); err == nil {
		t.Fatal("expected error without runner")
	}
}

func TestSubmitRetriesWhileBusy(t *testing.T) {
	runner := &fakeRunner{}
	workers := &flakyWorkers{busy: 2}
	root := t.TempDir()
	cfg := config.InboxConfig{Dir: filepath.Join(root, "in"), OutputDir: filepath.Join(root, "out"), SettleMs: 1}
	w, err := New(cfg, runner, workers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	path := filepath.Join(cfg.Dir, "retro.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.process(context.Background(), path)

	if workers.calls != 3 {
		t.Fatalf("expected 3 submit attempts, got %d", workers.calls)
	}
	if !exists(filepath.Join(cfg.OutputDir, "retro-summary.txt")) {
		t.Fatal("summary not written after retries")
	}
}

type flakyWorkers struct {
	busy  int
	calls int
}

func (f *flakyWorkers) Submit(ctx context.Context, _ string, fn func(context.Context)) error {
	f.calls++
	if f.calls <= f.busy {
		return worker.ErrDispatcherBusy
	}
	fn(ctx)
	return nil
}

// Package inbox runs audio files dropped into a directory through the
// summarization pipeline and writes the text export next to them.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"meetscribe/internal/config"
	"meetscribe/internal/export"
	"meetscribe/internal/intake"
	"meetscribe/internal/logging"
	"meetscribe/internal/pipeline"
	"meetscribe/internal/worker"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
)

// ClientKey is the worker fairness key shared by every drop-folder job.
const ClientKey = "inbox"

const failedDirName = "failed"

type Runner interface {
	Run(ctx context.Context, src intake.Source) (*pipeline.Result, error)
}

type Submitter interface {
	Submit(ctx context.Context, clientKey string, fn func(context.Context)) error
}

type Watcher struct {
	dir       string
	outputDir string
	failedDir string
	settle    time.Duration
	runner    Runner
	workers   Submitter
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

func New(cfg config.InboxConfig, runner Runner, workers Submitter) (*Watcher, error) {
	if runner == nil || workers == nil {
		return nil, errors.New("inbox: runner and workers are required")
	}
	failedDir := filepath.Join(cfg.Dir, failedDirName)
	for _, dir := range []string{cfg.Dir, cfg.OutputDir, failedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("inbox: create %s: %w", dir, err)
		}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	settle := time.Duration(cfg.SettleMs) * time.Millisecond
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Watcher{
		dir:       cfg.Dir,
		outputDir: cfg.OutputDir,
		failedDir: failedDir,
		settle:    settle,
		runner:    runner,
		workers:   workers,
		watcher:   fw,
		pending:   make(map[string]struct{}),
	}, nil
}

// Start picks up files already in the inbox, then watches for new ones
// until ctx is done. It waits for in-flight files before returning.
func (w *Watcher) Start(ctx context.Context) error {
	log := logging.Named("inbox")
	log.Infow("inbox watcher started", "dir", w.dir, "output_dir", w.outputDir)
	defer w.wg.Wait()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan inbox: %w", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.schedule(ctx, filepath.Join(w.dir, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Infow("inbox watcher stopped")
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			log.Warnw("watcher error", "error", err)
		}
	}
}

// Close stops watching. Call it after Start has returned.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !intake.AllowedExtension(name) {
		return
	}
	w.mu.Lock()
	if _, ok := w.pending[path]; ok {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()
		// writers may still be copying the file in
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.settle):
		}
		w.process(ctx, path)
	}()
}

func (w *Watcher) process(ctx context.Context, path string) {
	log := logging.Named("inbox").With("file", filepath.Base(path))
	src, err := intake.FromPath(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnw("stat inbox file failed", "error", err)
		}
		return
	}

	var (
		res    *pipeline.Result
		runErr error
	)
	submit := func() (struct{}, error) {
		err := w.workers.Submit(ctx, ClientKey, func(ctx context.Context) {
			res, runErr = w.runner.Run(ctx, src)
		})
		if err != nil && !errors.Is(err, worker.ErrDispatcherBusy) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err = backoff.Retry(ctx, submit,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(2*time.Minute))
	if err == nil {
		err = runErr
	}
	if ctx.Err() != nil {
		// leave the file for the next start-up scan
		return
	}
	if err != nil {
		log.Errorw("inbox file failed", "error", err)
		w.moveToFailed(path)
		return
	}

	out := filepath.Join(w.outputDir, export.FileName(res.FileName, "txt"))
	if err := os.WriteFile(out, export.Text(res.Summary), 0o644); err != nil {
		log.Errorw("write summary failed", "path", out, "error", err)
		w.moveToFailed(path)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnw("remove inbox file failed", "error", err)
	}
	log.Infow("inbox file summarized", "result_id", res.ID, "output", out)
}

func (w *Watcher) moveToFailed(path string) {
	dest := filepath.Join(w.failedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		logging.Named("inbox").Warnw("move failed inbox file", "file", filepath.Base(path), "error", err)
		os.Remove(path)
	}
}

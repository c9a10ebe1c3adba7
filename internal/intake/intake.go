package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meetscribe/internal/logging"
	"meetscribe/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// DefaultMaxUploadBytes caps an upload when no limit is configured.
const DefaultMaxUploadBytes int64 = 200 << 20

var allowedExtensions = map[string]struct{}{
	"mp3":  {},
	"wav":  {},
	"m4a":  {},
	"flac": {},
}

// AllowedExtension reports whether name carries an accepted audio extension.
func AllowedExtension(name string) bool {
	_, ok := allowedExtensions[extension(name)]
	return ok
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Store writes validated uploads into a single directory under collision
// resistant names.
type Store struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

func New(dir string, maxBytes int64) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload dir is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload dir: %v", models.ErrStorage, err)
	}
	return &Store{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Store validates src and persists it. Nothing is written for a rejected upload.
func (s *Store) Store(ctx context.Context, src Source) (*models.UploadedAudio, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: file is required", models.ErrInvalidUpload)
	}
	name := src.Name()
	if name == "" || name == "." {
		return nil, fmt.Errorf("%w: file is required", models.ErrInvalidUpload)
	}
	ext := extension(name)
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", models.ErrInvalidUpload, filepath.Ext(name))
	}
	if src.Size() > s.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes, limit %d)", models.ErrUploadTooLarge, src.Size(), s.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open upload: %v", models.ErrStorage, err)
	}
	defer in.Close()

	id := uuid.NewString()
	dest := filepath.Join(s.dir, id+"."+ext)
	size, err := s.write(dest, in)
	if err != nil {
		os.Remove(dest)
		return nil, err
	}

	audio := &models.UploadedAudio{
		ID:         id,
		FileName:   name,
		StoredPath: dest,
		Extension:  ext,
		Size:       size,
		CreatedAt:  s.now(),
	}
	if mt, err := mimetype.DetectFile(dest); err == nil {
		audio.MimeType = mt.String()
	}
	if ext == "wav" {
		audio.Duration = wavDuration(dest)
	}
	return audio, nil
}

func (s *Store) write(dest string, in io.Reader) (int64, error) {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", models.ErrStorage, filepath.Base(dest), err)
	}
	n, copyErr := io.Copy(out, io.LimitReader(in, s.maxBytes+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		return 0, fmt.Errorf("%w: write upload: %v", models.ErrStorage, copyErr)
	case closeErr != nil:
		return 0, fmt.Errorf("%w: close upload: %v", models.ErrStorage, closeErr)
	case n > s.maxBytes:
		return 0, fmt.Errorf("%w (limit %d bytes)", models.ErrUploadTooLarge, s.maxBytes)
	}
	return n, nil
}

// wavDuration returns zero when the header cannot be read. Transcription
// decides whether the file is usable.
func wavDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	// Decoder.Duration counts the RIFF size, headers included, so the
	// length comes from the PCM chunk instead.
	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		return 0
	}
	bytesPerSec := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(dec.PCMLen() * int64(time.Second) / bytesPerSec)
}

// Release removes the stored file. Releasing twice is not an error.
func (s *Store) Release(audio *models.UploadedAudio) error {
	if audio == nil || audio.StoredPath == "" {
		return nil
	}
	if err := os.Remove(audio.StoredPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", models.ErrStorage, filepath.Base(audio.StoredPath), err)
	}
	return nil
}

// Sweep deletes files in the upload dir older than maxAge. Those can only be
// left behind by a process that died mid-run.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Named("intake").Warnw("remove orphaned upload failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Sweep(maxAge)
				if err != nil {
					logging.Named("intake").Errorw("sweep uploads failed", "error", err)
					continue
				}
				if n > 0 {
					logging.Named("intake").Infow("removed orphaned uploads", "count", n)
				}
			}
		}
	}()
}

package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meetscribe/internal/models"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func fileHeader(t *testing.T, name string, body []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(body)
	mw.Close()

	form, err := multipart.NewReader(&buf, mw.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["file"][0]
}

func wavBytes(t *testing.T, seconds int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	const rate = 8000
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, rate*seconds),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStoreAcceptsAudio(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audioFile, err := store.Store(context.Background(), FromFileHeader(fileHeader(t, "Meeting.WAV", wavBytes(t, 2))))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if audioFile.FileName != "Meeting.WAV" || audioFile.Extension != "wav" {
		t.Fatalf("unexpected handle %+v", audioFile)
	}
	if filepath.Dir(audioFile.StoredPath) != dir || !strings.HasSuffix(audioFile.StoredPath, ".wav") {
		t.Fatalf("unexpected stored path %q", audioFile.StoredPath)
	}
	if audioFile.Duration != 2*time.Second {
		t.Fatalf("expected 2s duration, got %s", audioFile.Duration)
	}
	if !strings.Contains(audioFile.MimeType, "wav") {
		t.Fatalf("unexpected mime %q", audioFile.MimeType)
	}
	if _, err := os.Stat(audioFile.StoredPath); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
}

func TestStoreUniqueNames(t *testing.T) {
	store, err := New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := store.Store(context.Background(), FromFileHeader(fileHeader(t, "same.mp3", []byte("ID3 one"))))
	if err != nil {
		t.Fatalf("Store a: %v", err)
	}
	b, err := store.Store(context.Background(), FromFileHeader(fileHeader(t, "same.mp3", []byte("ID3 two"))))
	if err != nil {
		t.Fatalf("Store b: %v", err)
	}
	if a.StoredPath == b.StoredPath || a.ID == b.ID {
		t.Fatalf("expected distinct stored files, got %q twice", a.StoredPath)
	}
}

func TestStoreRejects(t *testing.T) {
	tests := []struct {
		name    string
		src     func(t *testing.T) Source
		wantErr error
	}{
		{name: "missing file", src: func(t *testing.T) Source { return FromFileHeader(nil) }, wantErr: models.ErrInvalidUpload},
		{name: "text file", src: func(t *testing.T) Source { return FromFileHeader(fileHeader(t, "notes.txt", []byte("hello"))) }, wantErr: models.ErrInvalidUpload},
		{name: "no extension", src: func(t *testing.T) Source { return FromFileHeader(fileHeader(t, "recording", []byte("x"))) }, wantErr: models.ErrInvalidUpload},
		{name: "too large", src: func(t *testing.T) Source { return FromFileHeader(fileHeader(t, "big.flac", make([]byte, 64))) }, wantErr: models.ErrUploadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store, err := New(dir, 32)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = store.Store(context.Background(), tt.src(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if names := dirEntries(t, dir); len(names) != 0 {
				t.Fatalf("rejected upload left files behind: %v", names)
			}
		})
	}
}

type lyingSource struct {
	body []byte
}

func (s lyingSource) Name() string { return "short.m4a" }
func (s lyingSource) Size() int64  { return 1 }
func (s lyingSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.body)), nil
}

func TestStoreEnforcesLimitWhileCopying(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = store.Store(context.Background(), lyingSource{body: make([]byte, 100)})
	if !errors.Is(err, models.ErrUploadTooLarge) {
		t.Fatalf("expected ErrUploadTooLarge, got %v", err)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Fatalf("partial file left behind: %v", names)
	}
}

func TestStoreUnwritableDir(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	_, err = store.Store(context.Background(), FromFileHeader(fileHeader(t, "a.mp3", []byte("ID3"))))
	if !errors.Is(err, models.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	store, err := New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := store.Store(context.Background(), FromFileHeader(fileHeader(t, "a.flac", []byte("fLaC"))))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := store.Release(a); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := store.Release(a); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := os.Stat(a.StoredPath); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	if err := store.Release(nil); err != nil {
		t.Fatalf("nil release: %v", err)
	}
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	oldPath := filepath.Join(dir, "old.wav")
	newPath := filepath.Join(dir, "new.wav")
	for _, p := range []string{oldPath, newPath} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	n, err := store.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removal, got %d", n)
	}
	if names := dirEntries(t, dir); len(names) != 1 || names[0] != "new.wav" {
		t.Fatalf("unexpected remaining files %v", names)
	}
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standup.mp3")
	if err := os.WriteFile(path, []byte("ID3data"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := FromPath(path)
	if err != nil {
		t.Fatalf("FromPath: %v", err)
	}
	if src.Name() != "standup.mp3" || src.Size() != 7 {
		t.Fatalf("unexpected source %s/%d", src.Name(), src.Size())
	}
	if !AllowedExtension("X.MP3") || AllowedExtension("x.ogg") {
		t.Fatal("AllowedExtension mismatch")
	}
}

func TestWavDuration(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data []byte
		want time.Duration
	}{
		{name: "one second", data: wavBytes(t, 1), want: time.Second},
		{name: "three seconds", data: wavBytes(t, 3), want: 3 * time.Second},
		{name: "not a wav", data: []byte("ID3 definitely not riff"), want: 0},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("clip%d.wav", i))
			if err := os.WriteFile(path, tt.data, 0o600); err != nil {
				t.Fatal(err)
			}
			if got := wavDuration(path); got != tt.want {
				t.Fatalf("wavDuration = %s, want %s", got, tt.want)
			}
		})
	}
}

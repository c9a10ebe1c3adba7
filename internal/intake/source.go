package intake

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// Source is an audio file waiting to be stored. Uploads and drop-folder
// files both come in through it.
type Source interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type fileHeaderSource struct {
	fh *multipart.FileHeader
}

// FromFileHeader adapts a multipart upload. A nil header yields a nil Source.
func FromFileHeader(fh *multipart.FileHeader) Source {
	if fh == nil {
		return nil
	}
	return fileHeaderSource{fh: fh}
}

func (s fileHeaderSource) Name() string { return filepath.Base(s.fh.Filename) }
func (s fileHeaderSource) Size() int64  { return s.fh.Size }
func (s fileHeaderSource) Open() (io.ReadCloser, error) {
	return s.fh.Open()
}

type pathSource struct {
	path string
	size int64
}

// FromPath adapts a file already on disk.
func FromPath(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return pathSource{path: path, size: info.Size()}, nil
}

func (s pathSource) Name() string { return filepath.Base(s.path) }
func (s pathSource) Size() int64  { return s.size }
func (s pathSource) Open() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// Package media describes the image file a user selects for upload.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	imageTypePrefix = "image/"
	sniffLen        = 512
)

// ErrNotImage indicates that a selected file is not an image.
var ErrNotImage = errors.New("selected file is not an image")

// File is a user-selected file: a name plus a way to read its bytes.
type File struct {
	open     func() (io.ReadCloser, error)
	Name     string
	MIMEType string
	Size     int64
}

// New builds a File around an opener.
func New(name, mimeType string, size int64, open func() (io.ReadCloser, error)) *File {
	return &File{open: open, Name: name, MIMEType: mimeType, Size: size}
}

// FromBytes wraps in-memory data, e.g. a browser upload or an object store download.
func FromBytes(name string, data []byte) *File {
	return &File{
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
		Name:     name,
		MIMEType: DetectType(name, data),
		Size:     int64(len(data)),
	}
}

// FromPath selects a file on disk. Only the header is read here; the body is
// read again when the file is encoded.
func FromPath(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat '%s': %w", path, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("'%s' is a directory", path)
	}

	head, err := readHead(path)
	if err != nil {
		return nil, err
	}

	return &File{
		open: func() (io.ReadCloser, error) {
			return os.Open(filepath.Clean(path))
		},
		Name:     filepath.Base(path),
		MIMEType: DetectType(path, head),
		Size:     info.Size(),
	}, nil
}

// Open returns a reader over the file's bytes.
func (f *File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file '%s' has no content", f.Name)
	}

	return f.open()
}

// IsImage reports whether the file looks like an image.
func (f *File) IsImage() bool {
	return f != nil && strings.HasPrefix(f.MIMEType, imageTypePrefix)
}

// RequireImage returns ErrNotImage unless the file is an image.
func RequireImage(f *File) error {
	if !f.IsImage() {
		name := ""
		if f != nil {
			name = f.Name
		}

		return fmt.Errorf("%w: '%s'", ErrNotImage, name)
	}

	return nil
}

// DetectType prefers content sniffing and falls back to the file extension.
func DetectType(name string, head []byte) string {
	if len(head) > 0 {
		sniffed := http.DetectContentType(head)
		if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
			return sniffed
		}
	}

	byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if byExt != "" {
		return byExt
	}

	return "application/octet-stream"
}

func readHead(path string) ([]byte, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer file.Close()

	buf := make([]byte, sniffLen)

	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read '%s': %w", path, err)
	}

	return buf[:n], nil
}

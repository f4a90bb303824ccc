// Package encoder turns a selected file into the base64 text carried by the
// upload request.
package encoder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/image-audio/internal/media"
)

const (
	chunkSize     = 48 * 1024 // multiple of 3 so chunks encode without padding
	dataURLScheme = "data:"
	dataURLBase64 = ";base64,"
)

// FileReadError wraps a failure to read the selected file.
type FileReadError struct {
	Err  error
	Name string
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read file '%s': %v", e.Name, e.Err)
}

func (e *FileReadError) Unwrap() error {
	return e.Err
}

// Encode reads the whole file and returns its standard base64 encoding,
// without any data URL prefix. Cancellation is checked between chunks.
func Encode(ctx context.Context, file *media.File) (string, error) {
	if file == nil {
		return "", &FileReadError{Err: errors.New("no file selected"), Name: ""}
	}

	reader, err := file.Open()
	if err != nil {
		return "", &FileReadError{Err: err, Name: file.Name}
	}
	defer reader.Close()

	var out strings.Builder

	out.Grow(base64.StdEncoding.EncodedLen(int(file.Size)))

	buf := make([]byte, chunkSize)
	filled := 0

	for {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return "", &FileReadError{Err: ctxErr, Name: file.Name}
		}

		n, readErr := io.ReadFull(reader, buf[filled:])
		filled += n

		if filled == len(buf) {
			out.WriteString(base64.StdEncoding.EncodeToString(buf))
			filled = 0
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}

		if readErr != nil {
			return "", &FileReadError{Err: readErr, Name: file.Name}
		}
	}

	out.WriteString(base64.StdEncoding.EncodeToString(buf[:filled]))

	return out.String(), nil
}

// DataURL returns the data URL form a browser file reader produces.
func DataURL(mimeType string, data []byte) string {
	return dataURLScheme + mimeType + dataURLBase64 + base64.StdEncoding.EncodeToString(data)
}

// StripDataURLPrefix drops everything up to and including the first comma.
// Input without a data URL prefix is returned unchanged.
func StripDataURLPrefix(value string) string {
	if !strings.HasPrefix(value, dataURLScheme) {
		return value
	}

	_, payload, found := strings.Cut(value, ",")
	if !found {
		return ""
	}

	return payload
}

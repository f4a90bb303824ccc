// Package core defines the interfaces the uploader component is built against.
package core

import (
	"context"

	"github.com/book-expert/image-audio/internal/client"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ImageUploader sends an encoded image to the pipeline.
type ImageUploader interface {
	Upload(ctx context.Context, req client.UploadRequest) error
}

// AudioLocator looks up the URL of the audio generated for an image key.
type AudioLocator interface {
	FetchAudioURL(ctx context.Context, imageKey string) (string, error)
}

// AudioDownloader fetches the bytes behind an audio URL.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, audioURL string) ([]byte, error)
}

// Pipeline is everything the component needs from the remote side.
type Pipeline interface {
	ImageUploader
	AudioLocator
}

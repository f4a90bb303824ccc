package workflow

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/book-expert/image-audio/internal/core"
	"github.com/book-expert/image-audio/internal/media"
	"github.com/book-expert/logger"
)

const defaultAudioExt = ".mp3"

// Archiver keeps a copy of each uploaded image and its generated audio.
// Failures are logged and never change the workflow status.
type Archiver struct {
	images     core.ObjectStore
	audio      core.ObjectStore
	downloader core.AudioDownloader
	log        *logger.Logger
}

// NewArchiver creates an Archiver. images or audio may be nil to skip that half.
func NewArchiver(
	images, audio core.ObjectStore,
	downloader core.AudioDownloader,
	log *logger.Logger,
) *Archiver {
	return &Archiver{
		images:     images,
		audio:      audio,
		downloader: downloader,
		log:        log,
	}
}

// Archive stores the image under its filename and the audio under AudioKey.
func (a *Archiver) Archive(ctx context.Context, file *media.File, audioURL string) {
	if a.images != nil {
		err := a.storeImage(ctx, file)
		if err != nil {
			a.log.Warn("Failed to archive image '%s': %v", file.Name, err)
		}
	}

	if a.audio == nil || a.downloader == nil {
		return
	}

	data, err := a.downloader.DownloadAudio(ctx, audioURL)
	if err != nil {
		a.log.Warn("Failed to download audio for '%s': %v", file.Name, err)

		return
	}

	key := AudioKey(file.Name, audioURL)

	err = a.audio.Upload(ctx, key, data)
	if err != nil {
		a.log.Warn("Failed to archive audio '%s': %v", key, err)

		return
	}

	a.log.Info("Archived audio for '%s' as '%s' (%d bytes)", file.Name, key, len(data))
}

func (a *Archiver) storeImage(ctx context.Context, file *media.File) error {
	reader, err := file.Open()
	if err != nil {
		return err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	return a.images.Upload(ctx, file.Name, data)
}

// AudioKey derives the archive key of the audio from the image name and the
// extension of the audio URL path, e.g. "cat.png" + ".../x.wav?sig" -> "cat.wav".
func AudioKey(imageName, audioURL string) string {
	ext := defaultAudioExt

	parsed, err := url.Parse(audioURL)
	if err == nil {
		if urlExt := path.Ext(parsed.Path); urlExt != "" {
			ext = strings.ToLower(urlExt)
		}
	}

	return strings.TrimSuffix(imageName, path.Ext(imageName)) + ext
}

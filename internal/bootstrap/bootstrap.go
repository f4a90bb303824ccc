// Package bootstrap holds the start-up sequence shared by the commands:
// environment, configuration, logging and the optional NATS stores.
package bootstrap

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/image-audio/internal/client"
	"github.com/book-expert/image-audio/internal/config"
	"github.com/book-expert/image-audio/internal/objectstore"
	"github.com/book-expert/image-audio/internal/poller"
	"github.com/book-expert/image-audio/internal/workflow"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

const bootstrapLogFile = "image-audio-bootstrap.log"

// ErrNATSNotConfigured is returned by ConnectStores when nats.url is empty.
var ErrNATSNotConfigured = errors.New("nats url is not configured")

// Setup loads .env, the configuration (configPath, or the configurator when
// empty) and opens the final logger in the configured log directory.
func Setup(configPath, logFileName string) (*config.Config, *logger.Logger, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	cfg, err := loadConfig(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, err
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, nil, fmt.Errorf("failed to create final logger: %w", err)
	}

	return cfg, finalLog, nil
}

func loadConfig(configPath string, log *logger.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}

		return cfg, nil
	}

	cfg, err := config.Load(log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// NewHTTPClient builds the pipeline client from configuration.
func NewHTTPClient(cfg *config.Config) *client.HTTPClient {
	return client.NewHTTPClient(cfg.UploadEndpoint(), cfg.ResultEndpoint(), cfg.ClientTimeout())
}

// NewPoller builds the poll step from configuration.
func NewPoller(cfg *config.Config) *poller.Poller {
	return poller.New(cfg.PollDelay())
}

// Stores are the NATS object stores for images and audio.
type Stores struct {
	Conn   *nats.Conn
	Images *objectstore.NatsObjectStore
	Audio  *objectstore.NatsObjectStore
}

// Close closes the NATS connection.
func (s *Stores) Close() {
	s.Conn.Close()
}

// Archiver returns a workflow archiver over both buckets.
func (s *Stores) Archiver(downloader *client.HTTPClient, log *logger.Logger) *workflow.Archiver {
	return workflow.NewArchiver(s.Images, s.Audio, downloader, log)
}

// ConnectStores connects to NATS and opens the image and audio buckets.
func ConnectStores(cfg *config.Config) (*Stores, error) {
	if cfg.NATS.URL == "" {
		return nil, ErrNATSNotConfigured
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	images, err := objectstore.New(jetstreamContext, cfg.NATS.ImageBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	audio, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	return &Stores{Conn: natsConnection, Images: images, Audio: audio}, nil
}

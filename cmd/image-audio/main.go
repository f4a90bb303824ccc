package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/book-expert/image-audio/internal/bootstrap"
	"github.com/book-expert/image-audio/internal/client"
	"github.com/book-expert/image-audio/internal/config"
	"github.com/book-expert/image-audio/internal/media"
	"github.com/book-expert/image-audio/internal/presenter"
	"github.com/book-expert/image-audio/internal/workflow"
	"github.com/book-expert/logger"
)

// Flag descriptions.
const (
	flagImageDesc   = "Image file to upload"
	flagConfigDesc  = "Path to a project.toml (defaults to the configurator lookup)"
	flagSaveDesc    = "Download the generated audio into paths.audio_output_dir"
	flagArchiveDesc = "Archive the image and audio in the configured NATS buckets"
	flagVerboseDesc = "Write a verbose log file"
)

// Flag names.
const (
	flagImage   = "image"
	flagConfig  = "config"
	flagSave    = "save"
	flagArchive = "archive"
	flagVerbose = "verbose"
)

// Error and log messages.
const (
	errImageRequired       = "--image must be provided"
	errFailedToSelect      = "failed to select image: %w"
	errFailedToSaveAudio   = "failed to save audio: %w"
	errFailedToOpenStores  = "failed to open NATS stores: %w"
	errFmtWorkflowFinished = "Workflow finished with error: %s"
	logClientInitialized   = "Uploader initialized (upload: %s, lookup: %s)"
	logSavedAudio          = "Saved audio to %s"
	msgSavedAudio          = "Saved: %s\n"
)

// File names and permissions.
const (
	logFileNameDefault = "image-audio.log"
	logFileNameVerbose = "image-audio-verbose.log"
	fileMode           = 0o600
	dirMode            = 0o750
)

// errWorkflowFailed signals a non-zero exit after the status was already printed.
var errWorkflowFailed = errors.New("upload did not produce audio")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	image   string
	config  string
	save    bool
	archive bool
	verbose bool
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run() error {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	err := validateFlags(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	cfg, appLog, err := bootstrap.Setup(flags.config, logFileName)
	if err != nil {
		return err
	}
	defer appLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return execute(ctx, cfg, appLog, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(flagSet *flag.FlagSet, args []string) appFlags {
	var flags appFlags

	flagSet.StringVar(&flags.image, flagImage, "", flagImageDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.BoolVar(&flags.save, flagSave, false, flagSaveDesc)
	flagSet.BoolVar(&flags.archive, flagArchive, false, flagArchiveDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)

	_ = flagSet.Parse(args)

	return flags
}

// validateFlags checks required flags before any setup work.
func validateFlags(flags appFlags) error {
	if flags.image == "" {
		return errors.New(errImageRequired)
	}

	return nil
}

// selectImage opens the file and applies the image/* restriction of the picker.
func selectImage(path string) (*media.File, error) {
	file, err := media.FromPath(path)
	if err != nil {
		return nil, fmt.Errorf(errFailedToSelect, err)
	}

	err = media.RequireImage(file)
	if err != nil {
		return nil, fmt.Errorf(errFailedToSelect, err)
	}

	return file, nil
}

// execute runs one attempt and reports the outcome on stdout.
func execute(ctx context.Context, cfg *config.Config, appLog *logger.Logger, flags appFlags) error {
	file, err := selectImage(flags.image)
	if err != nil {
		return err
	}

	httpClient := bootstrap.NewHTTPClient(cfg)

	var opts []workflow.Option

	if flags.archive {
		stores, storeErr := bootstrap.ConnectStores(cfg)
		if storeErr != nil {
			return fmt.Errorf(errFailedToOpenStores, storeErr)
		}
		defer stores.Close()

		opts = append(opts, workflow.WithArchiver(stores.Archiver(httpClient, appLog)))
	}

	component := workflow.New(httpClient, bootstrap.NewPoller(cfg), appLog, opts...)
	appLog.Info(logClientInitialized, cfg.UploadEndpoint(), cfg.ResultEndpoint())

	unsubscribe := component.Subscribe(presenter.NewText(os.Stdout).Render)
	defer unsubscribe()

	component.Select(file)

	err = component.Upload(ctx)
	if err != nil {
		return err
	}

	state := component.State()
	if state.Status != workflow.StatusReady {
		appLog.Error(errFmtWorkflowFinished, state.Text())

		return errWorkflowFailed
	}

	if flags.save {
		return saveAudio(ctx, httpClient, cfg.Paths.AudioOutputDir, file.Name, state.AudioURL, appLog)
	}

	return nil
}

// saveAudio downloads the ready audio next to the configured output directory.
func saveAudio(
	ctx context.Context,
	httpClient *client.HTTPClient,
	outputDir, imageName, audioURL string,
	appLog *logger.Logger,
) error {
	data, err := httpClient.DownloadAudio(ctx, audioURL)
	if err != nil {
		return fmt.Errorf(errFailedToSaveAudio, err)
	}

	err = os.MkdirAll(outputDir, dirMode)
	if err != nil {
		return fmt.Errorf(errFailedToSaveAudio, err)
	}

	outputPath := filepath.Join(outputDir, workflow.AudioKey(imageName, audioURL))

	err = os.WriteFile(outputPath, data, fileMode)
	if err != nil {
		return fmt.Errorf(errFailedToSaveAudio, err)
	}

	appLog.Info(logSavedAudio, outputPath)
	fmt.Printf(msgSavedAudio, outputPath)

	return nil
}

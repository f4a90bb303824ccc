// main package for the image-audio NATS worker
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/image-audio/internal/bootstrap"
	"github.com/book-expert/image-audio/internal/worker"
	"github.com/book-expert/image-audio/internal/workflow"
)

const logFileName = "image-audio-worker.log"

func run() error {
	configPath := flag.String("config", "", "Path to a project.toml (defaults to the configurator lookup)")
	archive := flag.Bool("archive", true, "Archive generated audio in the audio bucket")
	flag.Parse()

	// 1. Configuration and logging
	cfg, log, err := bootstrap.Setup(*configPath, logFileName)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	// 2. NATS connection and buckets
	stores, err := bootstrap.ConnectStores(cfg)
	if err != nil {
		log.Error("Failed to open NATS stores: %v", err)

		return fmt.Errorf("failed to open NATS stores: %w", err)
	}
	defer stores.Close()

	// 3. One component per request, sharing the HTTP client and archiver
	httpClient := bootstrap.NewHTTPClient(cfg)
	poll := bootstrap.NewPoller(cfg)

	var opts []workflow.Option
	if *archive {
		opts = append(opts, workflow.WithArchiver(stores.Archiver(httpClient, log)))
	}

	factory := func() *workflow.Component {
		return workflow.New(httpClient, poll, log, opts...)
	}

	natsWorker := worker.NewNatsWorker(stores.Conn, cfg.NATS.JobSubject, stores.Images, factory, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.System("Image-audio worker initialized. Images from bucket %s, requests on subject: %s",
		cfg.NATS.ImageBucket, cfg.NATS.JobSubject)

	return natsWorker.Run(ctx)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Worker exited with error: %v\n", err)
		os.Exit(1)
	}
}

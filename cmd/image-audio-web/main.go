// main package for the image-audio browser front end
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/image-audio/internal/bootstrap"
	"github.com/book-expert/image-audio/internal/web"
	"github.com/book-expert/image-audio/internal/workflow"
)

const logFileName = "image-audio-web.log"

func run() error {
	configPath := flag.String("config", "", "Path to a project.toml (defaults to the configurator lookup)")
	addr := flag.String("addr", "", "Listen address (overrides web.listen_addr)")
	flag.Parse()

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

	httpClient := bootstrap.NewHTTPClient(cfg)

	var opts []workflow.Option

	// Archiving is optional for the browser front end.
	stores, err := bootstrap.ConnectStores(cfg)

	switch {
	case errors.Is(err, bootstrap.ErrNATSNotConfigured):
		log.Info("NATS not configured, archiving disabled")
	case err != nil:
		log.Warn("Archiving disabled: %v", err)
	default:
		defer stores.Close()

		opts = append(opts, workflow.WithArchiver(stores.Archiver(httpClient, log)))
	}

	component := workflow.New(httpClient, bootstrap.NewPoller(cfg), log, opts...)

	listenAddr := cfg.Web.ListenAddr
	if *addr != "" {
		listenAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return web.NewServer(component, log).ListenAndServe(ctx, listenAddr)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Web front end exited with error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"

	"github.com/fieldmark-hq/fieldmark/internal/config"
	"github.com/fieldmark-hq/fieldmark/internal/detect"
	"github.com/fieldmark-hq/fieldmark/internal/esign"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/server"
	"github.com/fieldmark-hq/fieldmark/internal/services"
	"github.com/fieldmark-hq/fieldmark/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error.", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.LogLevel)

	ctx := context.Background()

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return err
	}
	defer firestoreClient.Close()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create Storage client: %w", err)
	}
	defer storageClient.Close()

	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion)
	if err != nil {
		return err
	}
	defer vertexClient.Close()

	templates := store.NewTemplateStore(firestoreClient, cfg.TemplatesCollection)
	forms := store.NewFormStore(firestoreClient, cfg.FormsCollection)
	documents := store.NewDocumentStore(firestoreClient, cfg.DocumentsCollection)

	detector := detect.New(vertexClient)
	ingestor, err := services.NewIngestor(ctx, cfg, storageClient, documents, detector)
	if err != nil {
		return err
	}
	filler := services.NewFiller(cfg, storageClient, templates, documents, forms)
	visualizer := services.NewVisualizer(cfg, storageClient, templates)
	esignClient := esign.NewClient(cfg.ESignBaseURL, cfg.ESignAPIKey)
	exporter := services.NewExporter(storageClient, forms, esignClient)

	api := server.New(cfg, templates, forms, documents, ingestor, filler, exporter,
		visualizer, server.GCSBlobReader{Client: storageClient})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Form server listening.", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("Shutting down.", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

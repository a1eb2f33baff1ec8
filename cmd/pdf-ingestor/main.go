package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fieldmark-hq/fieldmark/internal/config"
	"github.com/fieldmark-hq/fieldmark/internal/detect"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/services"
	"github.com/fieldmark-hq/fieldmark/internal/store"
)

var (
	ingestorInstance *services.Ingestor
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework routes storage
	// object-finalized events here.
	functions.CloudEvent("IngestPDF", ingestPDF)
}

// main is required by the Go Functions Framework.
func main() {}

// ingestPDF is the Cloud Function entry point for bucket drops.
func ingestPDF(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestorInstance, initErr = newIngestor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	if _, err := ingestorInstance.ProcessEvent(ctx, gcsEvent); err != nil {
		// The error is already logged with context inside the pipeline.
		return err
	}
	return nil
}

func newIngestor(ctx context.Context) (*services.Ingestor, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion)
	if err != nil {
		return nil, err
	}

	documents := store.NewDocumentStore(firestoreClient, cfg.DocumentsCollection)
	detector := detect.New(vertexClient)
	return services.NewIngestor(ctx, cfg, storageClient, documents, detector)
}

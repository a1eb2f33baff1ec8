package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/fieldmark-hq/fieldmark/internal/config"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/pdffill"
	"github.com/fieldmark-hq/fieldmark/internal/store"
)

// Visualizer renders a template's source PDF with one color-coded marker
// per field, so reviewers can see where detection landed and how sure it
// was.
type Visualizer struct {
	storageClient *storage.Client
	templates     *store.TemplateStore
	config        *config.Config
}

// NewVisualizer creates the template visualization service.
func NewVisualizer(cfg *config.Config, storageClient *storage.Client, templates *store.TemplateStore) *Visualizer {
	return &Visualizer{
		storageClient: storageClient,
		templates:     templates,
		config:        cfg,
	}
}

// Visualize stamps field markers onto the template's source PDF and
// uploads the artifact. The object name carries the template version, so
// re-rendering after an edit produces a fresh artifact.
func (v *Visualizer) Visualize(ctx context.Context, templateID string) ([]string, error) {
	tpl, err := v.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("templateId", tpl.ID, "version", tpl.Version)

	tempDir, err := os.MkdirTemp("", "pdf-visualize-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	bucket, object, err := gcp.ParseObjectURI(tpl.Document.GCSUri)
	if err != nil {
		return nil, err
	}
	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, v.storageClient, bucket, object, sourcePath); err != nil {
		return nil, err
	}

	dims, err := pdffill.PageDims(sourcePath)
	if err != nil {
		return nil, err
	}
	marks := pdffill.BuildFieldLabels(tpl, dims,
		v.config.HighConfidenceThreshold, v.config.MediumConfidenceThreshold)

	outPath := filepath.Join(tempDir, "visualization.pdf")
	if err := pdffill.Apply(sourcePath, outPath, marks); err != nil {
		return nil, err
	}

	destObject := fmt.Sprintf("visualizations/%s/v%d.pdf", tpl.ID, tpl.Version)
	if err := gcp.UploadFileWithRetry(ctx, v.storageClient, outPath, v.config.ArtifactsBucket, destObject); err != nil {
		return nil, err
	}
	logCtx.Info("Visualization rendered.", "fieldCount", len(tpl.Fields))
	return []string{gcp.ObjectURI(v.config.ArtifactsBucket, destObject)}, nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"

	"github.com/fieldmark-hq/fieldmark/internal/esign"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/models"
	"github.com/fieldmark-hq/fieldmark/internal/store"
)

const destinationESign = "esign"

// Exporter pushes a filled form's PDF to the e-signature platform.
// Every attempt, failed ones included, is recorded on the form.
type Exporter struct {
	storageClient *storage.Client
	forms         *store.FormStore
	esignClient   *esign.Client
}

// NewExporter creates the export service.
func NewExporter(storageClient *storage.Client, forms *store.FormStore, esignClient *esign.Client) *Exporter {
	return &Exporter{
		storageClient: storageClient,
		forms:         forms,
		esignClient:   esignClient,
	}
}

// Export sends the form's filled PDF out for signature. On success the
// form moves to exported; a failed attempt leaves the status alone but
// still lands in the export history.
func (e *Exporter) Export(ctx context.Context, formID string, req *models.ExportRequest) (*models.ExportResponse, error) {
	logCtx := slog.With("formId", formID, "destination", req.Destination)

	form, err := e.forms.Get(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form.FilledGCSUri == "" {
		return nil, fmt.Errorf("form %s has no filled PDF to export", formID)
	}

	bucket, object, err := gcp.ParseObjectURI(form.FilledGCSUri)
	if err != nil {
		return nil, err
	}
	pdf, err := gcp.ReadObject(ctx, e.storageClient, bucket, object)
	if err != nil {
		return nil, err
	}

	destination := req.Destination
	if destination == "" {
		destination = destinationESign
	}

	env, envErr := e.esignClient.CreateEnvelope(ctx, form.Name, pdf, esign.Recipient{
		Email: req.RecipientEmail,
		Name:  req.RecipientName,
	})

	rec := models.ExportRecord{
		Destination: destination,
		Timestamp:   time.Now(),
	}
	if envErr != nil {
		rec.Status = "failed"
	} else {
		rec.Status = env.Status
		rec.EnvelopeID = env.ID
	}
	if err := e.forms.AddExport(ctx, formID, rec); err != nil {
		logCtx.Error("Failed to record export attempt.", "error", err)
		if envErr == nil {
			return nil, err
		}
	}
	if envErr != nil {
		logCtx.Error("Export to e-signature platform failed.", "error", envErr)
		return nil, fmt.Errorf("export failed: %w", envErr)
	}

	if err := e.forms.UpdateStatus(ctx, formID, models.FormStatusExported); err != nil {
		return nil, err
	}
	logCtx.Info("Form exported.", "envelopeId", env.ID)

	return &models.ExportResponse{
		Message:    "Form exported for signature.",
		FormID:     formID,
		EnvelopeID: env.ID,
		Status:     rec.Status,
	}, nil
}

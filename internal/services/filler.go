package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/fieldmark-hq/fieldmark/internal/config"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/models"
	"github.com/fieldmark-hq/fieldmark/internal/pdffill"
	"github.com/fieldmark-hq/fieldmark/internal/store"
)

// Filler applies a template's checkbox layout to an uploaded PDF and
// stores the stamped copy as a new filled form.
type Filler struct {
	storageClient *storage.Client
	templates     *store.TemplateStore
	documents     *store.DocumentStore
	forms         *store.FormStore
	config        *config.Config
}

// NewFiller creates the form-filling service.
func NewFiller(cfg *config.Config, storageClient *storage.Client, templates *store.TemplateStore, documents *store.DocumentStore, forms *store.FormStore) *Filler {
	return &Filler{
		storageClient: storageClient,
		templates:     templates,
		documents:     documents,
		forms:         forms,
		config:        cfg,
	}
}

// Fill stamps the template's checked boxes onto the target document and
// creates a draft filled form pinned to the template version used.
func (f *Filler) Fill(ctx context.Context, req *models.FillFormRequest) (*models.FilledForm, error) {
	logCtx := slog.With("templateId", req.TemplateID, "documentId", req.DocumentID)

	tpl, err := f.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	doc, err := f.documents.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.DocumentStatusReady && doc.Status != models.DocumentStatusUploaded {
		return nil, fmt.Errorf("document %s is not fillable in status %s", doc.ID, doc.Status)
	}

	tempDir, err := os.MkdirTemp("", "pdf-fill-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	bucket, object, err := gcp.ParseObjectURI(doc.GCSUri)
	if err != nil {
		return nil, err
	}
	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, f.storageClient, bucket, object, sourcePath); err != nil {
		return nil, err
	}

	dims, err := pdffill.PageDims(sourcePath)
	if err != nil {
		return nil, err
	}

	values, unknown := pdffill.ResolveValues(tpl, req.FieldValues)
	if len(unknown) > 0 {
		// Unknown ids are tolerated, the caller may be working against a
		// newer template version.
		logCtx.Warn("Ignoring field values with unknown field ids.", "fieldIds", unknown)
	}

	marks := pdffill.BuildCheckMarks(tpl, values, dims, req.PreserveAspect)
	filledPath := filepath.Join(tempDir, "filled.pdf")
	if err := pdffill.Apply(sourcePath, filledPath, marks); err != nil {
		return nil, err
	}

	destObject := fmt.Sprintf("forms/%s/filled.pdf", uuid.NewString())
	if err := gcp.UploadFileWithRetry(ctx, f.storageClient, filledPath, f.config.ArtifactsBucket, destObject); err != nil {
		return nil, err
	}
	filledURI := gcp.ObjectURI(f.config.ArtifactsBucket, destObject)

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s - %s", tpl.Name, doc.OriginalFilename)
	}
	docInfo := models.DocumentInfo{
		OriginalFilename: doc.OriginalFilename,
		FileSize:         doc.FileSize,
		PageCount:        doc.PageCount,
		PageDims:         doc.PageDims,
		MIMEType:         "application/pdf",
		GCSUri:           doc.GCSUri,
	}

	form, err := f.forms.Create(ctx, tpl.ID, tpl.Version, name, docInfo, filledURI, values, req.PreserveAspect)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Filled form created.", "formId", form.ID, "markCount", len(marks))
	return form, nil
}

// Refill re-stamps an existing form's document with updated values and
// replaces the filled artifact in place.
func (f *Filler) Refill(ctx context.Context, form *models.FilledForm, values []models.FieldValue) error {
	// The form is pinned to the template version in effect at fill time.
	// Older versions live in the revisions subcollection.
	tpl, err := f.templates.Get(ctx, form.TemplateID)
	if err != nil {
		return err
	}
	if tpl.Version != form.TemplateVersion {
		tpl, err = f.templates.Revision(ctx, form.TemplateID, form.TemplateVersion)
		if err != nil {
			return err
		}
	}

	tempDir, err := os.MkdirTemp("", "pdf-refill-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	srcBucket, srcObject, err := gcp.ParseObjectURI(form.Document.GCSUri)
	if err != nil {
		return err
	}
	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, f.storageClient, srcBucket, srcObject, sourcePath); err != nil {
		return err
	}

	dims, err := pdffill.PageDims(sourcePath)
	if err != nil {
		return err
	}
	resolved, _ := pdffill.ResolveValues(tpl, values)
	marks := pdffill.BuildCheckMarks(tpl, resolved, dims, form.PreserveAspect)

	filledPath := filepath.Join(tempDir, "filled.pdf")
	if err := pdffill.Apply(sourcePath, filledPath, marks); err != nil {
		return err
	}

	dstBucket, dstObject, err := gcp.ParseObjectURI(form.FilledGCSUri)
	if err != nil {
		return err
	}
	return gcp.UploadFileWithRetry(ctx, f.storageClient, filledPath, dstBucket, dstObject)
}

// Package services holds the processing pipelines behind the API: PDF
// ingest and checkbox detection, form filling, template visualization and
// export to the e-signature platform.
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/fieldmark-hq/fieldmark/internal/config"
	"github.com/fieldmark-hq/fieldmark/internal/detect"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/models"
	"github.com/fieldmark-hq/fieldmark/internal/pdffill"
	"github.com/fieldmark-hq/fieldmark/internal/store"
)

const (
	uploadConcurrency = 10
	detectConcurrency = 4
)

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Ingestor turns an uploaded PDF into a processed document record with
// detected checkbox fields: dedupe, optimize, split into pages, detect
// per page, persist.
type Ingestor struct {
	storageClient    *storage.Client
	documents        *store.DocumentStore
	detector         *detect.Detector
	executionsClient *executions.Client
	config           *config.Config
}

// NewIngestor creates the ingest pipeline. The workflow executions client
// is only created when a post-ingest workflow is configured.
func NewIngestor(ctx context.Context, cfg *config.Config, storageClient *storage.Client, documents *store.DocumentStore, detector *detect.Detector) (*Ingestor, error) {
	ing := &Ingestor{
		storageClient: storageClient,
		documents:     documents,
		detector:      detector,
		config:        cfg,
	}
	if cfg.WorkflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		ing.executionsClient = executionsClient
	}
	slog.Info("Ingest pipeline initialized.", "workflowId", cfg.WorkflowID)
	return ing, nil
}

// Receive stores an uploaded PDF in the upload bucket and creates its
// record. Duplicate content returns the existing record instead. The
// bucket notification for the written object is later short-circuited by
// the same dedupe check.
func (f *Ingestor) Receive(ctx context.Context, filename string, content []byte) (*models.Document, bool, error) {
	fileHash := sha256.Sum256(content)
	hashHex := hex.EncodeToString(fileHash[:])
	logCtx := slog.With("filename", filename, "fileHash", hashHex)

	if existing, err := f.documents.FindByHash(ctx, hashHex); err != nil {
		return nil, false, err
	} else if existing != nil {
		logCtx.Info("Duplicate upload detected. Returning existing record.", "existingDocId", existing.ID)
		return existing, true, nil
	}

	object := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), path.Base(filename))
	bucket := f.storageClient.Bucket(f.config.UploadBucket)
	if err := gcp.SaveToGCSAtomically(ctx, bucket, object, bytes.NewReader(content)); err != nil {
		logCtx.Error("Failed to store uploaded PDF", "error", err)
		return nil, false, err
	}

	doc, err := f.documents.Create(ctx, &models.Document{
		FileHash:         hashHex,
		OriginalFilename: path.Base(filename),
		GCSUri:           gcp.ObjectURI(f.config.UploadBucket, object),
		FileSize:         int64(len(content)),
	})
	if err != nil {
		return nil, false, err
	}
	logCtx.Info("Upload stored.", "documentId", doc.ID)
	return doc, false, nil
}

// ProcessEvent handles a PDF dropped straight into the upload bucket.
// Duplicate content (same sha256) short-circuits to the existing record.
func (f *Ingestor) ProcessEvent(ctx context.Context, e GCSEvent) (*models.Document, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp("", "pdf-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, f.storageClient, e.Bucket, e.Name, sourcePdfPath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return nil, err
	}

	fileHash, err := calculateFileHash(sourcePdfPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return nil, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	if existing, err := f.documents.FindByHash(ctx, fileHash); err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	} else if existing != nil {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existing.ID)
		return existing, nil
	}

	info, err := os.Stat(sourcePdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat downloaded file: %w", err)
	}

	doc, err := f.documents.Create(ctx, &models.Document{
		FileHash:         fileHash,
		OriginalFilename: path.Base(e.Name),
		GCSUri:           gcp.ObjectURI(e.Bucket, e.Name),
		FileSize:         info.Size(),
	})
	if err != nil {
		logCtx.Error("Failed to create document record", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("documentId", doc.ID)
	logCtx.Info("Created document record.")

	if err := f.runPipeline(ctx, logCtx, doc, sourcePdfPath, tempDir); err != nil {
		return nil, err
	}
	return f.documents.Get(ctx, doc.ID)
}

// ProcessDocument runs the pipeline for a record created by the upload API.
func (f *Ingestor) ProcessDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	logCtx := slog.With("documentId", doc.ID, "gcsUri", doc.GCSUri)
	logCtx.Info("Processing uploaded document.")

	tempDir, err := os.MkdirTemp("", "pdf-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	bucket, object, err := gcp.ParseObjectURI(doc.GCSUri)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, doc.ID, "document record has no usable GCS URI", err)
	}
	sourcePdfPath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, f.storageClient, bucket, object, sourcePdfPath); err != nil {
		return nil, f.handleError(ctx, logCtx, doc.ID, "failed to download source PDF", err)
	}

	if err := f.runPipeline(ctx, logCtx, doc, sourcePdfPath, tempDir); err != nil {
		return nil, err
	}
	return f.documents.Get(ctx, doc.ID)
}

func (f *Ingestor) runPipeline(ctx context.Context, logCtx *slog.Logger, doc *models.Document, sourcePdfPath, tempDir string) error {
	optimizedPdfPath := filepath.Join(tempDir, "optimized.pdf")
	pageCount, err := f.optimizeAndSplit(ctx, logCtx, doc.ID, sourcePdfPath, optimizedPdfPath)
	if err != nil {
		return err
	}

	pageURIs, err := f.uploadSplitPages(ctx, logCtx, doc.ID, optimizedPdfPath, pageCount)
	if err != nil {
		return err
	}

	fields, err := f.detectPages(ctx, logCtx, doc.ID, pageURIs)
	if err != nil {
		return err
	}

	if err := f.documents.SetFields(ctx, doc.ID, fields); err != nil {
		return f.handleError(ctx, logCtx, doc.ID, "failed to store detected fields", err)
	}
	logCtx.Info("Detection complete.", "fieldCount", len(fields))

	if err := f.triggerWorkflow(ctx, logCtx, doc.ID, pageCount); err != nil {
		return err
	}
	return nil
}

func (f *Ingestor) optimizeAndSplit(ctx context.Context, logCtx *slog.Logger, docID, source, optimized string) (int, error) {
	if err := optimizePDF(source, optimized); err != nil {
		return 0, f.handleError(ctx, logCtx, docID, "failed to validate/optimize PDF", err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return 0, f.handleError(ctx, logCtx, docID, "failed to get page count", err)
	}
	if pageCount == 0 {
		return 0, f.handleError(ctx, logCtx, docID, "PDF has no pages", fmt.Errorf("page count is zero"))
	}
	dims, err := pdffill.PageDims(optimized)
	if err != nil {
		return 0, f.handleError(ctx, logCtx, docID, "failed to read page dimensions", err)
	}
	if err := api.SplitFile(optimized, filepath.Dir(optimized), 1, nil); err != nil {
		return 0, f.handleError(ctx, logCtx, docID, "failed to split PDF", err)
	}
	if err := f.documents.SetStatus(ctx, docID, models.DocumentStatusSplitting, ""); err != nil {
		return 0, f.handleError(ctx, logCtx, docID, "failed to update status to SPLITTING", err)
	}
	if err := f.documents.SetPageLayout(ctx, docID, pageCount, dims); err != nil {
		return 0, f.handleError(ctx, logCtx, docID, "failed to store page layout", err)
	}
	logCtx.Info("PDF optimized and split locally.", "pageCount", pageCount)
	return pageCount, nil
}

func (f *Ingestor) uploadSplitPages(ctx context.Context, logCtx *slog.Logger, docID, optimizedPdfPath string, pageCount int) ([]string, error) {
	logCtx.Info("Starting concurrent upload of pages.", "pageCount", pageCount)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(uploadConcurrency)

	splitFileBase := strings.TrimSuffix(optimizedPdfPath, filepath.Ext(optimizedPdfPath))
	pageURIs := make([]string, pageCount)

	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		localSplitFilePath := fmt.Sprintf("%s_%d.pdf", splitFileBase, pageNumber)
		gcsDestObject := pageObjectName(docID, pageNumber)
		pageURIs[pageNumber-1] = gcp.ObjectURI(f.config.PagesBucket, gcsDestObject)

		eg.Go(func() error {
			if err := gcp.UploadFileWithRetry(gctx, f.storageClient, localSplitFilePath, f.config.PagesBucket, gcsDestObject); err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, f.handleError(ctx, logCtx, docID, "one or more pages failed to upload", err)
	}
	logCtx.Info("All pages uploaded successfully.")
	return pageURIs, nil
}

func (f *Ingestor) detectPages(ctx context.Context, logCtx *slog.Logger, docID string, pageURIs []string) ([]models.Field, error) {
	if err := f.documents.SetStatus(ctx, docID, models.DocumentStatusDetecting, ""); err != nil {
		return nil, f.handleError(ctx, logCtx, docID, "failed to update status to DETECTING", err)
	}
	logCtx.Info("Starting checkbox detection.", "pageCount", len(pageURIs))

	byPage := make([][]detect.Detection, len(pageURIs))
	var mu sync.Mutex
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(detectConcurrency)

	for i, uri := range pageURIs {
		pageIdx, pageURI := i, uri
		eg.Go(func() error {
			detections, err := f.detector.DetectPage(gctx, pageURI)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageIdx+1, err)
			}
			mu.Lock()
			byPage[pageIdx] = detections
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, f.handleError(ctx, logCtx, docID, "checkbox detection failed", err)
	}

	return store.AssignFieldIDs(flattenDetections(byPage)), nil
}

// flattenDetections orders detections by page, then top-to-bottom and
// left-to-right within a page, and converts them to fields.
func flattenDetections(byPage [][]detect.Detection) []models.Field {
	var fields []models.Field
	for pageIdx, detections := range byPage {
		sorted := make([]detect.Detection, len(detections))
		copy(sorted, detections)
		sort.SliceStable(sorted, func(a, b int) bool {
			if sorted[a].Box.Y != sorted[b].Box.Y {
				return sorted[a].Box.Y < sorted[b].Box.Y
			}
			return sorted[a].Box.X < sorted[b].Box.X
		})
		for _, det := range sorted {
			fields = append(fields, models.Field{
				Type:       models.FieldTypeCheckbox,
				Label:      det.Label,
				Page:       pageIdx + 1,
				Box:        det.Box,
				Default:    det.Checked,
				Confidence: det.Confidence,
			})
		}
	}
	return fields
}

func (f *Ingestor) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, docID string, pageCount int) error {
	if f.executionsClient == nil {
		return nil
	}
	logCtx.Info("Triggering workflow.")
	workflowPayload := map[string]interface{}{
		"documentId": docID,
		"pageCount":  pageCount,
	}
	payloadBytes, err := json.Marshal(workflowPayload)
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to marshal workflow payload", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s",
			f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := f.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to trigger workflow execution", err)
	}
	if err := f.documents.SetWorkflowExecution(ctx, docID, exec.GetName()); err != nil {
		logCtx.Warn("Failed to record workflow execution id.", "error", err)
	}
	return nil
}

func (f *Ingestor) handleError(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.documents.SetStatus(ctx, docID, models.DocumentStatusFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update document status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}

func pageObjectName(docID string, page int) string {
	return fmt.Sprintf("%s/%05d.pdf", docID, page)
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Package server is the REST surface of the form server: document upload
// and processing, template CRUD and editing, form filling, validation and
// export.
package server

import (
	"context"
	"net/http"

	"cloud.google.com/go/storage"

	"github.com/fieldmark-hq/fieldmark/internal/config"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/models"
)

// TemplateStore is the template persistence the handlers need.
type TemplateStore interface {
	Create(ctx context.Context, name, description string, doc models.DocumentInfo, fields []models.Field, tags []string) (*models.Template, error)
	Get(ctx context.Context, id string) (*models.Template, error)
	List(ctx context.Context, tags []string, offset, limit int) ([]models.Template, error)
	Update(ctx context.Context, id string, mutate func(*models.Template) error) (*models.Template, error)
	Delete(ctx context.Context, id string) error
	AddTag(ctx context.Context, id, tag string) error
	RemoveTag(ctx context.Context, id, tag string) error
}

// FormStore is the filled-form persistence the handlers need.
type FormStore interface {
	Get(ctx context.Context, id string) (*models.FilledForm, error)
	List(ctx context.Context, templateID, formStatus string, offset, limit int) ([]models.FilledForm, error)
	UpdateFieldValues(ctx context.Context, id string, values []models.FieldValue) (*models.FilledForm, error)
	Delete(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, id, action, detail string) error
}

// DocumentStore is the uploaded-document persistence the handlers need.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*models.Document, error)
}

// Ingestor receives uploads and runs them through checkbox detection.
type Ingestor interface {
	Receive(ctx context.Context, filename string, content []byte) (*models.Document, bool, error)
	ProcessDocument(ctx context.Context, doc *models.Document) (*models.Document, error)
}

// Filler stamps templates onto documents.
type Filler interface {
	Fill(ctx context.Context, req *models.FillFormRequest) (*models.FilledForm, error)
	Refill(ctx context.Context, form *models.FilledForm, values []models.FieldValue) error
}

// Exporter sends filled forms out for signature.
type Exporter interface {
	Export(ctx context.Context, formID string, req *models.ExportRequest) (*models.ExportResponse, error)
}

// Visualizer renders field-marker overlays for templates.
type Visualizer interface {
	Visualize(ctx context.Context, templateID string) ([]string, error)
}

// BlobReader reads stored artifacts for streaming to clients.
type BlobReader interface {
	ReadURI(ctx context.Context, uri string) ([]byte, error)
}

// GCSBlobReader is the production BlobReader.
type GCSBlobReader struct {
	Client *storage.Client
}

// ReadURI reads a gs:// object into memory.
func (g GCSBlobReader) ReadURI(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := gcp.ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	return gcp.ReadObject(ctx, g.Client, bucket, object)
}

// Server holds the handler dependencies.
type Server struct {
	config     *config.Config
	templates  TemplateStore
	forms      FormStore
	documents  DocumentStore
	ingestor   Ingestor
	filler     Filler
	exporter   Exporter
	visualizer Visualizer
	blobs      BlobReader
}

// New creates a Server with the given dependencies.
func New(cfg *config.Config, templates TemplateStore, forms FormStore, documents DocumentStore, ingestor Ingestor, filler Filler, exporter Exporter, visualizer Visualizer, blobs BlobReader) *Server {
	return &Server{
		config:     cfg,
		templates:  templates,
		forms:      forms,
		documents:  documents,
		ingestor:   ingestor,
		filler:     filler,
		exporter:   exporter,
		visualizer: visualizer,
		blobs:      blobs,
	}
}

// Routes builds the HTTP mux for the whole API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/documents", s.handleUploadDocument)
	mux.HandleFunc("POST /api/documents/{id}/process", s.handleProcessDocument)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)

	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)
	mux.HandleFunc("POST /api/templates/{id}/tags", s.handleAddTag)
	mux.HandleFunc("DELETE /api/templates/{id}/tags/{tag}", s.handleRemoveTag)
	mux.HandleFunc("POST /api/templates/{id}/fields/arrange", s.handleArrangeFields)
	mux.HandleFunc("GET /api/templates/{id}/visualize", s.handleVisualizeTemplate)

	mux.HandleFunc("POST /api/forms/fill", s.handleFillForm)
	mux.HandleFunc("GET /api/forms", s.handleListForms)
	mux.HandleFunc("POST /api/forms/validate", s.handleValidateValues)
	mux.HandleFunc("GET /api/forms/{id}", s.handleGetForm)
	mux.HandleFunc("DELETE /api/forms/{id}", s.handleDeleteForm)
	mux.HandleFunc("PUT /api/forms/{id}/values", s.handleUpdateFormValues)
	mux.HandleFunc("POST /api/forms/{id}/export", s.handleExportForm)
	mux.HandleFunc("GET /api/forms/{id}/download", s.handleDownloadForm)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

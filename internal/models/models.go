package models

import (
	"time"

	"github.com/fieldmark-hq/fieldmark/internal/geometry"
)

// FieldType classifies an extracted form field. Checkboxes are the only
// fillable type; anything else is kept for reference.
type FieldType string

const (
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeText     FieldType = "text"
)

// Document status lifecycle for uploaded PDFs.
const (
	DocumentStatusUploaded  = "UPLOADED"
	DocumentStatusSplitting = "SPLITTING"
	DocumentStatusDetecting = "DETECTING"
	DocumentStatusReady     = "READY"
	DocumentStatusFailed    = "FAILED"
)

// Filled form statuses.
const (
	FormStatusDraft    = "draft"
	FormStatusExported = "exported"
)

// Field is one extracted checkbox (or other field) on a template page.
// The box is normalized to [0,1] so it survives page-size changes.
type Field struct {
	ID         string       `firestore:"fieldId" json:"field_id"`
	Type       FieldType    `firestore:"fieldType" json:"field_type"`
	Label      string       `firestore:"label" json:"label"`
	Page       int          `firestore:"page" json:"page"`
	Box        geometry.Box `firestore:"box" json:"box"`
	Default    bool         `firestore:"defaultChecked" json:"default_checked"`
	Confidence float64      `firestore:"confidence" json:"confidence"`
}

// DocumentInfo is the source-document metadata carried on templates and
// filled forms. PageDims holds the per-page media box sizes in points,
// recorded at ingest time so fills can map onto differently sized targets.
type DocumentInfo struct {
	OriginalFilename string             `firestore:"originalFilename" json:"original_filename"`
	FileSize         int64              `firestore:"fileSize" json:"file_size"`
	PageCount        int                `firestore:"pageCount" json:"page_count"`
	PageDims         []geometry.PageDim `firestore:"pageDims,omitempty" json:"page_dims,omitempty"`
	MIMEType         string             `firestore:"mimeType" json:"mime_type"`
	GCSUri           string             `firestore:"gcsUri" json:"gcs_uri"`
}

// Template is a reusable checkbox schema extracted from a sample PDF.
type Template struct {
	ID          string       `firestore:"templateId" json:"template_id"`
	Name        string       `firestore:"name" json:"name"`
	Description string       `firestore:"description" json:"description"`
	Version     int          `firestore:"version" json:"version"`
	Tags        []string     `firestore:"tags" json:"tags"`
	Document    DocumentInfo `firestore:"document" json:"document"`
	Fields      []Field      `firestore:"fields" json:"fields"`
	CreatedAt   time.Time    `firestore:"createdAt" json:"created_at"`
	UpdatedAt   time.Time    `firestore:"updatedAt" json:"updated_at"`
}

// FieldValue is a checked/unchecked decision for one template field.
type FieldValue struct {
	FieldID string `firestore:"fieldId" json:"field_id"`
	Checked bool   `firestore:"checked" json:"checked"`
}

// ExportRecord is one attempt to push a filled form to an external platform.
type ExportRecord struct {
	Destination string    `firestore:"destination" json:"destination"`
	EnvelopeID  string    `firestore:"envelopeId,omitempty" json:"envelope_id,omitempty"`
	Status      string    `firestore:"status" json:"status"`
	Timestamp   time.Time `firestore:"timestamp" json:"timestamp"`
}

// AuditEntry records a state-changing action on a filled form.
type AuditEntry struct {
	Action    string    `firestore:"action" json:"action"`
	Detail    string    `firestore:"detail,omitempty" json:"detail,omitempty"`
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
}

// FilledForm is a template applied to a specific uploaded PDF.
// TemplateVersion pins the template version in effect at fill time; the
// template may move on afterwards (consistency between the two is
// deliberately not enforced).
type FilledForm struct {
	ID              string         `firestore:"formId" json:"form_id"`
	TemplateID      string         `firestore:"templateId" json:"template_id"`
	TemplateVersion int            `firestore:"templateVersion" json:"template_version"`
	Name            string         `firestore:"name" json:"name"`
	Document        DocumentInfo   `firestore:"document" json:"document"`
	FilledGCSUri    string         `firestore:"filledGcsUri" json:"filled_gcs_uri"`
	FieldValues     []FieldValue   `firestore:"fieldValues" json:"field_values"`
	PreserveAspect  bool           `firestore:"preserveAspect,omitempty" json:"preserve_aspect,omitempty"`
	Status          string         `firestore:"status" json:"status"`
	Exports         []ExportRecord `firestore:"exports" json:"exports"`
	Audit           []AuditEntry   `firestore:"audit" json:"audit"`
	CreatedAt       time.Time      `firestore:"createdAt" json:"created_at"`
	UpdatedAt       time.Time      `firestore:"updatedAt" json:"updated_at"`
}

// Document is the record for an uploaded PDF and its processing state.
type Document struct {
	ID                  string             `firestore:"documentId" json:"document_id"`
	FileHash            string             `firestore:"fileHash" json:"file_hash"`
	OriginalFilename    string             `firestore:"originalFilename" json:"original_filename"`
	GCSUri              string             `firestore:"gcsUri" json:"gcs_uri"`
	FileSize            int64              `firestore:"fileSize" json:"file_size"`
	Status              string             `firestore:"status" json:"status"`
	ErrorDetails        string             `firestore:"errorDetails,omitempty" json:"error_details,omitempty"`
	PageCount           int                `firestore:"pageCount" json:"page_count"`
	PageDims            []geometry.PageDim `firestore:"pageDims,omitempty" json:"page_dims,omitempty"`
	Fields              []Field            `firestore:"fields" json:"fields"`
	WorkflowExecutionID string             `firestore:"workflowExecutionId,omitempty" json:"workflow_execution_id,omitempty"`
	CreatedAt           time.Time          `firestore:"createdAt" json:"created_at"`
}

// CheckboxCount returns how many of the document's fields are checkboxes.
func (d *Document) CheckboxCount() int {
	n := 0
	for _, f := range d.Fields {
		if f.Type == FieldTypeCheckbox {
			n++
		}
	}
	return n
}

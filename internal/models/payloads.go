package models

// These structs define the JSON payloads of the REST API.

// UploadResponse is returned after a successful PDF upload. Duplicate is
// set when the content matched an existing document, whose record is
// returned instead of a new one.
type UploadResponse struct {
	Message   string    `json:"message"`
	Document  *Document `json:"document"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// ProcessResponse is returned after a document has been run through
// checkbox detection.
type ProcessResponse struct {
	Message       string  `json:"message"`
	DocumentID    string  `json:"document_id"`
	PageCount     int     `json:"page_count"`
	FieldCount    int     `json:"field_count"`
	CheckboxCount int     `json:"checkbox_count"`
	Fields        []Field `json:"fields"`
}

// CreateTemplateRequest builds a template from a processed document.
type CreateTemplateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	DocumentID  string   `json:"document_id"`
	Tags        []string `json:"tags,omitempty"`
}

// TemplateSummary is the list-view projection of a template.
type TemplateSummary struct {
	TemplateID  string   `json:"template_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     int      `json:"version"`
	Tags        []string `json:"tags"`
	FieldCount  int      `json:"field_count"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// UpdateTemplateRequest carries mutable template metadata.
type UpdateTemplateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// AddTagRequest adds one tag to a template.
type AddTagRequest struct {
	Tag string `json:"tag"`
}

// Arrange operations supported by the field editor endpoint.
const (
	ArrangeOpMove            = "move"
	ArrangeOpResize          = "resize"
	ArrangeOpAlignLeft       = "align_left"
	ArrangeOpAlignRight      = "align_right"
	ArrangeOpAlignTop        = "align_top"
	ArrangeOpAlignBottom     = "align_bottom"
	ArrangeOpDistributeHoriz = "distribute_horizontal"
	ArrangeOpDistributeVert  = "distribute_vertical"
)

// ArrangeRequest is one editor mutation applied to a set of template
// fields. Deltas and dimensions are normalized units.
type ArrangeRequest struct {
	Op       string   `json:"op"`
	FieldIDs []string `json:"field_ids"`
	DX       float64  `json:"dx,omitempty"`
	DY       float64  `json:"dy,omitempty"`
	Width    float64  `json:"width,omitempty"`
	Height   float64  `json:"height,omitempty"`
}

// FillFormRequest applies a template to an uploaded PDF. PreserveAspect
// switches box placement from per-axis stretching to a uniform scale, so
// marks keep their proportions on targets with a different aspect ratio.
type FillFormRequest struct {
	TemplateID     string       `json:"template_id"`
	DocumentID     string       `json:"document_id"`
	Name           string       `json:"name,omitempty"`
	FieldValues    []FieldValue `json:"field_values,omitempty"`
	PreserveAspect bool         `json:"preserve_aspect,omitempty"`
}

// FillFormResponse reports the created filled form.
type FillFormResponse struct {
	Message      string `json:"message"`
	FormID       string `json:"form_id"`
	FilledGCSUri string `json:"filled_gcs_uri"`
}

// UpdateValuesRequest corrects the values on an existing filled form.
type UpdateValuesRequest struct {
	FieldValues []FieldValue `json:"field_values"`
}

// ValidateRequest checks field values against a template.
type ValidateRequest struct {
	TemplateID  string       `json:"template_id"`
	FieldValues []FieldValue `json:"field_values"`
}

// FieldValidation is the per-field outcome of a validation run.
type FieldValidation struct {
	FieldID string   `json:"field_id"`
	IsValid bool     `json:"is_valid"`
	Issues  []string `json:"issues,omitempty"`
}

// ValidateResponse aggregates per-field validation results.
type ValidateResponse struct {
	IsValid          bool              `json:"is_valid"`
	FieldValidations []FieldValidation `json:"field_validations"`
}

// ExportRequest pushes a filled form to an e-signature platform.
type ExportRequest struct {
	Destination    string `json:"destination"`
	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name,omitempty"`
}

// ExportResponse reports the outcome of an export.
type ExportResponse struct {
	Message    string `json:"message"`
	FormID     string `json:"form_id"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	Status     string `json:"status"`
}

// VisualizeResponse lists rendered per-template visualization artifacts.
type VisualizeResponse struct {
	Message    string   `json:"message"`
	TemplateID string   `json:"template_id"`
	GCSUris    []string `json:"gcs_uris"`
}

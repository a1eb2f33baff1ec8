package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmark-hq/fieldmark/internal/config"
	"github.com/fieldmark-hq/fieldmark/internal/geometry"
	"github.com/fieldmark-hq/fieldmark/internal/models"
	"github.com/fieldmark-hq/fieldmark/internal/store"
)

type fakeTemplates struct {
	byID map[string]*models.Template
}

func (f *fakeTemplates) Create(_ context.Context, name, description string, doc models.DocumentInfo, fields []models.Field, tags []string) (*models.Template, error) {
	if tags == nil {
		tags = []string{}
	}
	tpl := &models.Template{
		ID: fmt.Sprintf("tpl-%d", len(f.byID)+1), Name: name, Description: description,
		Version: 1, Tags: tags, Document: doc, Fields: store.AssignFieldIDs(fields),
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	f.byID[tpl.ID] = tpl
	return tpl, nil
}

func (f *fakeTemplates) Get(_ context.Context, id string) (*models.Template, error) {
	tpl, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, store.ErrNotFound)
	}
	cp := *tpl
	return &cp, nil
}

func (f *fakeTemplates) List(_ context.Context, tags []string, offset, limit int) ([]models.Template, error) {
	var out []models.Template
	for _, tpl := range f.byID {
		out = append(out, *tpl)
	}
	return out, nil
}

func (f *fakeTemplates) Update(ctx context.Context, id string, mutate func(*models.Template) error) (*models.Template, error) {
	tpl, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(tpl); err != nil {
		return nil, err
	}
	tpl.Version++
	tpl.UpdatedAt = time.Now()
	f.byID[id] = tpl
	return tpl, nil
}

func (f *fakeTemplates) Delete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeTemplates) AddTag(ctx context.Context, id, tag string) error {
	tpl, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, store.ErrNotFound)
	}
	tpl.Tags = append(tpl.Tags, tag)
	return nil
}

func (f *fakeTemplates) RemoveTag(ctx context.Context, id, tag string) error {
	tpl, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, store.ErrNotFound)
	}
	var kept []string
	for _, t := range tpl.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	tpl.Tags = kept
	return nil
}

type fakeForms struct {
	byID map[string]*models.FilledForm
}

func (f *fakeForms) Get(_ context.Context, id string) (*models.FilledForm, error) {
	form, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("filled form %s: %w", id, store.ErrNotFound)
	}
	cp := *form
	return &cp, nil
}

func (f *fakeForms) List(_ context.Context, templateID, formStatus string, offset, limit int) ([]models.FilledForm, error) {
	var out []models.FilledForm
	for _, form := range f.byID {
		if templateID != "" && form.TemplateID != templateID {
			continue
		}
		if formStatus != "" && form.Status != formStatus {
			continue
		}
		out = append(out, *form)
	}
	return out, nil
}

func (f *fakeForms) UpdateFieldValues(ctx context.Context, id string, values []models.FieldValue) (*models.FilledForm, error) {
	form, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("filled form %s: %w", id, store.ErrNotFound)
	}
	form.FieldValues = values
	form.Audit = append(form.Audit, models.AuditEntry{Action: "values_updated", Timestamp: time.Now()})
	cp := *form
	return &cp, nil
}

func (f *fakeForms) Delete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeForms) AppendAudit(_ context.Context, id, action, detail string) error {
	form, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("filled form %s: %w", id, store.ErrNotFound)
	}
	form.Audit = append(form.Audit, models.AuditEntry{Action: action, Detail: detail, Timestamp: time.Now()})
	return nil
}

type fakeDocuments struct {
	byID map[string]*models.Document
}

func (f *fakeDocuments) Get(_ context.Context, id string) (*models.Document, error) {
	doc, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

type fakeIngestor struct {
	docs      *fakeDocuments
	processed []string
}

func (f *fakeIngestor) Receive(_ context.Context, filename string, content []byte) (*models.Document, bool, error) {
	for _, doc := range f.docs.byID {
		if doc.FileSize == int64(len(content)) && doc.OriginalFilename == filename {
			return doc, true, nil
		}
	}
	doc := &models.Document{
		ID: fmt.Sprintf("doc-%d", len(f.docs.byID)+1), OriginalFilename: filename,
		FileSize: int64(len(content)), Status: models.DocumentStatusUploaded,
		GCSUri: "gs://uploads/" + filename,
	}
	f.docs.byID[doc.ID] = doc
	return doc, false, nil
}

func (f *fakeIngestor) ProcessDocument(_ context.Context, doc *models.Document) (*models.Document, error) {
	f.processed = append(f.processed, doc.ID)
	doc.Status = models.DocumentStatusReady
	doc.PageCount = 1
	doc.Fields = []models.Field{{
		ID: "field_1", Type: models.FieldTypeCheckbox, Label: "I agree", Page: 1,
		Box: geometry.Box{X: 0.1, Y: 0.1, Width: 0.02, Height: 0.02}, Confidence: 0.9,
	}}
	f.docs.byID[doc.ID] = doc
	return doc, nil
}

type fakeFiller struct {
	forms    *fakeForms
	refilled int
}

func (f *fakeFiller) Fill(_ context.Context, req *models.FillFormRequest) (*models.FilledForm, error) {
	form := &models.FilledForm{
		ID: fmt.Sprintf("form-%d", len(f.forms.byID)+1), TemplateID: req.TemplateID,
		TemplateVersion: 1, Name: req.Name, Status: models.FormStatusDraft,
		FilledGCSUri: "gs://artifacts/filled.pdf", FieldValues: req.FieldValues,
	}
	f.forms.byID[form.ID] = form
	return form, nil
}

func (f *fakeFiller) Refill(_ context.Context, form *models.FilledForm, values []models.FieldValue) error {
	f.refilled++
	return nil
}

type fakeExporter struct{}

func (fakeExporter) Export(_ context.Context, formID string, req *models.ExportRequest) (*models.ExportResponse, error) {
	return &models.ExportResponse{Message: "ok", FormID: formID, EnvelopeID: "env-1", Status: "sent"}, nil
}

type fakeVisualizer struct{}

func (fakeVisualizer) Visualize(_ context.Context, templateID string) ([]string, error) {
	return []string{"gs://artifacts/visualizations/" + templateID + "/v1.pdf"}, nil
}

type fakeBlobs struct{ data []byte }

func (f fakeBlobs) ReadURI(_ context.Context, uri string) ([]byte, error) {
	return f.data, nil
}

type fixture struct {
	srv       *httptest.Server
	templates *fakeTemplates
	forms     *fakeForms
	documents *fakeDocuments
	ingestor  *fakeIngestor
	filler    *fakeFiller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	templates := &fakeTemplates{byID: map[string]*models.Template{}}
	forms := &fakeForms{byID: map[string]*models.FilledForm{}}
	documents := &fakeDocuments{byID: map[string]*models.Document{}}
	ingestor := &fakeIngestor{docs: documents}
	filler := &fakeFiller{forms: forms}

	cfg := config.DefaultConfig()
	s := New(cfg, templates, forms, documents, ingestor, filler,
		fakeExporter{}, fakeVisualizer{}, fakeBlobs{data: []byte("%PDF-1.7 filled")})
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, templates: templates, forms: forms,
		documents: documents, ingestor: ingestor, filler: filler}
}

func (fx *fixture) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(fx.srv.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (fx *fixture) do(t *testing.T, method, path string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, fx.srv.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func uploadPDF(t *testing.T, fx *fixture, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(fx.srv.URL+"/api/documents", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)
	resp, err := http.Get(fx.srv.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestUploadDocument(t *testing.T) {
	fx := newFixture(t)

	resp := uploadPDF(t, fx, "consent.pdf", []byte("%PDF-1.7 content"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[models.UploadResponse](t, resp)
	assert.False(t, body.Duplicate)
	assert.Equal(t, "consent.pdf", body.Document.OriginalFilename)

	// Same content again: the existing record comes back.
	resp = uploadPDF(t, fx, "consent.pdf", []byte("%PDF-1.7 content"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dup := decodeBody[models.UploadResponse](t, resp)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, body.Document.ID, dup.Document.ID)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	fx := newFixture(t)

	resp := uploadPDF(t, fx, "notes.txt", []byte("%PDF-1.7"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = uploadPDF(t, fx, "fake.pdf", []byte("just text"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Contains(t, body["error"], "not a PDF")
}

func TestProcessDocumentIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.documents.byID["doc-1"] = &models.Document{ID: "doc-1", Status: models.DocumentStatusUploaded}

	resp := fx.postJSON(t, "/api/documents/doc-1/process", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[models.ProcessResponse](t, resp)
	assert.Equal(t, 1, body.CheckboxCount)
	assert.Len(t, fx.ingestor.processed, 1)

	resp = fx.postJSON(t, "/api/documents/doc-1/process", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decodeBody[models.ProcessResponse](t, resp)
	assert.Equal(t, "Document already processed.", again.Message)
	assert.Len(t, fx.ingestor.processed, 1)
}

func TestGetDocumentNotFound(t *testing.T) {
	fx := newFixture(t)
	resp, err := http.Get(fx.srv.URL + "/api/documents/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readyDocument() *models.Document {
	return &models.Document{
		ID: "doc-ready", Status: models.DocumentStatusReady, PageCount: 2,
		OriginalFilename: "form.pdf", GCSUri: "gs://uploads/form.pdf",
		Fields: []models.Field{
			{ID: "field_1", Type: models.FieldTypeCheckbox, Page: 1,
				Box: geometry.Box{X: 0.1, Y: 0.1, Width: 0.02, Height: 0.02}},
			{ID: "field_2", Type: models.FieldTypeCheckbox, Page: 1,
				Box: geometry.Box{X: 0.3, Y: 0.4, Width: 0.02, Height: 0.02}},
			{ID: "field_3", Type: models.FieldTypeCheckbox, Page: 1,
				Box: geometry.Box{X: 0.2, Y: 0.7, Width: 0.02, Height: 0.02}},
		},
	}
}

func TestCreateTemplateRequiresProcessedDocument(t *testing.T) {
	fx := newFixture(t)
	fx.documents.byID["doc-raw"] = &models.Document{ID: "doc-raw", Status: models.DocumentStatusUploaded}

	resp := fx.postJSON(t, "/api/templates", models.CreateTemplateRequest{
		Name: "Consent", DocumentID: "doc-raw",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndGetTemplate(t *testing.T) {
	fx := newFixture(t)
	fx.documents.byID["doc-ready"] = readyDocument()

	resp := fx.postJSON(t, "/api/templates", models.CreateTemplateRequest{
		Name: "Consent", Description: "patient consent", DocumentID: "doc-ready",
		Tags: []string{"medical"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tpl := decodeBody[models.Template](t, resp)
	assert.Equal(t, 1, tpl.Version)
	assert.Len(t, tpl.Fields, 3)

	resp, err := http.Get(fx.srv.URL + "/api/templates/" + tpl.ID)
	require.NoError(t, err)
	got := decodeBody[models.Template](t, resp)
	assert.Equal(t, "Consent", got.Name)

	resp, err = http.Get(fx.srv.URL + "/api/templates")
	require.NoError(t, err)
	list := decodeBody[[]models.TemplateSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].FieldCount)
}

func TestArrangeAlignLeft(t *testing.T) {
	fx := newFixture(t)
	fx.documents.byID["doc-ready"] = readyDocument()
	resp := fx.postJSON(t, "/api/templates", models.CreateTemplateRequest{
		Name: "Consent", DocumentID: "doc-ready",
	})
	tpl := decodeBody[models.Template](t, resp)

	resp = fx.postJSON(t, "/api/templates/"+tpl.ID+"/fields/arrange", models.ArrangeRequest{
		Op: models.ArrangeOpAlignLeft, FieldIDs: []string{"field_1", "field_2", "field_3"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[models.Template](t, resp)
	assert.Equal(t, 2, updated.Version)
	for _, f := range updated.Fields {
		assert.InDelta(t, 0.1, f.Box.X, 1e-9)
	}
}

func TestArrangeUnknownFieldIs400(t *testing.T) {
	fx := newFixture(t)
	fx.documents.byID["doc-ready"] = readyDocument()
	resp := fx.postJSON(t, "/api/templates", models.CreateTemplateRequest{
		Name: "Consent", DocumentID: "doc-ready",
	})
	tpl := decodeBody[models.Template](t, resp)

	resp = fx.postJSON(t, "/api/templates/"+tpl.ID+"/fields/arrange", models.ArrangeRequest{
		Op: models.ArrangeOpMove, FieldIDs: []string{"ghost"}, DX: 0.1,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFillFormValidatesInput(t *testing.T) {
	fx := newFixture(t)

	resp := fx.postJSON(t, "/api/forms/fill", models.FillFormRequest{TemplateID: "tpl-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFillAndDownloadForm(t *testing.T) {
	fx := newFixture(t)

	resp := fx.postJSON(t, "/api/forms/fill", models.FillFormRequest{
		TemplateID: "tpl-1", DocumentID: "doc-1", Name: "Filled consent",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	fill := decodeBody[models.FillFormResponse](t, resp)
	assert.NotEmpty(t, fill.FormID)

	resp, err := http.Get(fx.srv.URL + "/api/forms/" + fill.FormID + "/download")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	form, err := fx.forms.Get(context.Background(), fill.FormID)
	require.NoError(t, err)
	var actions []string
	for _, a := range form.Audit {
		actions = append(actions, a.Action)
	}
	assert.Contains(t, actions, "downloaded")
}

func TestUpdateValuesRefusesExportedForm(t *testing.T) {
	fx := newFixture(t)
	fx.forms.byID["form-1"] = &models.FilledForm{ID: "form-1", Status: models.FormStatusExported}

	resp := fx.do(t, http.MethodPut, "/api/forms/form-1/values", models.UpdateValuesRequest{
		FieldValues: []models.FieldValue{{FieldID: "field_1", Checked: true}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, fx.filler.refilled)
}

func TestUpdateValuesRefillsDraft(t *testing.T) {
	fx := newFixture(t)
	fx.forms.byID["form-1"] = &models.FilledForm{
		ID: "form-1", Status: models.FormStatusDraft, TemplateID: "tpl-1", TemplateVersion: 1,
	}

	resp := fx.do(t, http.MethodPut, "/api/forms/form-1/values", models.UpdateValuesRequest{
		FieldValues: []models.FieldValue{{FieldID: "field_1", Checked: false}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	form := decodeBody[models.FilledForm](t, resp)
	assert.Equal(t, 1, fx.filler.refilled)
	require.Len(t, form.FieldValues, 1)
	assert.False(t, form.FieldValues[0].Checked)
}

func TestValidateValues(t *testing.T) {
	fx := newFixture(t)
	fx.templates.byID["tpl-1"] = &models.Template{
		ID: "tpl-1", Version: 3,
		Fields: []models.Field{
			{ID: "field_1", Type: models.FieldTypeCheckbox,
				Box: geometry.Box{X: 0.1, Y: 0.1, Width: 0.02, Height: 0.02}},
			{ID: "field_2", Type: models.FieldTypeText,
				Box: geometry.Box{X: 0.5, Y: 0.5, Width: 0.2, Height: 0.02}},
			{ID: "field_3", Type: models.FieldTypeCheckbox,
				Box: geometry.Box{X: 1.0, Y: 0.1, Width: 0, Height: 0.02}},
		},
	}

	resp := fx.postJSON(t, "/api/forms/validate", models.ValidateRequest{
		TemplateID: "tpl-1",
		FieldValues: []models.FieldValue{
			{FieldID: "field_1", Checked: true},
			{FieldID: "field_2", Checked: true},
			{FieldID: "field_3", Checked: true},
			{FieldID: "removed_field", Checked: false},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[models.ValidateResponse](t, resp)
	assert.False(t, body.IsValid)
	require.Len(t, body.FieldValidations, 4)
	assert.True(t, body.FieldValidations[0].IsValid)
	assert.False(t, body.FieldValidations[1].IsValid)
	// A box that degenerated or drifted off the page makes its field
	// unfillable even though the field itself exists.
	assert.False(t, body.FieldValidations[2].IsValid)
	assert.Contains(t, body.FieldValidations[2].Issues[0], "outside the page bounds")
	assert.False(t, body.FieldValidations[3].IsValid)
	assert.Contains(t, body.FieldValidations[3].Issues[0], "version 3")
}

func TestExportForm(t *testing.T) {
	fx := newFixture(t)
	fx.forms.byID["form-1"] = &models.FilledForm{ID: "form-1", Status: models.FormStatusDraft}

	resp := fx.postJSON(t, "/api/forms/form-1/export", models.ExportRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = fx.postJSON(t, "/api/forms/form-1/export", models.ExportRequest{
		RecipientEmail: "signer@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[models.ExportResponse](t, resp)
	assert.Equal(t, "env-1", body.EnvelopeID)
}

func TestTagLifecycle(t *testing.T) {
	fx := newFixture(t)
	fx.documents.byID["doc-ready"] = readyDocument()
	resp := fx.postJSON(t, "/api/templates", models.CreateTemplateRequest{
		Name: "Consent", DocumentID: "doc-ready",
	})
	tpl := decodeBody[models.Template](t, resp)

	resp = fx.postJSON(t, "/api/templates/"+tpl.ID+"/tags", models.AddTagRequest{Tag: "intake"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = fx.do(t, http.MethodDelete, "/api/templates/"+tpl.ID+"/tags/intake", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	got, err := fx.templates.Get(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Tags, "intake")
}

func TestListFormsFilters(t *testing.T) {
	fx := newFixture(t)
	fx.forms.byID["form-1"] = &models.FilledForm{ID: "form-1", TemplateID: "tpl-1", Status: models.FormStatusDraft}
	fx.forms.byID["form-2"] = &models.FilledForm{ID: "form-2", TemplateID: "tpl-2", Status: models.FormStatusExported}

	resp, err := http.Get(fx.srv.URL + "/api/forms?template_id=tpl-1")
	require.NoError(t, err)
	list := decodeBody[[]models.FilledForm](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "form-1", list[0].ID)

	resp, err = http.Get(fx.srv.URL + "/api/forms?status=" + models.FormStatusExported)
	require.NoError(t, err)
	list = decodeBody[[]models.FilledForm](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "form-2", list[0].ID)
}

func TestVisualizeTemplate(t *testing.T) {
	fx := newFixture(t)
	resp, err := http.Get(fx.srv.URL + "/api/templates/tpl-1/visualize")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[models.VisualizeResponse](t, resp)
	require.Len(t, body.GCSUris, 1)
	assert.True(t, strings.HasPrefix(body.GCSUris[0], "gs://"))
}

package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fieldmark-hq/fieldmark/internal/models"
)

func (s *Server) handleFillForm(w http.ResponseWriter, r *http.Request) {
	var req models.FillFormRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TemplateID == "" || req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "template_id and document_id are required")
		return
	}

	form, err := s.filler.Fill(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.FillFormResponse{
		Message:      "Form filled.",
		FormID:       form.ID,
		FilledGCSUri: form.FilledGCSUri,
	})
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	forms, err := s.forms.List(r.Context(), q.Get("template_id"), q.Get("status"),
		queryInt(q.Get("skip"), 0), queryInt(q.Get("limit"), 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if forms == nil {
		forms = []models.FilledForm{}
	}
	writeJSON(w, http.StatusOK, forms)
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.forms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.forms.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Form deleted."})
}

// handleUpdateFormValues corrects the values on a draft form and re-stamps
// the filled PDF in place.
func (s *Server) handleUpdateFormValues(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateValuesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.FieldValues) == 0 {
		writeError(w, http.StatusBadRequest, "field_values must not be empty")
		return
	}

	form, err := s.forms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if form.Status == models.FormStatusExported {
		writeError(w, http.StatusBadRequest, "exported forms cannot be edited")
		return
	}

	if err := s.filler.Refill(r.Context(), form, req.FieldValues); err != nil {
		writeServiceError(w, err)
		return
	}
	form, err = s.forms.UpdateFieldValues(r.Context(), form.ID, req.FieldValues)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// handleValidateValues checks proposed field values against the current
// template version. Because forms keep their values when the template
// moves on, this is also how callers detect drift.
func (s *Server) handleValidateValues(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	tpl, err := s.templates.Get(r.Context(), req.TemplateID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validateValues(tpl, req.FieldValues))
}

func validateValues(tpl *models.Template, values []models.FieldValue) models.ValidateResponse {
	fieldsByID := make(map[string]models.Field, len(tpl.Fields))
	for _, f := range tpl.Fields {
		fieldsByID[f.ID] = f
	}

	resp := models.ValidateResponse{IsValid: true}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		fv := models.FieldValidation{FieldID: v.FieldID, IsValid: true}
		if seen[v.FieldID] {
			fv.IsValid = false
			fv.Issues = append(fv.Issues, "duplicate value for this field")
		}
		seen[v.FieldID] = true

		field, ok := fieldsByID[v.FieldID]
		switch {
		case !ok:
			fv.IsValid = false
			fv.Issues = append(fv.Issues,
				fmt.Sprintf("field does not exist on template version %d", tpl.Version))
		case field.Type != models.FieldTypeCheckbox:
			fv.IsValid = false
			fv.Issues = append(fv.Issues, fmt.Sprintf("field is %s, not a checkbox", field.Type))
		case !field.Box.InUnitSquare():
			fv.IsValid = false
			fv.Issues = append(fv.Issues, "field box lies outside the page bounds")
		}

		if !fv.IsValid {
			resp.IsValid = false
		}
		resp.FieldValidations = append(resp.FieldValidations, fv)
	}
	return resp
}

func (s *Server) handleExportForm(w http.ResponseWriter, r *http.Request) {
	var req models.ExportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RecipientEmail == "" {
		writeError(w, http.StatusBadRequest, "recipient_email is required")
		return
	}

	resp, err := s.exporter.Export(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownloadForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.forms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if form.FilledGCSUri == "" {
		writeError(w, http.StatusNotFound, "form has no filled PDF")
		return
	}

	pdf, err := s.blobs.ReadURI(r.Context(), form.FilledGCSUri)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// The audit entry is best effort; a failed write does not block the download.
	if err := s.forms.AppendAudit(r.Context(), form.ID, "downloaded", ""); err != nil {
		slog.Warn("Failed to record download audit entry.", "formId", form.ID, "error", err)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", form.Name+".pdf"))
	w.Write(pdf)
}

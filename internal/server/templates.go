package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fieldmark-hq/fieldmark/internal/geometry"
	"github.com/fieldmark-hq/fieldmark/internal/models"
)

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "name and document_id are required")
		return
	}

	doc, err := s.documents.Get(r.Context(), req.DocumentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if doc.Status != models.DocumentStatusReady {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("document %s is not processed yet (status %s)", doc.ID, doc.Status))
		return
	}

	docInfo := models.DocumentInfo{
		OriginalFilename: doc.OriginalFilename,
		FileSize:         doc.FileSize,
		PageCount:        doc.PageCount,
		PageDims:         doc.PageDims,
		MIMEType:         "application/pdf",
		GCSUri:           doc.GCSUri,
	}
	tpl, err := s.templates.Create(r.Context(), req.Name, req.Description, docInfo, doc.Fields, req.Tags)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var tags []string
	if raw := q.Get("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	offset := queryInt(q.Get("skip"), 0)
	limit := queryInt(q.Get("limit"), 50)

	templates, err := s.templates.List(r.Context(), tags, offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	summaries := make([]models.TemplateSummary, len(templates))
	for i, tpl := range templates {
		summaries[i] = models.TemplateSummary{
			TemplateID:  tpl.ID,
			Name:        tpl.Name,
			Description: tpl.Description,
			Version:     tpl.Version,
			Tags:        tpl.Tags,
			FieldCount:  len(tpl.Fields),
			CreatedAt:   tpl.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   tpl.UpdatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == nil && req.Description == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	tpl, err := s.templates.Update(r.Context(), r.PathValue("id"), func(tpl *models.Template) error {
		if req.Name != nil {
			if *req.Name == "" {
				return fmt.Errorf("name must not be empty")
			}
			tpl.Name = *req.Name
		}
		if req.Description != nil {
			tpl.Description = *req.Description
		}
		return nil
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Template deleted."})
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req models.AddTagRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Tag) == "" {
		writeError(w, http.StatusBadRequest, "tag is required")
		return
	}
	if err := s.templates.AddTag(r.Context(), r.PathValue("id"), strings.TrimSpace(req.Tag)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Tag added."})
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.RemoveTag(r.Context(), r.PathValue("id"), r.PathValue("tag")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Tag removed."})
}

func (s *Server) handleArrangeFields(w http.ResponseWriter, r *http.Request) {
	var req models.ArrangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.FieldIDs) == 0 {
		writeError(w, http.StatusBadRequest, "field_ids must not be empty")
		return
	}

	tpl, err := s.templates.Update(r.Context(), r.PathValue("id"), func(tpl *models.Template) error {
		return applyArrange(tpl, &req)
	})
	if err != nil {
		var badReq *arrangeError
		if errors.As(err, &badReq) {
			writeError(w, http.StatusBadRequest, badReq.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleVisualizeTemplate(w http.ResponseWriter, r *http.Request) {
	uris, err := s.visualizer.Visualize(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.VisualizeResponse{
		Message:    "Visualization rendered.",
		TemplateID: r.PathValue("id"),
		GCSUris:    uris,
	})
}

// arrangeError marks arrange failures caused by the request, not the system.
type arrangeError struct{ msg string }

func (e *arrangeError) Error() string { return e.msg }

// applyArrange runs one editor operation over the selected fields.
// Alignment and distribution only make sense within a single page.
func applyArrange(tpl *models.Template, req *models.ArrangeRequest) error {
	indexByID := make(map[string]int, len(tpl.Fields))
	for i, f := range tpl.Fields {
		indexByID[f.ID] = i
	}

	selected := make([]int, 0, len(req.FieldIDs))
	for _, id := range req.FieldIDs {
		idx, ok := indexByID[id]
		if !ok {
			return &arrangeError{msg: fmt.Sprintf("unknown field id %q", id)}
		}
		selected = append(selected, idx)
	}

	switch req.Op {
	case models.ArrangeOpMove:
		for _, idx := range selected {
			tpl.Fields[idx].Box = tpl.Fields[idx].Box.Translate(req.DX, req.DY)
		}
		return nil
	case models.ArrangeOpResize:
		if req.Width <= 0 || req.Height <= 0 {
			return &arrangeError{msg: "width and height must be positive"}
		}
		for _, idx := range selected {
			tpl.Fields[idx].Box = tpl.Fields[idx].Box.Resize(req.Width, req.Height)
		}
		return nil
	}

	page := tpl.Fields[selected[0]].Page
	boxes := make([]geometry.Box, len(selected))
	for i, idx := range selected {
		if tpl.Fields[idx].Page != page {
			return &arrangeError{msg: "alignment operations require fields on the same page"}
		}
		boxes[i] = tpl.Fields[idx].Box
	}

	switch req.Op {
	case models.ArrangeOpAlignLeft:
		boxes = geometry.AlignLeft(boxes)
	case models.ArrangeOpAlignRight:
		boxes = geometry.AlignRight(boxes)
	case models.ArrangeOpAlignTop:
		boxes = geometry.AlignTop(boxes)
	case models.ArrangeOpAlignBottom:
		boxes = geometry.AlignBottom(boxes)
	case models.ArrangeOpDistributeHoriz:
		boxes = geometry.DistributeHorizontal(boxes)
	case models.ArrangeOpDistributeVert:
		boxes = geometry.DistributeVertical(boxes)
	default:
		return &arrangeError{msg: fmt.Sprintf("unknown op %q", req.Op)}
	}

	for i, idx := range selected {
		tpl.Fields[idx].Box = boxes[i]
	}
	return nil
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

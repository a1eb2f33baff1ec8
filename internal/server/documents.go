package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/fieldmark-hq/fieldmark/internal/models"
)

var pdfMagic = []byte("%PDF")

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFileSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF files are accepted")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if !bytes.HasPrefix(content, pdfMagic) {
		writeError(w, http.StatusBadRequest, "file is not a PDF")
		return
	}

	doc, duplicate, err := s.ingestor.Receive(r.Context(), header.Filename, content)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	message := "Document uploaded."
	code := http.StatusCreated
	if duplicate {
		message = "Identical document already exists."
		code = http.StatusOK
	}
	writeJSON(w, code, models.UploadResponse{
		Message:   message,
		Document:  doc,
		Duplicate: duplicate,
	})
}

func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Processing is idempotent; a READY document returns its fields as-is.
	message := "Document already processed."
	if doc.Status != models.DocumentStatusReady {
		doc, err = s.ingestor.ProcessDocument(r.Context(), doc)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		message = "Document processed."
	}

	writeJSON(w, http.StatusOK, models.ProcessResponse{
		Message:       message,
		DocumentID:    doc.ID,
		PageCount:     doc.PageCount,
		FieldCount:    len(doc.Fields),
		CheckboxCount: doc.CheckboxCount(),
		Fields:        doc.Fields,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

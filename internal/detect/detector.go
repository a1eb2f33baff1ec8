// Package detect calls the document-understanding model to locate checkbox
// fields on single PDF pages.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/fieldmark-hq/fieldmark/internal/gcp"
	"github.com/fieldmark-hq/fieldmark/internal/geometry"
)

// Detection is one checkbox located on a page, in normalized page
// coordinates (top-left origin).
type Detection struct {
	Label      string       `json:"label"`
	Checked    bool         `json:"checked"`
	Confidence float64      `json:"confidence"`
	Box        geometry.Box `json:"box"`
}

// Detector runs checkbox detection against the Vertex AI model.
type Detector struct {
	model *genai.GenerativeModel
}

// New creates a Detector from an already configured Vertex client.
func New(vc *gcp.VertexClient) *Detector {
	return &Detector{model: vc.CheckboxDetectorModel}
}

// DetectPage locates the checkboxes on a single-page PDF stored in GCS.
func (d *Detector) DetectPage(ctx context.Context, gcsURI string) ([]Detection, error) {
	prompt := genai.Text(gcp.CheckboxDetectorUserPrompt)
	filePart := genai.FileData{
		MIMEType: "application/pdf",
		FileURI:  gcsURI,
	}

	resp, err := d.model.GenerateContent(ctx, filePart, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate detections from gemini: %w", err)
	}

	jsonString := extractJSONContent(resp)
	if jsonString == "" {
		return nil, fmt.Errorf("gemini returned an empty response instead of JSON for %s", gcsURI)
	}
	if isRefusal(jsonString) {
		return nil, fmt.Errorf("gemini response indicates refusal for %s", gcsURI)
	}

	detections, err := ParseDetections(jsonString)
	if err != nil {
		slog.Error("Failed to parse detection JSON", "gcsUri", gcsURI, "error", err, "responseBody", jsonString)
		return nil, err
	}
	return detections, nil
}

// ParseDetections unmarshals the model's JSON array and sanitizes each
// entry: confidence clamped to [0,1], boxes clamped to the unit square,
// entries without any area dropped.
func ParseDetections(jsonString string) ([]Detection, error) {
	var raw []Detection
	if err := json.Unmarshal([]byte(jsonString), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from model: %w", err)
	}

	detections := make([]Detection, 0, len(raw))
	for _, det := range raw {
		det.Confidence = clampConfidence(det.Confidence)
		det.Box = det.Box.Clamp()
		if !det.Box.InUnitSquare() {
			continue
		}
		det.Label = strings.TrimSpace(det.Label)
		detections = append(detections, det)
	}
	return detections, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// extractJSONContent robustly parses the model response and pulls out the
// text content, stripping any stray code fences.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var contentBuilder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			contentBuilder.WriteString(string(txt))
		}
	}

	contentStr := strings.TrimSpace(contentBuilder.String())
	contentStr = strings.TrimPrefix(contentStr, "```json")
	contentStr = strings.TrimPrefix(contentStr, "```")
	contentStr = strings.TrimSuffix(contentStr, "```")
	return strings.TrimSpace(contentStr)
}

// Sanity check for LLM refusal. If the model refuses to answer we must fail
// fast rather than store an empty field set.
func isRefusal(content string) bool {
	refusalPhrases := []string{
		"i am unable to",
		"i cannot fulfill",
		"i cannot answer",
		"i cannot provide",
		"as a large language model",
	}
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

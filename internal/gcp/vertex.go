package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Checkbox Detector Model Prompts ---
const CheckboxDetectorSystemPrompt = "You are a document form parser specialized in locating checkbox fields on scanned PDF pages. You must output your response as a valid JSON array."
const CheckboxDetectorUserPrompt = `Analyze the provided single-page PDF form. Your task is to locate every checkbox on the page.

Follow these rules precisely:
1.  Identify each checkbox, tick box, or selectable square on the page, whether empty or marked.
2.  Create a JSON object for each checkbox found.
3.  Each JSON object must have exactly four keys:
    - "label": A string with the text caption adjacent to the checkbox. Use an empty string if there is none.
    - "checked": A boolean, true if the box is already marked.
    - "confidence": A number between 0.0 and 1.0 expressing how certain you are that this is a checkbox.
    - "box": An object with keys "x", "y", "width", "height", all normalized to the page size in [0,1], where (0,0) is the top-left corner of the page and "x","y" locate the top-left corner of the checkbox.
4.  The final output MUST be a single, valid JSON array of these objects. Do not include any text before or after the JSON array. Return [] if the page has no checkboxes.

Example output format:
[
  {
    "label": "I agree to the terms",
    "checked": false,
    "confidence": 0.97,
    "box": {"x": 0.12, "y": 0.43, "width": 0.02, "height": 0.015}
  },
  {
    "label": "Subscribe to newsletter",
    "checked": true,
    "confidence": 0.88,
    "box": {"x": 0.12, "y": 0.47, "width": 0.02, "height": 0.015}
  }
]`

// VertexClient holds the pre-configured generative models for our app.
type VertexClient struct {
	CheckboxDetectorModel *genai.GenerativeModel
	baseClient            *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the checkbox detector model ---
	detectorModel := baseClient.GenerativeModel("gemini-1.5-pro")
	detectorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(CheckboxDetectorSystemPrompt)},
	}
	detectorModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0), // Low temp for deterministic, structured output
	}
	detectorModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		CheckboxDetectorModel: detectorModel,
		baseClient:            baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

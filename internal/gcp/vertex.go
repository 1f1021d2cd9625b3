package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
)

// FilerSystemPrompt frames every request the filer sends to the model.
const FilerSystemPrompt = "You are a meticulous records clerk for a property management company. You answer with a single short token exactly as instructed and never add explanations, punctuation or formatting."

// VertexClient is a Gemini model configured for short deterministic answers.
type VertexClient struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a client for modelName in projectID/region.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(FilerSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.0),
		MaxOutputTokens: genai.Ptr[int32](64),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		model:      model,
		baseClient: baseClient,
	}, nil
}

// Generate sends the prompt, with the attachment first when present, and
// returns the concatenated text of the first candidate.
func (c *VertexClient) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	var parts []genai.Part
	if len(req.Data) > 0 {
		parts = append(parts, genai.Blob{MIMEType: req.MIMEType, Data: req.Data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", failure.New(failure.BadRequest, "vertex.generate", err)
		}
		return "", failure.Wrap("vertex.generate", err)
	}
	return responseText(resp), nil
}

// AcceptsMIMEType reports that Gemini takes PDFs and images inline.
func (c *VertexClient) AcceptsMIMEType(mimeType string) bool {
	return mimeType == "application/pdf" || strings.HasPrefix(mimeType, "image/")
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// responseText robustly extracts the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

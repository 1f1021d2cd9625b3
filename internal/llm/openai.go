// Package llm adapts OpenAI-compatible chat APIs to the filer's generator.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// zeroTemperature stands in for 0: the request field is omitempty, so a
// literal zero would fall back to the server default.
const zeroTemperature = 1e-6

// OpenAIClient sends prompts to an OpenAI-compatible chat completion API.
// It accepts image attachments only.
type OpenAIClient struct {
	api   *openai.Client
	model string
}

// NewOpenAIClient creates a client; baseURL may be empty for api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg), model: model}
}

// Generate returns the trimmed text of the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Data) == 0 {
		msg.Content = req.Prompt
	} else {
		if !c.AcceptsMIMEType(req.MIMEType) {
			return "", failure.New(failure.BadRequest, "openai.generate",
				fmt.Errorf("attachments of type %s are not supported", req.MIMEType))
		}
		dataURL := fmt.Sprintf("data:%s;base64,%s", req.MIMEType, base64.StdEncoding.EncodeToString(req.Data))
		msg.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				},
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: zeroTemperature,
		MaxTokens:   64,
	})
	if err != nil {
		return "", failure.Wrap("openai.generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// AcceptsMIMEType reports whether an attachment of mimeType can be sent inline.
func (c *OpenAIClient) AcceptsMIMEType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

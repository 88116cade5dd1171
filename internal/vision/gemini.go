package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements the Client interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Client instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(maxResponseTokens)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Invoke sends one card image and the extraction prompt to Gemini and
// returns the raw text of the model's reply
func (g *Gemini) Invoke(ctx context.Context, image []byte, mimeType string, prompt string) (string, error) {
	pngData, err := preparePNG(image, mimeType)
	if err != nil {
		return "", err
	}

	// genai.ImageData expects just the format suffix ("png"), not the
	// full MIME type. After preparePNG everything is PNG.
	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(prompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", newError(KindUnknown, fmt.Errorf("no response from gemini"))
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return responseText.String(), nil
}

// classifyGeminiError maps genai errors to an error kind
func classifyGeminiError(err error) *Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return newError(kindForStatus(gerr.Code), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, err)
	}
	return newError(KindUnknown, err)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

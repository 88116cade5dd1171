package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	iamTokenURL         = "https://iam.cloud.ibm.com/identity/token"
	watsonxAPIVersion   = "2024-05-31"
	defaultWatsonxURL   = "https://us-south.ml.cloud.ibm.com"
	defaultWatsonxModel = "meta-llama/llama-3-2-11b-vision-instruct"

	// Model parameters are fixed: extraction wants deterministic output,
	// and a single card never needs more than a few hundred tokens.
	maxResponseTokens = 500
)

// Watsonx implements the Client interface against the IBM watsonx.ai
// chat API. Credentials (API key, project id, service URL) are set at
// construction and never mutated.
type Watsonx struct {
	serviceURL string
	tokenURL   string
	apiKey     string
	projectID  string
	model      string
	client     *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewWatsonx creates a new watsonx.ai Client instance
func NewWatsonx(serviceURL, apiKey, projectID, model string) (*Watsonx, error) {
	return NewWatsonxWithTokenURL(serviceURL, iamTokenURL, apiKey, projectID, model)
}

// NewWatsonxWithTokenURL creates a watsonx.ai client with a custom IAM
// token endpoint for testing
func NewWatsonxWithTokenURL(serviceURL, tokenURL, apiKey, projectID, model string) (*Watsonx, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("watsonx api key is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("watsonx project id is required")
	}
	if serviceURL == "" {
		serviceURL = defaultWatsonxURL
	}
	if model == "" {
		model = defaultWatsonxModel
	}

	return &Watsonx{
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
		tokenURL:   tokenURL,
		apiKey:     apiKey,
		projectID:  projectID,
		model:      model,
		client:     &http.Client{},
	}, nil
}

type watsonxContent struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *watsonxImageURL `json:"image_url,omitempty"`
}

type watsonxImageURL struct {
	URL string `json:"url"`
}

type watsonxMessage struct {
	Role    string           `json:"role"`
	Content []watsonxContent `json:"content"`
}

// watsonxChatRequest represents the request body for the text/chat API
type watsonxChatRequest struct {
	ModelID     string           `json:"model_id"`
	ProjectID   string           `json:"project_id"`
	Messages    []watsonxMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
	TopP        float64          `json:"top_p"`
}

// watsonxChatResponse represents the response from the text/chat API
type watsonxChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type iamTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached IAM bearer token, exchanging the API key
// for a fresh one when the cached token is missing or about to expire.
func (w *Watsonx) accessToken(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.token != "" && time.Now().Before(w.tokenExpiry) {
		return w.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", w.apiKey)

	req, err := http.NewRequestWithContext(ctx, "POST", w.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", newError(KindUnknown, fmt.Errorf("creating token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		kind := kindForStatus(resp.StatusCode)
		// The IAM endpoint rejects bad API keys with 400
		if resp.StatusCode == http.StatusBadRequest {
			kind = KindUnauthorized
		}
		return "", newError(kind, fmt.Errorf("IAM token error (status %d): %s", resp.StatusCode, string(body)))
	}

	var tok iamTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", newError(KindUnknown, fmt.Errorf("decoding token response: %w", err))
	}
	if tok.AccessToken == "" {
		return "", newError(KindUnauthorized, fmt.Errorf("IAM token response contained no access token"))
	}

	w.token = tok.AccessToken
	// Refresh a minute early to avoid racing the expiry
	w.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)

	return w.token, nil
}

// Invoke sends one card image and the extraction prompt to the watsonx.ai
// chat endpoint and returns the raw text of the model's reply
func (w *Watsonx) Invoke(ctx context.Context, image []byte, mimeType string, prompt string) (string, error) {
	pngData, err := preparePNG(image, mimeType)
	if err != nil {
		return "", err
	}

	token, err := w.accessToken(ctx)
	if err != nil {
		return "", err
	}

	imageB64 := base64.StdEncoding.EncodeToString(pngData)
	reqBody := watsonxChatRequest{
		ModelID:   w.model,
		ProjectID: w.projectID,
		Messages: []watsonxMessage{
			{
				Role: "user",
				Content: []watsonxContent{
					{
						Type:     "image_url",
						ImageURL: &watsonxImageURL{URL: fmt.Sprintf("data:image/png;base64,%s", imageB64)},
					},
					{
						Type: "text",
						Text: prompt,
					},
				},
			},
		},
		MaxTokens:   maxResponseTokens,
		Temperature: 0,
		TopP:        1.0,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", newError(KindUnknown, fmt.Errorf("marshaling request: %w", err))
	}

	chatURL := fmt.Sprintf("%s/ml/v1/text/chat?version=%s", w.serviceURL, watsonxAPIVersion)
	req, err := http.NewRequestWithContext(ctx, "POST", chatURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", newError(KindUnknown, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", newError(kindForStatus(resp.StatusCode), fmt.Errorf("watsonx API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var chatResp watsonxChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", newError(KindUnknown, fmt.Errorf("decoding response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return "", newError(KindUnknown, fmt.Errorf("no choices in watsonx response"))
	}

	return chatResp.Choices[0].Message.Content, nil
}

// classifyTransportError maps net/http client errors to an error kind
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindTimeout, err)
	}
	return newError(KindUnavailable, err)
}

// Close closes the watsonx client (no-op for HTTP client)
func (w *Watsonx) Close() error {
	return nil
}

package vision

import "context"

// Client defines the interface for vision model providers
type Client interface {
	// Invoke sends one image and an instruction prompt to the model and
	// returns the raw text of the model's response. The caller bounds the
	// call with ctx; errors are classified via KindOf.
	Invoke(ctx context.Context, image []byte, mimeType string, prompt string) (string, error)
	// Close closes the client and releases resources
	Close() error
}

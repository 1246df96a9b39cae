package ai

import (
	"context"
	"errors"
)

var (
	// ErrUpload wraps every failure to store source bytes with the provider.
	ErrUpload = errors.New("image upload failed")
	// ErrInference wraps every failure of an edit request.
	ErrInference = errors.New("image edit failed")
)

// Editor is implemented by image editing providers.
type Editor interface {
	// Upload stores raw image bytes with the provider and returns a URL the
	// provider can read back.
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	// Edit applies prompt to the image at imageURL and returns the URL of
	// the edited image. It blocks until the provider finishes.
	Edit(ctx context.Context, imageURL, prompt string) (string, error)
}

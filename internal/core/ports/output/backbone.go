package ports

import (
	"context"

	"gradcam-service/internal/core/domain"
)

// Backbone runs the pretrained network up to the designated intermediate layer.
type Backbone interface {
	// Extract takes a preprocessed input laid out as the model expects and returns
	// the activation map in Height x Width x Channels order.
	Extract(ctx context.Context, input []float32) (*domain.ActivationMap, error)

	// Close releases the runtime resources held by the backbone.
	Close() error
}

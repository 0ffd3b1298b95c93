package llm

import (
	"context"

	"sadhana-metering/pkg/api"
)

// StreamRequest is one chat completion request.
type StreamRequest struct {
	Turns  []api.Turn
	System string
}

// StreamChunk is one translated text fragment. A chunk with Err set is the
// last value on the channel and marks the stream as failed.
type StreamChunk struct {
	Content string
	Err     error
}

// StreamProvider streams completions from an upstream model API. An error
// returned from ChatStream means nothing was streamed. The channel is closed
// when the upstream stream ends or ctx is cancelled.
type StreamProvider interface {
	ChatStream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error)
	Name() string
}

// VisionProvider identifies the subject of a photo.
type VisionProvider interface {
	Identify(ctx context.Context, image []byte, mimeType string) (*api.IdentifyResult, error)
}

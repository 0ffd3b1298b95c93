package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/api"

	"github.com/sirupsen/logrus"
)

// errMalformedFrame marks a frame that is skipped without ending the stream.
var errMalformedFrame = errors.New("malformed frame")

// extractFunc translates one upstream frame. It returns the text delta (may
// be empty), whether the stream has ended, and an error. Errors wrapping
// errMalformedFrame are skipped; any other error fails the stream.
type extractFunc func(Frame) (text string, done bool, err error)

// Message is one upstream chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toMessages(turns []api.Turn) []Message {
	messages := make([]Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case api.RoleUser:
			messages = append(messages, Message{Role: "user", Content: t.Content})
		case api.RoleAssistant:
			messages = append(messages, Message{Role: "assistant", Content: t.Content})
		}
	}
	return messages
}

// checkStatus turns a non-2xx upstream response into an UpstreamUnavailable
// error and closes its body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return apperr.Upstream(
		fmt.Sprintf("model API returned status %d", resp.StatusCode),
		fmt.Errorf("%s", body),
	)
}

// pump decodes body in a goroutine and forwards text deltas until the
// stream ends, fails, or ctx is cancelled.
func pump(ctx context.Context, provider string, body io.ReadCloser, extract extractFunc) <-chan StreamChunk {
	chunks := make(chan StreamChunk)

	go func() {
		defer body.Close()
		defer close(chunks)

		log := logger.Log.WithField("provider", provider)
		send := func(c StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		dec := NewFrameDecoder(body)
		fragments, skipped := 0, 0
		for {
			frame, err := dec.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("Upstream stream interrupted")
					send(StreamChunk{Err: apperr.Upstream("model stream interrupted", err)})
				}
				return
			}

			text, done, err := extract(frame)
			if errors.Is(err, errMalformedFrame) {
				skipped++
				log.WithError(err).Warn("Skipping malformed stream frame")
				continue
			}
			if err != nil {
				log.WithError(err).Warn("Upstream reported a stream error")
				send(StreamChunk{Err: apperr.Upstream("model stream failed", err)})
				return
			}
			if text != "" {
				fragments++
				if !send(StreamChunk{Content: text}) {
					return
				}
			}
			if done {
				break
			}
		}

		log.WithFields(logrus.Fields{"fragments": fragments, "skipped": skipped}).Debug("Upstream stream finished")
	}()

	return chunks
}

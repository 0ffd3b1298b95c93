package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"sadhana-metering/pkg/api"
)

const (
	MaxMessageRunes = 4000
	MaxSystemRunes  = 8000
)

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct{}

func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// ValidateTurn checks a single turn. Only user input is length-capped;
// assistant replies are as long as the model made them.
func (v *ChatRequestValidator) ValidateTurn(turn api.Turn) error {
	if !turn.Role.Valid() {
		return errors.New("role must be user or assistant")
	}
	if strings.TrimSpace(turn.Content) == "" {
		return errors.New("message cannot be empty")
	}
	if turn.Role != api.RoleUser {
		return nil
	}
	if n := utf8.RuneCountInString(turn.Content); n > MaxMessageRunes {
		return fmt.Errorf("message must be at most %d characters long, got %d", MaxMessageRunes, n)
	}
	return nil
}

// ValidateChatRequest requires at least one turn, every turn valid, and the
// last turn authored by the user. Callers that keep only a window of the
// history validate that window.
func (v *ChatRequestValidator) ValidateChatRequest(req api.ChatRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages cannot be empty")
	}
	for i, turn := range req.Messages {
		if err := v.ValidateTurn(turn); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != api.RoleUser {
		return errors.New("last message must be from the user")
	}
	if n := utf8.RuneCountInString(req.System); n > MaxSystemRunes {
		return fmt.Errorf("system must be at most %d characters long, got %d", MaxSystemRunes, n)
	}
	return nil
}

// ValidateAddMessage checks a message appended to a stored conversation.
func (v *ChatRequestValidator) ValidateAddMessage(req api.AddMessageRequest) error {
	if err := v.ValidateTurn(api.Turn{Role: req.Role, Content: req.Content}); err != nil {
		return err
	}
	for i, ref := range req.SourceReferences {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("source_references[%d] cannot be empty", i)
		}
	}
	return nil
}

package client

import (
	"fmt"
	"strings"
	"testing"

	"sadhana-metering/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCitations(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		content   string
		citations []string
	}{
		{"no markers", "Plain answer.", "Plain answer.", nil},
		{"trailing marker", "The answer is X. [REF: Gita 2.47]", "The answer is X.", []string{"Gita 2.47"}},
		{"inline markers", "Act [REF: Gita 2.47] without attachment [REF:Gita 3.19].", "Act without attachment.", []string{"Gita 2.47", "Gita 3.19"}},
		{"padded reference", "Om. [REF:   Mandukya Upanishad 1  ]", "Om.", []string{"Mandukya Upanishad 1"}},
		{"unterminated marker kept", "Text [REF: Gita", "Text [REF: Gita", nil},
		{"other brackets kept", "See [note] here.", "See [note] here.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, citations := ExtractCitations(tt.raw)
			assert.Equal(t, tt.content, content)
			assert.Equal(t, tt.citations, citations)
		})
	}
}

func TestAssembler_ScenarioB(t *testing.T) {
	a := NewAssembler()
	a.Begin("What does the Gita say about action?")
	assert.Equal(t, TurnAwaitingFirstByte, a.State())

	a.Append("The answer is X.")
	assert.Equal(t, TurnStreaming, a.State())
	a.Append(" [REF: Gita 2.47]")

	msgs := a.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Streaming)
	assert.Contains(t, msgs[1].Content, "[REF:", "markers are only stripped at finalize")

	msg := a.Finalize()
	assert.Equal(t, TurnFinalizing, a.State())
	assert.Equal(t, "The answer is X.", msg.Content)
	assert.Equal(t, []string{"Gita 2.47"}, msg.Citations)
	assert.False(t, msg.Streaming)

	a.Settle()
	assert.Equal(t, TurnSettled, a.State())
	assert.Equal(t, msg, a.Messages()[1])
}

func TestAssembler_MarkerSplitAcrossFragments(t *testing.T) {
	a := NewAssembler()
	a.Begin("q")
	for _, frag := range []string{"Answer [RE", "F: Katha ", "Upanishad 1.2.20", "]"} {
		a.Append(frag)
	}
	msg := a.Finalize()
	assert.Equal(t, "Answer", msg.Content)
	assert.Equal(t, []string{"Katha Upanishad 1.2.20"}, msg.Citations)
}

func TestAssembler_RoundTripKMarkers(t *testing.T) {
	for k := 0; k <= 5; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var raw strings.Builder
			raw.WriteString("Opening.")
			for i := 0; i < k; i++ {
				fmt.Fprintf(&raw, " Verse %d [REF: Source %d]", i, i)
			}

			a := NewAssembler()
			a.Begin("q")
			// feed in 3-byte fragments to split markers
			s := raw.String()
			for i := 0; i < len(s); i += 3 {
				a.Append(s[i:min(i+3, len(s))])
			}
			msg := a.Finalize()

			assert.NotContains(t, msg.Content, "[REF:")
			assert.Len(t, msg.Citations, k)
		})
	}
}

func TestAssembler_AbortAndFailDropTurn(t *testing.T) {
	history := []Message{
		{Role: api.RoleUser, Content: "hi"},
		{Role: api.RoleAssistant, Content: "namaste"},
	}

	a := NewAssembler()
	a.Reset(history)
	a.Begin("second question")
	a.Append("partial")
	a.Abort()
	assert.Equal(t, TurnAborted, a.State())
	assert.Equal(t, history, a.Messages())

	a.Begin("third question")
	a.Fail()
	assert.Equal(t, TurnFailed, a.State())
	assert.Equal(t, history, a.Messages())
}

func TestAssembler_Turns(t *testing.T) {
	a := NewAssembler()
	a.Reset([]Message{{Role: api.RoleUser, Content: "a"}, {Role: api.RoleAssistant, Content: "b"}})
	a.Begin("c")
	a.Append("partial")

	assert.Equal(t, []api.Turn{
		{Role: api.RoleUser, Content: "a"},
		{Role: api.RoleAssistant, Content: "b"},
		{Role: api.RoleUser, Content: "c"},
	}, a.Turns())
}

func TestTurnStateString(t *testing.T) {
	assert.Equal(t, "awaiting_first_byte", TurnAwaitingFirstByte.String())
	assert.Equal(t, "settled", TurnSettled.String())
	assert.Equal(t, "unknown", TurnState(99).String())
}

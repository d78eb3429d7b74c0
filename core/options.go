package coordination

import (
	"context"

	"github.com/macbot-ai/macbot-core/core/conversations"
	"github.com/macbot-ai/macbot-core/core/interruptions"
)

type Option func(*Assistant)

// Request carries everything the language model needs for one turn.
type Request struct {
	ConversationID string
	Input          string
	History        []conversations.Turn
	Knowledge      []string
	Tools          []Tool
}

// LLM generates assistant responses. Stream delivers the response
// incrementally through onDelta; the returned string is the complete
// response text.
type LLM interface {
	Stream(ctx context.Context, req Request, onDelta func(delta string)) (string, error)
}

func WithLLM(llm LLM) Option {
	return func(a *Assistant) { a.llm = llm }
}

// RAG looks up knowledge snippets relevant to a query. Lookups are breaker
// gated and best-effort; a failed lookup degrades to answering without
// retrieved context.
type RAG interface {
	Retrieve(ctx context.Context, query string, limit int) ([]string, error)
}

func WithRAG(rag RAG) Option {
	return func(a *Assistant) { a.rag = rag }
}

// WithPlayback wires the stop-playback handshake used on barge-in.
func WithPlayback(playback interruptions.Playback) Option {
	return func(a *Assistant) { a.playback = playback }
}

// WithTools exposes additional tools to the language model, on top of the
// built-in conversation and health tools.
func WithTools(tools ...Tool) Option {
	return func(a *Assistant) { a.extraTools = append(a.extraTools, tools...) }
}

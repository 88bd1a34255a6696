// Package mastermind lets an application converse with one of several
// interchangeable language-model backends while an associative memory of
// prior knowledge is retrieved by semantic similarity and injected into
// every conversation.
//
// Calls flow through a per-backend FIFO queue, a sliding-window rate
// limiter, a retry engine and an optional fallback backend:
//
//	client, err := mastermind.New(
//	    mastermind.WithPrimary(provider.Config{
//	        Kind:   "openai",
//	        Model:  "gpt-4o-mini",
//	        APIKey: os.Getenv("OPENAI_API_KEY"),
//	    }),
//	    mastermind.WithFallback(provider.Config{Kind: "ollama", Model: "llama3"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Cleanup(ctx)
//
//	resp, err := client.Chat(ctx, &mastermind.ChatRequest{
//	    Messages: []types.Message{types.UserMessage("Hello!")},
//	})
package mastermind

import (
	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

// Version is the current version of mastermind.
const Version = "0.1.0"

// ChatRequest is one facade chat call.
type ChatRequest struct {
	Messages []types.Message

	// SessionID selects the conversation buffer the exchange is compacted
	// into. Empty selects the default session.
	SessionID string

	// SkipMemory disables context retrieval and compaction for this call.
	SkipMemory bool
}

// ChatResponse is the validated reply to a ChatRequest.
type ChatResponse struct {
	Message types.Message

	// Backend is the identity of the backend that produced Message.
	Backend string

	// Context is the memory context injected ahead of the caller's messages,
	// or empty when nothing relevant was found.
	Context string

	RequestID string
}

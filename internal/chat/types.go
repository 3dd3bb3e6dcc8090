// Package chat builds the bounded responder context from a canonical
// transcript and talks to the external text-completion service.
package chat

import "context"

// Message is one role-tagged turn handed to the responder.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// Context is the prompt payload for one responder call: the instructional
// preamble, the prior turns inside the window, and the turn to answer.
type Context struct {
	System  string    `json:"system"`
	History []Message `json:"history,omitempty"`
	Query   string    `json:"query"`
}

// Responder turns a context payload into a reply string. The OpenAI client
// implements it; tests substitute fakes.
type Responder interface {
	Reply(ctx context.Context, prompt Context) (string, error)
}

package router

import (
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/rag"
)

// State is the run state of the router workflow.
type State struct {
	Messages  []model.Message `json:"messages"`
	UserQuery string          `json:"user_query"`
	Domain    Domain          `json:"domain"`
	Documents []rag.Document  `json:"documents"`
	Answer    string          `json:"answer"`
}

// Input is what a caller supplies to start a run.
type Input struct {
	UserQuery string `json:"user_query"`
}

// Output is what a run returns. Intermediate state such as the message log
// and the domain stays internal.
type Output struct {
	Documents []rag.Document `json:"documents"`
	Answer    string         `json:"answer"`
}

// Reduce appends the delta's messages to the log and replaces every other
// field the delta sets. A non-nil empty Documents slice counts as set.
func Reduce(prev, delta State) State {
	prev.Messages = model.AppendMessages(prev.Messages, delta.Messages...)
	if delta.UserQuery != "" {
		prev.UserQuery = delta.UserQuery
	}
	if delta.Domain != DomainUnclassified {
		prev.Domain = delta.Domain
	}
	if delta.Documents != nil {
		prev.Documents = delta.Documents
	}
	if delta.Answer != "" {
		prev.Answer = delta.Answer
	}
	return prev
}

package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/rag"
)

// Node IDs.
const (
	NodeClassify          = "classify"
	NodeRetrieveRecords   = "retrieve_medical_records"
	NodeRetrieveInsurance = "retrieve_insurance_faqs"
	NodeGenerateAnswer    = "generate_answer"
)

// CodeUnclassifiedDomain is the NodeError code of a run aborted because the
// classifier's label was outside the known domains.
const CodeUnclassifiedDomain = "UNCLASSIFIED_DOMAIN"

// classifyNode asks the low-variability model for the query's domain and
// records the user turn and the raw reply in the log.
func classifyNode(m model.ChatModel) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		user := model.User(s.UserQuery)
		msgs := make([]model.Message, 0, len(s.Messages)+2)
		msgs = append(msgs, model.System(routerPrompt))
		msgs = append(msgs, s.Messages...)
		msgs = append(msgs, user)

		out, err := m.Chat(ctx, msgs, nil)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		graph.RecordUsage(ctx, NodeClassify, out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)

		domain, err := ParseDomain(out.Text)
		if err != nil {
			log.Warn().Str("run_id", graph.RunID(ctx)).Str("label", out.Text).Msg("query could not be classified")
			return graph.Fail[State](CodeUnclassifiedDomain, err)
		}
		log.Debug().Str("run_id", graph.RunID(ctx)).Stringer("domain", domain).Msg("query classified")

		return graph.NodeResult[State]{Delta: State{
			Domain:   domain,
			Messages: []model.Message{user, model.Assistant(out.Text)},
		}}
	}
}

// retrieveNode fetches documents for the raw user query. It leaves the log
// untouched.
func retrieveNode(r rag.Retriever) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		docs, err := r.Retrieve(ctx, s.UserQuery)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		if docs == nil {
			docs = []rag.Document{}
		}
		return graph.NodeResult[State]{Delta: State{Documents: docs}}
	}
}

// generateAnswerNode answers from the retrieved documents with the domain's
// persona. The documents turn is sent to the model but not logged.
func generateAnswerNode(m model.ChatModel) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		prompt, err := answerPrompt(s.Domain)
		if err != nil {
			return graph.Fail[State](CodeUnclassifiedDomain, err)
		}

		msgs := make([]model.Message, 0, len(s.Messages)+2)
		msgs = append(msgs, model.System(prompt))
		msgs = append(msgs, s.Messages...)
		msgs = append(msgs, model.User(RenderDocuments(s.Documents)))

		out, err := m.Chat(ctx, msgs, nil)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		graph.RecordUsage(ctx, NodeGenerateAnswer, out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)

		return graph.NodeResult[State]{
			Delta: State{Answer: out.Text, Messages: []model.Message{model.Assistant(out.Text)}},
			Route: graph.Stop(),
		}
	}
}

func answerPrompt(d Domain) (string, error) {
	switch d {
	case DomainRecords:
		return medicalRecordsPrompt, nil
	case DomainInsurance:
		return insuranceFAQsPrompt, nil
	case DomainUnclassified:
		return "", &UnclassifiedError{Label: d.String()}
	default:
		return "", fmt.Errorf("router: invalid domain value %d", int(d))
	}
}

// RenderDocuments formats documents for the answer prompt, one numbered
// document per line. An empty set renders as "Documents: []".
func RenderDocuments(docs []rag.Document) string {
	if len(docs) == 0 {
		return "Documents: []"
	}
	var b strings.Builder
	b.WriteString("Documents: ")
	for i, d := range docs {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, d.String())
	}
	return b.String()
}

package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

const (
	NoContextAnswer  = "No relevant documents found for this query."
	TextUnavailable  = "[Text not available - source document not found]"
	degradedTemplate = "[LLM Error: %s] Context retrieved but could not generate answer."

	messageAnswered  = "Answer generated from documents only"
	messageNoContext = "No documents available"
	messageDegraded  = "LLM unavailable, returning context only"
)

// BuildContext renders hits in ranking order, one citation-annotated block
// per hit, separated by blank lines.
func BuildContext(hits []domain.SearchHit) string {
	lines := make([]string, 0, len(hits)*4)
	for i, hit := range hits {
		text := TextUnavailable
		if hit.TextAvailable {
			text = hit.RetrievedText
		}
		lines = append(lines,
			fmt.Sprintf("[Document %d: %s]", i+1, hit.DocumentName),
			fmt.Sprintf("Page %d", hit.Metadata.Page),
			text,
			"",
		)
	}
	return strings.Join(lines, "\n")
}

func BuildSources(hits []domain.SearchHit) []domain.Source {
	sources := make([]domain.Source, 0, len(hits))
	for _, hit := range hits {
		sources = append(sources, domain.Source{
			DocumentName:  hit.DocumentName,
			GroupID:       hit.GroupID,
			Page:          hit.Metadata.Page,
			ChunkIndex:    hit.ChunkIndex,
			Similarity:    hit.Similarity,
			TextAvailable: hit.TextAvailable,
		})
	}
	return sources
}

// BuildPrompt constrains the model to the supplied context.
func BuildPrompt(question, contextBlock string) string {
	return `You are a financial document analyst. Answer the question based ONLY on the context provided below.

IMPORTANT RULES:
- Answer ONLY using information from the provided context
- If the context doesn't contain the answer, say "The provided documents do not contain information about this."
- Do not use external knowledge or make assumptions
- Cite which document and page you're referencing when possible

CONTEXT FROM DOCUMENTS:
` + contextBlock + `

QUESTION: ` + question + `

ANSWER (based only on the context above):`
}

// degradedAnswer names the failure class only; the underlying error stays in logs.
func degradedAnswer(err error) string {
	reason := "completion failed"
	switch {
	case domain.IsKind(err, domain.ErrTemporary):
		reason = "completion service unavailable"
	case domain.IsKind(err, domain.ErrConfiguration):
		reason = "completion model unavailable"
	}
	return fmt.Sprintf(degradedTemplate, reason)
}

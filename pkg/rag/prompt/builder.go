package prompt

import (
	"fmt"
	"strings"

	"openrecords-be/pkg/llm"
)

const AnswerSystemPrompt = `You are a helpful research assistant for OpenRecords.
Use the following sources to answer the user's question.
If the sources don't contain enough information to answer, say so honestly.
Always cite which source(s) you used.  Use Markdown formatting for readability:
headings, bullet lists, bold, code blocks where appropriate.  Be concise and accurate.`

// Source is one retrieved passage handed to the model.
type Source struct {
	Filename string
	Page     *int
	Text     string
}

// AnswerBuilder builds the grounded question prompt.
type AnswerBuilder struct {
	query   string
	sources []Source
}

func NewAnswerBuilder(query string, sources []Source) *AnswerBuilder {
	return &AnswerBuilder{query: query, sources: sources}
}

// Messages returns the system and user messages for the chat call.
func (b *AnswerBuilder) Messages() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: AnswerSystemPrompt},
		{Role: "user", Content: b.Build()},
	}
}

func (b *AnswerBuilder) Build() string {
	var prompt strings.Builder

	prompt.WriteString("Sources:\n")
	b.writeSources(&prompt)
	prompt.WriteString("\nQuestion: ")
	prompt.WriteString(b.query)

	return prompt.String()
}

func (b *AnswerBuilder) writeSources(prompt *strings.Builder) {
	for i, src := range b.sources {
		prompt.WriteString(SourceHeader(i+1, src.Filename, src.Page))
		prompt.WriteString("\n")
		prompt.WriteString(src.Text)
		prompt.WriteString("\n\n")
	}
}

// SourceHeader renders "[Source n: file (page p)]"; the page part is omitted
// when unknown.
func SourceHeader(n int, filename string, page *int) string {
	if page != nil && *page > 0 {
		return fmt.Sprintf("[Source %d: %s (page %d)]", n, filename, *page)
	}
	return fmt.Sprintf("[Source %d: %s]", n, filename)
}

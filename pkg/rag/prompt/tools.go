package prompt

import (
	"fmt"
	"strings"
)

const SummarySystemPrompt = `You are a concise research summarizer for OpenRecords.
Produce a clear, well-structured summary of the entire corpus.
Use Markdown headings and bullet lists. Keep it crisp and factual.`

const OutlineSystemPrompt = `You are an expert information architect.
Generate a clean, hierarchical outline of the corpus.
Use Markdown with clear headings and nested bullets.`

const InsightSystemPrompt = `You are a senior research analyst for OpenRecords.
You have access to the COMPLETE text of every document the user has uploaded.
Produce a thorough, well-structured Markdown report covering the following sections.
Use rich Markdown: headers, bullet lists, bold, block-quotes for notable quotes,
and horizontal rules between sections.

## Required Sections

1. **Executive Summary** – 3-5 sentence overview of the entire corpus.
2. **Key Themes** – Major recurring themes across all documents.  List each theme
   with a brief explanation and which document(s) it appears in.
3. **Critical Insights** – Non-obvious findings, patterns, or data points that a
   reader might miss on a first pass.
4. **Notable Quotes** – 3-6 direct quotes that are especially significant.
   Use Markdown block-quotes (> ).
5. **Connections & Cross-References** – How the documents relate to each other:
   shared topics, contradicting claims, complementary evidence.
6. **Contradictions & Tensions** – Any conflicting information between sources.
7. **Open Questions** – 4-8 thought-provoking questions raised by the material
   that are not answered in the sources.
8. **Document Statistics** – A brief table listing each document, its approximate
   word count, and its primary topic.

Be thorough.  Cite documents by filename where possible.`

const defaultInsightRequest = "Generate comprehensive insights from these documents."

const infographicBase = "Create a visually stunning infographic that summarizes the following research content. " +
	"Use a professional design with clear sections, icons, charts, and data visualizations. " +
	"Include key statistics, main themes, and important findings. " +
	"Use a modern color palette and readable typography."

const pageBase = "Create a clean, printable page image that summarizes the following text. " +
	"Use a white background, subtle section headers, and clear typography. " +
	"Group the content into 5 short sections when possible. "

// DocumentBlock is one full document in a corpus prompt.
type DocumentBlock struct {
	Filename string
	Text     string
}

// Corpus renders documents as "---\n### Document: name" sections.
func Corpus(docs []DocumentBlock) string {
	var b strings.Builder
	for _, d := range docs {
		b.WriteString("\n\n---\n### Document: ")
		b.WriteString(d.Filename)
		b.WriteString("\n\n")
		b.WriteString(d.Text)
	}
	return strings.TrimSpace(b.String())
}

func InsightRequest(corpus, userPrompt string) string {
	if strings.TrimSpace(userPrompt) == "" {
		userPrompt = defaultInsightRequest
	}
	return fmt.Sprintf("Below is the FULL TEXT of all documents in this record.\n\n%s\n\n%s", corpus, userPrompt)
}

// Infographic wraps content with the default design brief, or with the
// caller's own prompt when one is given.
func Infographic(content, customPrompt string) string {
	if custom := strings.TrimSpace(customPrompt); custom != "" {
		return fmt.Sprintf("%s\n\n---\n\nSource content:\n%s", custom, content)
	}
	return fmt.Sprintf("%s\n\n---\n\nContent to visualize:\n%s", infographicBase, content)
}

// Page is the image prompt for one export page.
func Page(content string) string {
	return pageBase + "\n\nContent:\n" + content
}

// PageSection heads one chunk inside a page prompt.
func PageSection(filename string, ordinal int, snippet string) string {
	return fmt.Sprintf("Document: %s | Chunk: %d\n%s", filename, ordinal, snippet)
}

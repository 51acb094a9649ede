// Package prompt builds the message sequences sent to the chat model.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/llm"
	"github.com/docquer/docquer/internal/vectorstore"
)

const defaultMaxContextTokens = 4000

const mainInstruction = `
You are an assistant tasked with writing well-structured, high-quality blog-style content in Markdown format for %s.
Your job is to:
- Address the given prompt directly and concisely.
- Ensure proper Markdown syntax, especially for elements like tables, headers, bullet points, and code blocks.
- When using code blocks, ensure the correct language is specified (e.g., ` + "`python`, `javascript`, `bash`" + `) to enable syntax highlighting.
- For tables, ensure they follow the correct syntax with ` + "`|`" + ` for columns and ` + "`-`" + ` for headers.
- Use a consistent style throughout the document, such as proper indentation, spacing after headers, and bullet point formatting.
- Make sure the content is clear, readable, and visually appealing.

Your output should be a valid, well-structured Markdown document with no unnecessary explanations or commentary.
`

const editorInstruction = `
Your role is to inspect and refine the generated Markdown content. Follow these steps:

- **Tables**: Ensure all tables are correctly formatted with ` + "`|`" + ` for columns and ` + "`-`" + ` for headers. Check that the header row has at least three dashes (` + "`---`" + `) separating each column, and ensure proper alignment.
- **Code Blocks**: Inspect all code blocks to ensure they have the correct language name for syntax highlighting. For example, use ` + "`python`" + ` for Python code, ` + "`javascript`" + ` for JavaScript, etc. Ensure that only relevant code blocks are used (avoid using them for non-code sections).
- **Consistency**: Verify consistent indentation and spacing, especially after headers. Ensure that there is a blank line after each header and before any following content.
- **Formatting**: Ensure proper Markdown syntax, including the correct use of **bold** (` + "`**text**`" + `), **italic** (` + "`*text*`" + `), and **links** (` + "`[text](url)`" + `), when applicable.
- **Clarity**: Improve readability by ensuring clarity, structure, and flow. Eliminate any extraneous or redundant phrases.

Your output should only include the corrected and enhanced Markdown content, with no additional explanations.
`

const titleInstruction = "You are name recommender based on the question asked and the name should be around two words, " +
	"less than 18 characters and return just the name nothing less nothing more"

const subtitleInstruction = "You are subtitle recommender based on the %s and %s asked and the name should be around " +
	"4 to 5 words, less than 36 characters and return just the name nothing less nothing more"

// Assembler builds plain, grounded, editor and naming prompts. Retrieved
// context is capped at MaxContextTokens, dropping the lowest-scoring
// chunks first.
type Assembler struct {
	MaxContextTokens int
}

// New creates an Assembler with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Assembler {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Assembler{MaxContextTokens: maxContextTokens}
}

// Plain returns the first-pass transcript for an ungrounded turn: the main
// instruction for name, the replayed history, then the query.
func (a *Assembler) Plain(name string, history []llm.Message, query string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: fmt.Sprintf(mainInstruction, name)})
	msgs = append(msgs, history...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: query})
}

// Grounded is Plain with the query wrapped in the retrieved context. With no
// chunks it fails with NoContext rather than answering ungrounded.
func (a *Assembler) Grounded(name string, history []llm.Message, query string, chunks []vectorstore.Match) ([]llm.Message, error) {
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.NoContext, "no relevant context found to answer the query")
	}
	return a.Plain(name, history, GroundedQuery(query, a.selectChunks(chunks))), nil
}

// GroundedQuery wraps query in the text of the retrieved chunks.
func GroundedQuery(query string, chunks []vectorstore.Match) string {
	var sb strings.Builder
	sb.WriteString("According to the uploaded document the context: '")
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.Text)
	}
	fmt.Fprintf(&sb, "\n\n give the detailed response for the '%s' and elaborate clearly the topic according to the context if needed without hallucinating", query)
	return sb.String()
}

// selectChunks keeps the best chunks that fit the token budget. The best
// chunk is always kept.
func (a *Assembler) selectChunks(chunks []vectorstore.Match) []vectorstore.Match {
	sorted := make([]vectorstore.Match, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := a.MaxContextTokens
	selected := []vectorstore.Match{sorted[0]}
	remaining -= EstimateTokens(sorted[0].Text)
	for _, c := range sorted[1:] {
		tokens := EstimateTokens(c.Text)
		if tokens > remaining {
			continue
		}
		selected = append(selected, c)
		remaining -= tokens
	}
	return selected
}

// Editor returns the refinement transcript for a first-pass draft.
func (a *Assembler) Editor(draft string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: editorInstruction},
		{Role: llm.RoleUser, Content: "troubleshoot this " + draft},
	}
}

// Title asks for a conversation name of under 18 characters.
func (a *Assembler) Title(query string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: titleInstruction},
		{Role: llm.RoleUser, Content: query},
	}
}

// Subtitle asks for a conversation subtitle of under 36 characters.
func (a *Assembler) Subtitle(title, query string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(subtitleInstruction, title, query)},
		{Role: llm.RoleUser, Content: query},
	}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/persona"
)

// KnowledgeSnippets is the number of knowledge-base snippets put into the
// system prompt.
const KnowledgeSnippets = 3

// Prompt is a model-independent chat prompt.
type Prompt struct {
	System   string
	Messages []call.Turn
	Leading  string
}

// promptData is what a persona system prompt can reference as a template:
//
//	You are a coach for {{.UserID}}. Known facts:
//	{{.Context}}
type promptData struct {
	UserID  string
	CallID  string
	Context string
	State   string
	Params  map[string]any
}

// BuildPrompt assembles the prompt for input. The system prompt is rendered as
// a text/template with the knowledge-base context, the call state as JSON and
// the call parameters; prompts that do not parse are used verbatim. Context
// and state that the template does not reference are appended to it.
func BuildPrompt(ctx context.Context, p *persona.Persona, input string, s *call.Session) (*Prompt, error) {
	data := promptData{
		UserID: s.UserID,
		CallID: s.CallID,
		Params: s.ConstParams,
	}
	if p.KnowledgeBase != nil {
		snippets, err := p.KnowledgeBase.Search(ctx, input, KnowledgeSnippets)
		if err != nil {
			return nil, fmt.Errorf("respond: knowledge search: %w", err)
		}
		data.Context = strings.Join(snippets, "\n\n")
	}
	state, err := json.Marshal(s.CallState())
	if err != nil {
		return nil, fmt.Errorf("respond: encode call state: %w", err)
	}
	data.State = string(state)

	return &Prompt{
		System:   renderSystem(p, data),
		Messages: withInput(s.History(), input),
		Leading:  p.LeadingPrompt,
	}, nil
}

func renderSystem(p *persona.Persona, data promptData) string {
	src := p.SystemPrompt
	tpl, err := template.New(p.ID).Option("missingkey=zero").Parse(src)
	if err != nil {
		slog.Warn("respond: system prompt is not a template", "persona", p.ID, "error", err)
		return appendSections(src, data, false, false)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		slog.Warn("respond: render system prompt", "persona", p.ID, "error", err)
		return appendSections(src, data, false, false)
	}
	return appendSections(buf.String(), data,
		strings.Contains(src, ".Context"), strings.Contains(src, ".State"))
}

func appendSections(text string, data promptData, hasContext, hasState bool) string {
	var sb strings.Builder
	sb.WriteString(text)
	if !hasContext && data.Context != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(data.Context)
	}
	if !hasState && data.State != "" && data.State != "{}" {
		sb.WriteString("\n\nCall state: ")
		sb.WriteString(data.State)
	}
	return sb.String()
}

// withInput returns history ending with the user input. The agent records the
// user turn before generating, so it is usually already there.
func withInput(history []call.Turn, input string) []call.Turn {
	if n := len(history); n > 0 && history[n-1].Role == call.RoleUser && history[n-1].Text == input {
		return history
	}
	return append(history, call.Turn{Role: call.RoleUser, Text: input})
}

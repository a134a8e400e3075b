package respond

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/haivivi/phonecall/pkg/call"
)

// Gemini generates replies with the Google Gemini API. A Gemini value serves
// one call; the client may be shared.
type Gemini struct {
	session

	Client *genai.Client

	// Model should not start with "models/"
	Model string
}

// NewGemini creates a Gemini engine for one call.
func NewGemini(client *genai.Client, model string) *Gemini {
	return &Gemini{Client: client, Model: model}
}

// Generate streams the reply to input.
func (e *Gemini) Generate(ctx context.Context, input string, s *call.Session) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		p, err := e.personaFor(s)
		if err != nil {
			yield(Fragment{}, err)
			return
		}
		beginTurn(s)
		prompt, err := BuildPrompt(ctx, p, input, s)
		if err != nil {
			yield(Fragment{}, err)
			return
		}
		cfg, contents := geminiContents(prompt)
		if len(contents) == 0 {
			yield(Fragment{}, fmt.Errorf("respond: no contents"))
			return
		}

		for chunk, err := range e.Client.Models.GenerateContentStream(ctx, e.Model, contents, cfg) {
			if err != nil {
				yield(Fragment{}, fmt.Errorf("respond: gemini stream: %w", err))
				return
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			c := chunk.Candidates[0]
			final := c.FinishReason != "" && c.FinishReason != genai.FinishReasonUnspecified
			var text string
			if c.Content != nil {
				for _, part := range c.Content.Parts {
					text += part.Text
				}
			}
			if text == "" && !final {
				continue
			}
			if !yield(Fragment{Text: text, IsFinal: final}, nil) {
				return
			}
		}
	}
}

func geminiContents(p *Prompt) (*genai.GenerateContentConfig, []*genai.Content) {
	cfg := &genai.GenerateContentConfig{}
	var system []*genai.Part
	if p.System != "" {
		system = append(system, genai.NewPartFromText(p.System))
	}
	if p.Leading != "" {
		system = append(system, genai.NewPartFromText(p.Leading))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}

	var (
		contents []*genai.Content
		last     *genai.Content
	)
	for _, t := range p.Messages {
		if t.Text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if t.Role == call.RoleAgent {
			role = genai.RoleModel
		}
		// Gemini requires alternating roles; merge consecutive turns.
		if last != nil && last.Role == string(role) {
			last.Parts = append(last.Parts, genai.NewPartFromText(t.Text))
			continue
		}
		last = genai.NewContentFromText(t.Text, role)
		contents = append(contents, last)
	}
	return cfg, contents
}

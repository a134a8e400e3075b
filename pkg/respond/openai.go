package respond

import (
	"context"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/haivivi/phonecall/pkg/call"
)

// OpenAI generates replies with an OpenAI-compatible chat completion API.
// An OpenAI value serves one call; the client may be shared.
type OpenAI struct {
	session

	Client *openai.Client
	Model  string

	// Temperature is sent when positive.
	Temperature float64
}

// NewOpenAI creates an OpenAI engine for one call.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	return &OpenAI{Client: client, Model: model}
}

// Generate streams the reply to input.
func (e *OpenAI) Generate(ctx context.Context, input string, s *call.Session) iter.Seq2[Fragment, error] {
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

		params := openai.ChatCompletionNewParams{
			Model:    e.Model,
			Messages: oaiMessages(prompt),
		}
		if e.Temperature > 0 {
			params.Temperature = param.NewOpt(e.Temperature)
		}
		stream := e.Client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			final := c.FinishReason != ""
			if c.Delta.Content == "" && !final {
				continue
			}
			if !yield(Fragment{Text: c.Delta.Content, IsFinal: final}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(Fragment{}, fmt.Errorf("respond: openai stream: %w", err))
		}
	}
}

func oaiMessages(p *Prompt) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.Messages)+2)
	if p.System != "" {
		out = append(out, openai.SystemMessage(p.System))
	}
	for _, t := range p.Messages {
		if t.Text == "" {
			continue
		}
		switch t.Role {
		case call.RoleUser:
			out = append(out, openai.UserMessage(t.Text))
		case call.RoleAgent:
			out = append(out, openai.AssistantMessage(t.Text))
		}
	}
	if p.Leading != "" {
		out = append(out, openai.SystemMessage(p.Leading))
	}
	return out
}

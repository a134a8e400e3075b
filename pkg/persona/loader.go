package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"
)

const (
	// DescriptorFile is the per-persona YAML descriptor file name.
	DescriptorFile = "persona.yaml"

	// DefaultPromptFile is the system prompt file read when the descriptor
	// does not name one.
	DefaultPromptFile = "main.txt"
)

// Descriptor is the on-disk description of a persona:
//
//	personas/
//	└── coach/
//	    ├── persona.yaml
//	    └── main.txt
type Descriptor struct {
	ID            string   `yaml:"id" json:"id"`
	Voice         Voice    `yaml:"voice,omitempty" json:"voice,omitempty"`
	LeadingPrompt string   `yaml:"leading_prompt,omitempty" json:"leading_prompt,omitempty"`
	PromptFile    string   `yaml:"prompt_file,omitempty" json:"prompt_file,omitempty"`
	Knowledge     []string `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`

	// SystemPrompt is read from PromptFile, not from the descriptor itself.
	SystemPrompt string `yaml:"-" json:"system_prompt,omitempty"`
}

// Build returns the immutable Persona for d with the given knowledge base,
// which may be nil.
func (d *Descriptor) Build(kb KnowledgeBase) *Persona {
	return &Persona{
		ID:            d.ID,
		KnowledgeBase: kb,
		SystemPrompt:  d.SystemPrompt,
		LeadingPrompt: d.LeadingPrompt,
		Voice:         d.Voice,
	}
}

// LoadDir reads every persona directory under dir. A directory without a
// descriptor is skipped; a directory with an invalid descriptor fails the
// whole load. The result is sorted by ID.
func LoadDir(dir string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("persona: read dir: %w", err)
	}
	var out []*Descriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(sub, DescriptorFile)); errors.Is(err, os.ErrNotExist) {
			continue
		}
		d, err := Load(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Descriptor) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Load reads a single persona directory. The ID defaults to the directory
// name.
func Load(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("persona: parse %s: %w", dir, err)
	}
	if d.ID == "" {
		d.ID = filepath.Base(dir)
	}
	promptFile := d.PromptFile
	if promptFile == "" {
		promptFile = DefaultPromptFile
	}
	prompt, err := os.ReadFile(filepath.Join(dir, promptFile))
	switch {
	case err == nil:
		d.SystemPrompt = string(prompt)
	case errors.Is(err, os.ErrNotExist) && d.PromptFile == "":
		// main.txt is optional
	default:
		return nil, fmt.Errorf("persona: %s: read prompt: %w", d.ID, err)
	}
	return &d, nil
}

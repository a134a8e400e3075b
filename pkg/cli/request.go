package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// LoadRequest loads a request from a YAML or JSON file into v. A path of
// "-" reads stdin.
func LoadRequest(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	return ParseRequest(data, v)
}

// ParseRequest parses YAML or JSON request data. JSON is parsed as YAML.
func ParseRequest(data []byte, v any) error {
	if err := yaml.UnmarshalWithOptions(data, v, yaml.Strict()); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return nil
}

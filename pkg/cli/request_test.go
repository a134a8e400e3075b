package cli

import (
	"os"
	"path/filepath"
	"testing"
)

type dialRequest struct {
	Target string            `yaml:"target"`
	Params map[string]string `yaml:"params"`
}

func TestLoadRequest(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"yaml", "req.yaml", "target: \"+15550100\"\nparams:\n  user_id: u1\n"},
		{"json", "req.json", `{"target": "+15550100", "params": {"user_id": "u1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			var req dialRequest
			if err := LoadRequest(path, &req); err != nil {
				t.Fatalf("LoadRequest error: %v", err)
			}
			if req.Target != "+15550100" || req.Params["user_id"] != "u1" {
				t.Errorf("req = %+v", req)
			}
		})
	}
}

func TestParseRequestUnknownField(t *testing.T) {
	var req dialRequest
	if err := ParseRequest([]byte("target: x\nbogus: 1\n"), &req); err == nil {
		t.Error("unknown field should fail")
	}
}

func TestLoadRequestMissingFile(t *testing.T) {
	var req dialRequest
	if err := LoadRequest(filepath.Join(t.TempDir(), "nope.yaml"), &req); err == nil {
		t.Error("missing file should fail")
	}
}

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/haivivi/phonecall/cmd/phonecall/internal/config"
	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/callstore"
	"github.com/haivivi/phonecall/pkg/cli"
	"github.com/haivivi/phonecall/pkg/knowledge"
	"github.com/haivivi/phonecall/pkg/kv"
	"github.com/haivivi/phonecall/pkg/twilio"
)

const testConfig = `
server:
  public_host: calls.example.com
twilio:
  account_sid: AC1
  auth_token: token
  from_number: "+15550000"
deepgram:
  api_key: dg
elevenlabs:
  api_key: el
generator:
  kind: openai
  api_key: sk-test
store:
  memory: true
`

// setupTestEnv points the app directory at a temp dir holding testConfig
// and a coach persona.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(cli.HomeEnv, dir)
	writeFile(t, filepath.Join(dir, cli.DefaultConfigFile), testConfig)
	writeFile(t, filepath.Join(dir, "personas", "coach", "persona.yaml"),
		"voice: v-coach\nknowledge:\n  - Gyms open at six.\n")
	writeFile(t, filepath.Join(dir, "personas", "coach", "main.txt"), "You are a sleep coach.\nBe brief.")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// withMemoryKV shares one memory store across commands.
func withMemoryKV(t *testing.T) kv.Store {
	t.Helper()
	s := kv.NewMemory()
	testKVOverride = s
	t.Cleanup(func() { testKVOverride = nil })
	return s
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	verbose = false
	configPath = ""
	formatOutput = "table"
	flagDialFile, flagDialUser, flagDialPersona, flagDialParams = "", "", "", nil
	flagCallsUser = ""

	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); outBuf.ReadFrom(rOut) }()
	go func() { defer wg.Done(); errBuf.ReadFrom(rErr) }()

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	wg.Wait()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		stderr += err.Error()
	}
	return stdout, stderr, exitCode
}

func TestVersion(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "phonecall") {
		t.Fatalf("expected 'phonecall', got: %s", stdout)
	}
}

func TestVersionJSON(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version", "--format", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, `"version"`) {
		t.Fatalf("expected JSON, got: %s", stdout)
	}
}

func TestBadFormat(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "version", "-o", "xml")
	if code == 0 || !strings.Contains(stderr, "unsupported output format") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func TestPersonasList(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "personas", "list")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{"ID", "coach", "v-coach", "You are a sleep coach. Be brief."} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestPersonasShow(t *testing.T) {
	setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "personas", "show", "coach", "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if got["id"] != "coach" || !strings.HasPrefix(got["system_prompt"].(string), "You are a sleep coach.") {
		t.Errorf("persona = %v", got)
	}

	_, stderr, code = runCmd(t, "personas", "show", "nobody")
	if code == 0 || !strings.Contains(stderr, `persona "nobody" not found`) {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func saveCall(t *testing.T, store kv.Store, user, id string) {
	t.Helper()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r := &callstore.Record{
		CallID:    id,
		UserID:    user,
		PersonaID: "coach",
		StartedAt: start,
		EndedAt:   start.Add(95 * time.Second),
		History: []call.Turn{
			{Role: call.RoleUser, Text: "What time is it?", At: start.Add(time.Second)},
			{Role: call.RoleAgent, Text: "It is nine.", At: start.Add(2 * time.Second)},
		},
	}
	if err := callstore.New(store, nil).Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}
}

func TestCallsList(t *testing.T) {
	setupTestEnv(t)
	store := withMemoryKV(t)
	saveCall(t, store, "u1", "CA1")
	saveCall(t, store, "u2", "CA2")

	stdout, stderr, code := runCmd(t, "calls", "list")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{"CA1", "CA2", "1m35.0s"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, _ = runCmd(t, "calls", "list", "--user", "u2")
	if strings.Contains(stdout, "CA1") || !strings.Contains(stdout, "CA2") {
		t.Errorf("--user u2 output:\n%s", stdout)
	}
}

func TestCallsShow(t *testing.T) {
	setupTestEnv(t)
	store := withMemoryKV(t)
	saveCall(t, store, "u1", "CA1")

	stdout, stderr, code := runCmd(t, "calls", "show", "u1", "CA1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "What time is it?") || !strings.Contains(stdout, "It is nine.") {
		t.Errorf("transcript missing:\n%s", stdout)
	}

	_, stderr, code = runCmd(t, "calls", "show", "u1", "CA9")
	if code == 0 || !strings.Contains(stderr, "not found") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

type fakeCreator struct {
	params []*twilioapi.CreateCallParams
}

func (f *fakeCreator) CreateCall(p *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error) {
	f.params = append(f.params, p)
	sid := "CA42"
	return &twilioapi.ApiV2010Call{Sid: &sid}, nil
}

func withFakeCreator(t *testing.T) *fakeCreator {
	t.Helper()
	f := &fakeCreator{}
	old := newCallCreator
	newCallCreator = func(twilio.Config) twilio.CallCreator { return f }
	t.Cleanup(func() { newCallCreator = old })
	return f
}

func TestDial(t *testing.T) {
	dir := setupTestEnv(t)
	f := withFakeCreator(t)
	req := filepath.Join(dir, "req.yaml")
	writeFile(t, req, "target_phone_number: \"+15550100\"\nparams:\n  user_id: u1\n  goals: sleep\n")

	stdout, stderr, code := runCmd(t, "dial", "-f", req, "--persona", "coach", "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"call_id": "CA42"`) {
		t.Errorf("stdout = %s", stdout)
	}
	if len(f.params) != 1 {
		t.Fatalf("CreateCall calls = %d", len(f.params))
	}
	p := f.params[0]
	if *p.To != "+15550100" || *p.From != "+15550000" {
		t.Errorf("to/from = %s/%s", *p.To, *p.From)
	}
	for _, want := range []string{"wss://calls.example.com/call", `name="bot_id"`, `value="coach"`, `name="goals"`, `value="sleep"`} {
		if !strings.Contains(*p.Twiml, want) {
			t.Errorf("twiml missing %q: %s", want, *p.Twiml)
		}
	}
}

func TestDialErrors(t *testing.T) {
	setupTestEnv(t)
	withFakeCreator(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no number", []string{"dial", "--user", "u1", "--persona", "coach"}, "phone number is required"},
		{"no persona", []string{"dial", "+15550100", "--user", "u1"}, "bot_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := runCmd(t, tt.args...)
			if code == 0 || !strings.Contains(stderr, tt.want) {
				t.Fatalf("exit %d, stderr %q", code, stderr)
			}
		})
	}
}

func TestServeValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(cli.HomeEnv, dir)
	writeFile(t, filepath.Join(dir, cli.DefaultConfigFile), "generator:\n  kind: openai\n")

	_, stderr, code := runCmd(t, "serve")
	if code == 0 || !strings.Contains(stderr, "deepgram.api_key") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func TestNewServerSeedsKnowledge(t *testing.T) {
	setupTestEnv(t)
	store := withMemoryKV(t)
	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	withFakeCreator(t)

	ctx := context.Background()
	for range 2 {
		s, err := newServer(ctx, cfg, slog.New(slog.DiscardHandler))
		if err != nil {
			t.Fatalf("newServer: %v", err)
		}
		s.Close()
	}
	kb := knowledge.New(store, "coach")
	if n, _ := kb.Len(ctx); n != 1 {
		t.Fatalf("snippets = %d, want 1 after two starts", n)
	}
	got, _ := kb.Search(ctx, "when do gyms open", 1)
	if len(got) != 1 || got[0] != "Gyms open at six." {
		t.Fatalf("Search = %q", got)
	}
}

// embeddingServer embeds every input as [1, 0].
func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float64{1, 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": "m", "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewServerSemanticKnowledge(t *testing.T) {
	dir := setupTestEnv(t)
	srv := embeddingServer(t)
	writeFile(t, filepath.Join(dir, cli.DefaultConfigFile),
		testConfig+"embedding:\n  api_key: k\n  base_url: "+srv.URL+"/v1\n  dimension: 2\n")
	store := withMemoryKV(t)
	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	withFakeCreator(t)

	ctx := context.Background()
	s, err := newServer(ctx, cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	defer s.Close()

	emb := newEmbedder(cfg.Embedding)
	if emb == nil {
		t.Fatal("embedder not configured")
	}
	got, err := knowledge.New(store, "coach", knowledge.WithEmbedder(emb)).Search(ctx, "exercise hours", 1)
	if err != nil || len(got) != 1 || got[0] != "Gyms open at six." {
		t.Fatalf("semantic Search = %q, %v", got, err)
	}
	if got, _ := knowledge.New(store, "coach").Search(ctx, "exercise hours", 1); len(got) != 0 {
		t.Fatalf("keyword Search = %q, want no overlap", got)
	}
}

func TestNewEmbedderDisabled(t *testing.T) {
	if emb := newEmbedder(config.Embedding{}); emb != nil {
		t.Fatalf("newEmbedder without api key = %v", emb)
	}
}

func TestNewEngineFactoryUnknownKind(t *testing.T) {
	gen := config.Generator{Kind: "claude", APIKey: "k"}
	if _, err := newEngineFactory(context.Background(), gen); !errors.Is(err, config.ErrInvalid) {
		t.Fatal("unknown kind should fail")
	}
}

// Package config loads the phonecall configuration file.
//
// The file is YAML. Environment references such as ${DEEPGRAM_API_KEY} are
// expanded before parsing so secrets can stay out of the file:
//
//	server:
//	  listen: ":8080"
//	  public_host: calls.example.com
//	twilio:
//	  account_sid: ${TWILIO_ACCOUNT_SID}
//	  auth_token: ${TWILIO_AUTH_TOKEN}
//	  from_number: "+15550100"
//	deepgram:
//	  api_key: ${DEEPGRAM_API_KEY}
//	elevenlabs:
//	  api_key: ${ELEVENLABS_API_KEY}
//	generator:
//	  kind: openai
//	  model: gpt-4o-mini
//	  api_key: ${OPENAI_API_KEY}
//	embedding:
//	  api_key: ${OPENAI_API_KEY}
//	personas: ./personas
//	store:
//	  dir: ./data
//	archive:
//	  s3:
//	    bucket: call-transcripts
//	    region: us-east-1
//
// Relative paths are resolved against the directory of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/phonecall/pkg/cli"
	"github.com/haivivi/phonecall/pkg/deepgram"
	"github.com/haivivi/phonecall/pkg/elevenlabs"
	"github.com/haivivi/phonecall/pkg/storage"
	"github.com/haivivi/phonecall/pkg/twilio"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// Generator kinds.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
)

// Default values.
const (
	DefaultListen      = ":8080"
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Config is the phonecall configuration file.
type Config struct {
	Server     Server            `yaml:"server"`
	Twilio     twilio.Config     `yaml:"twilio"`
	Deepgram   deepgram.Config   `yaml:"deepgram"`
	ElevenLabs elevenlabs.Config `yaml:"elevenlabs"`
	Generator  Generator         `yaml:"generator"`
	Embedding  Embedding         `yaml:"embedding"`
	Personas   string            `yaml:"personas"`
	Store      Store             `yaml:"store"`
	Archive    Archive           `yaml:"archive"`

	// Path is the file the configuration was loaded from, empty when no
	// file exists.
	Path string `yaml:"-"`
}

// Server configures the HTTP listener.
type Server struct {
	Listen string `yaml:"listen"`

	// PublicHost is the host Twilio reaches the server at. The media
	// stream URL is wss://<public_host>/call.
	PublicHost string `yaml:"public_host"`
}

// Generator selects the chat model that writes replies.
type Generator struct {
	Kind        string  `yaml:"kind"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

// Embedding configures the OpenAI-compatible embedder used for semantic
// knowledge search. Without an API key knowledge is searched by keyword.
// Empty Model and zero Dimension keep the embedder's defaults.
type Embedding struct {
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

// Enabled reports whether semantic knowledge search is configured.
func (e Embedding) Enabled() bool {
	return e.APIKey != ""
}

// Store configures the key-value store for call records and knowledge.
type Store struct {
	Dir    string `yaml:"dir"`
	Memory bool   `yaml:"memory"`
}

// Archive configures where call transcripts are written. S3 takes
// precedence over Dir.
type Archive struct {
	Dir string            `yaml:"dir"`
	S3  *storage.S3Config `yaml:"s3"`
}

// Load reads the configuration at path. An empty path means the default
// location; a missing default file yields the defaults.
func Load(path string, paths *cli.Paths) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = paths.ConfigFile()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg := &Config{}
		cfg.applyDefaults(paths, paths.AppDir)
		return cfg, nil
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data, paths, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse parses a configuration file whose relative paths are relative to
// baseDir.
func Parse(data []byte, paths *cli.Paths, baseDir string) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.UnmarshalWithOptions([]byte(expanded), &cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.applyDefaults(paths, baseDir)
	return &cfg, nil
}

func (c *Config) applyDefaults(paths *cli.Paths, baseDir string) {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Generator.Kind == "" {
		c.Generator.Kind = KindOpenAI
	}
	if c.Generator.Model == "" {
		switch c.Generator.Kind {
		case KindOpenAI:
			c.Generator.Model = DefaultOpenAIModel
		case KindGemini:
			c.Generator.Model = DefaultGeminiModel
		}
	}

	c.Personas = resolve(baseDir, c.Personas, paths.PersonasDir())
	if !c.Store.Memory {
		c.Store.Dir = resolve(baseDir, c.Store.Dir, paths.DataDir())
	}
	if c.Archive.S3 == nil {
		c.Archive.Dir = resolve(baseDir, c.Archive.Dir, paths.ArchiveDir())
	}
}

func resolve(baseDir, p, def string) string {
	switch {
	case p == "":
		return def
	case filepath.IsAbs(p):
		return p
	}
	return filepath.Join(baseDir, p)
}

// DispatchEnabled reports whether outbound calls are configured.
func (c *Config) DispatchEnabled() bool {
	return c.Twilio.AccountSID != ""
}

// StreamURL returns the media stream URL sent to Twilio.
func (c *Config) StreamURL() (string, error) {
	host := strings.TrimSuffix(c.Server.PublicHost, "/")
	switch {
	case host == "":
		return "", fmt.Errorf("%w: server.public_host is required", ErrInvalid)
	case strings.HasPrefix(host, "ws://"), strings.HasPrefix(host, "wss://"):
		return host + "/call", nil
	}
	return "wss://" + host + "/call", nil
}

// ValidateServe checks what the server needs to take calls.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.Deepgram.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: deepgram.api_key is required", ErrInvalid))
	}
	if c.ElevenLabs.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: elevenlabs.api_key is required", ErrInvalid))
	}
	if err := c.validateGenerator(); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("%w: embedding.dimension must not be negative", ErrInvalid))
	}
	if c.DispatchEnabled() {
		if err := c.validateDispatch(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateDispatch checks what placing an outbound call needs.
func (c *Config) ValidateDispatch() error {
	if !c.DispatchEnabled() {
		return fmt.Errorf("%w: twilio.account_sid is required", ErrInvalid)
	}
	return c.validateDispatch()
}

func (c *Config) validateDispatch() error {
	var errs []error
	if c.Twilio.AuthToken == "" {
		errs = append(errs, fmt.Errorf("%w: twilio.auth_token is required", ErrInvalid))
	}
	if c.Twilio.FromNumber == "" {
		errs = append(errs, fmt.Errorf("%w: twilio.from_number is required", ErrInvalid))
	}
	if _, err := c.StreamURL(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) validateGenerator() error {
	switch c.Generator.Kind {
	case KindOpenAI, KindGemini:
	default:
		return fmt.Errorf("%w: generator.kind %q is not one of openai, gemini", ErrInvalid, c.Generator.Kind)
	}
	if c.Generator.APIKey == "" {
		return fmt.Errorf("%w: generator.api_key is required", ErrInvalid)
	}
	return nil
}

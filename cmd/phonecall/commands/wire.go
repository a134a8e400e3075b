package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/haivivi/phonecall/cmd/phonecall/internal/config"
	"github.com/haivivi/phonecall/pkg/callserver"
	"github.com/haivivi/phonecall/pkg/callstore"
	"github.com/haivivi/phonecall/pkg/cli"
	"github.com/haivivi/phonecall/pkg/deepgram"
	"github.com/haivivi/phonecall/pkg/elevenlabs"
	"github.com/haivivi/phonecall/pkg/embed"
	"github.com/haivivi/phonecall/pkg/knowledge"
	"github.com/haivivi/phonecall/pkg/kv"
	"github.com/haivivi/phonecall/pkg/persona"
	"github.com/haivivi/phonecall/pkg/respond"
	"github.com/haivivi/phonecall/pkg/storage"
	"github.com/haivivi/phonecall/pkg/twilio"
)

// Test hooks.
var (
	testKVOverride kv.Store
	newCallCreator = func(cfg twilio.Config) twilio.CallCreator { return twilio.NewRESTClient(cfg) }
)

// openStore opens the configured key-value store.
func openStore(cfg *config.Config, logger *slog.Logger) (kv.Store, error) {
	if testKVOverride != nil {
		return nopClose{testKVOverride}, nil
	}
	if cfg.Store.Memory {
		return kv.NewMemory(), nil
	}
	if err := cli.EnsureDir(cfg.Store.Dir); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: cfg.Store.Dir, Logger: logger})
}

// nopClose keeps a shared test store open across commands.
type nopClose struct{ kv.Store }

func (nopClose) Close() error { return nil }

// openArchive opens the transcript archive.
func openArchive(cfg *config.Config) (storage.FileStore, error) {
	if cfg.Archive.S3 != nil {
		s, err := storage.DialS3(*cfg.Archive.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	l, err := storage.NewLocal(cfg.Archive.Dir)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// loadPersonas loads the persona directory and seeds each persona's
// knowledge documents into store, replacing what an earlier run stored.
// With an embedder the knowledge is searched semantically.
func loadPersonas(ctx context.Context, dir string, store kv.Store, emb embed.Embedder, logger *slog.Logger) (*persona.Registry, error) {
	descs, err := persona.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	reg := persona.NewRegistry()
	for _, d := range descs {
		var kb persona.KnowledgeBase
		if len(d.Knowledge) > 0 {
			base := knowledge.New(store, d.ID, knowledge.WithEmbedder(emb))
			if _, err := base.Reset(ctx); err != nil {
				return nil, fmt.Errorf("persona %s: %w", d.ID, err)
			}
			n, err := base.Add(ctx, d.Knowledge...)
			if err != nil {
				return nil, fmt.Errorf("persona %s: %w", d.ID, err)
			}
			logger.Debug("knowledge seeded", "persona", d.ID, "snippets", n)
			kb = base
		}
		if !reg.Register(d.Build(kb)) {
			logger.Warn("duplicate persona ignored", "persona", d.ID)
		}
	}
	if reg.Len() == 0 {
		logger.Warn("no personas loaded; every call will be rejected", "dir", dir)
	}
	return reg, nil
}

// newEmbedder returns the knowledge embedder, or nil when embedding is not
// configured.
func newEmbedder(cfg config.Embedding) embed.Embedder {
	if !cfg.Enabled() {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return embed.NewOpenAI(&client, embed.WithModel(cfg.Model), embed.WithDimension(cfg.Dimension))
}

// newEngineFactory returns a factory for per-call reply engines. The API
// client is shared by all calls.
func newEngineFactory(ctx context.Context, gen config.Generator) (func() callserver.Engine, error) {
	switch gen.Kind {
	case config.KindOpenAI:
		opts := []option.RequestOption{option.WithAPIKey(gen.APIKey)}
		if gen.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(gen.BaseURL))
		}
		client := openai.NewClient(opts...)
		return func() callserver.Engine {
			e := respond.NewOpenAI(&client, gen.Model)
			e.Temperature = gen.Temperature
			return e
		}, nil
	case config.KindGemini:
		cc := &genai.ClientConfig{APIKey: gen.APIKey, Backend: genai.BackendGeminiAPI}
		if gen.BaseURL != "" {
			cc.HTTPOptions.BaseURL = gen.BaseURL
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return func() callserver.Engine {
			return respond.NewGemini(client, gen.Model)
		}, nil
	}
	return nil, fmt.Errorf("%w: generator.kind %q", config.ErrInvalid, gen.Kind)
}

// newDispatcher returns the outbound call dispatcher, or nil when Twilio is
// not configured.
func newDispatcher(cfg *config.Config, logger *slog.Logger) (*twilio.Dispatcher, error) {
	if !cfg.DispatchEnabled() {
		return nil, nil
	}
	if err := cfg.ValidateDispatch(); err != nil {
		return nil, err
	}
	streamURL, err := cfg.StreamURL()
	if err != nil {
		return nil, err
	}
	return &twilio.Dispatcher{
		API:       newCallCreator(cfg.Twilio),
		From:      cfg.Twilio.FromNumber,
		StreamURL: streamURL,
		Logger:    logger,
	}, nil
}

// server holds what serve builds from the configuration.
type server struct {
	store kv.Store
	srv   *callserver.Server
}

func (s *server) Close() error {
	return s.store.Close()
}

// newServer builds the call server from cfg.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *server, err error) {
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, store.Close())
		}
	}()

	archive, err := openArchive(cfg)
	if err != nil {
		return nil, err
	}
	emb := newEmbedder(cfg.Embedding)
	personas, err := loadPersonas(ctx, cfg.Personas, store, emb, logger)
	if err != nil {
		return nil, err
	}
	newEngine, err := newEngineFactory(ctx, cfg.Generator)
	if err != nil {
		return nil, err
	}
	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv, err := callserver.New(callserver.Config{
		Personas: personas,
		NewTranscriber: func(l *slog.Logger) callserver.Transcriber {
			return deepgram.New(cfg.Deepgram, l)
		},
		NewSynthesizer: func(l *slog.Logger) callserver.Synthesizer {
			return elevenlabs.New(cfg.ElevenLabs, l)
		},
		NewEngine:  newEngine,
		Calls:      callstore.New(store, archive),
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("call server ready",
		"personas", personas.IDs(),
		"generator", cfg.Generator.Kind,
		"model", cfg.Generator.Model,
		"dispatch", dispatcher != nil,
		"semantic_knowledge", emb != nil,
	)
	return &server{store: store, srv: srv}, nil
}

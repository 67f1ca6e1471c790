package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"parley/internal/chat"
	"parley/internal/completion"
	"parley/internal/config"
	"parley/internal/db"
	"parley/internal/entrypoint"
	"parley/internal/functions"
	"parley/internal/journal"
	"parley/internal/logger"
	"parley/internal/message"
	"parley/internal/trace"
)

// stack is everything a command needs to run conversations.
type stack struct {
	cfg      *config.Config
	client   *completion.Client
	registry *entrypoint.Registry
	journal  *journal.Store
	convOpts []chat.Option
	closers  []func(context.Context) error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func openJournal(cfg *config.Config) (*journal.Store, func(context.Context) error, error) {
	database, err := db.Open(cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("migrating journal: %w", err)
	}
	return journal.NewStore(database), func(context.Context) error { return database.Close() }, nil
}

func build(ctx context.Context, cfg *config.Config) (*stack, error) {
	s := &stack{cfg: cfg}

	if cfg.Trace.Enabled {
		shutdown, err := trace.Init(ctx, trace.Config{
			Endpoint:    cfg.Trace.Endpoint,
			URLPath:     cfg.Trace.URLPath,
			APIKey:      cfg.Trace.APIKey,
			Insecure:    cfg.Trace.Insecure,
			SampleRatio: cfg.Trace.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		s.closers = append(s.closers, shutdown)
		slog.Info("tracing enabled", "endpoint", cfg.Trace.Endpoint)
	}

	var regOpts []entrypoint.Option
	if cfg.Journal.Enabled {
		store, closeDB, err := openJournal(cfg)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.journal = store
		s.closers = append(s.closers, closeDB)
		s.convOpts = append(s.convOpts, chat.WithRecorder(store))
		regOpts = append(regOpts, entrypoint.WithOnInvoke(store.RecordInvocation))
	}

	s.registry = entrypoint.NewRegistry(regOpts...)
	fnCfg := functions.Config{
		FileRoot: cfg.Functions.FileRoot,
		Fetch:    cfg.Functions.Fetch,
	}
	if cfg.Functions.BraveAPIKey != "" {
		searcher, err := functions.NewBraveSearcher(cfg.Functions.BraveAPIKey)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		fnCfg.Searcher = searcher
	}
	if err := functions.Register(s.registry, fnCfg); err != nil {
		s.Close(ctx)
		return nil, err
	}

	llm, err := cfg.LLM(llmName)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	var transport completion.Transport
	switch llm.Transport {
	case "openai":
		transport = completion.NewOpenAI(llm.BaseURL, llm.APIKey, llm.Model)
		s.convOpts = append(s.convOpts, chat.WithHeaders(llm.Headers), chat.WithBody(llm.Body))
	default:
		transport = completion.NewHTTP(llm.BaseURL, llm.APIKey, llm.Model,
			completion.WithDefaultHeaders(llm.Headers),
			completion.WithDefaultBody(llm.Body),
		)
	}
	s.client = completion.NewClient(transport)
	slog.Info("completion service", "model", llm.Model, "transport", llm.Transport, "functions", s.registry.Len())

	if cfg.SystemPrompt != "" {
		s.convOpts = append(s.convOpts, chat.WithInitialMessages(message.New(message.RoleSystem, cfg.SystemPrompt)))
	}
	return s, nil
}

func (s *stack) Close(ctx context.Context) {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("shutting down", "error", err)
	}
}

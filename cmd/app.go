package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/crewchat/internal/config"
	"github.com/zjrosen/crewchat/internal/coordinator"
	"github.com/zjrosen/crewchat/internal/infrastructure/sqlite"
	"github.com/zjrosen/crewchat/internal/llm"
	"github.com/zjrosen/crewchat/internal/log"
	"github.com/zjrosen/crewchat/internal/tracing"
)

// app is the in-process backend shared by serve and local chat.
type app struct {
	db          *sqlite.DB
	watcher     *sqlite.Watcher
	runner      *coordinator.Runner
	coordinator *coordinator.Coordinator
	tracingDone tracing.ShutdownFunc
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:    llm.Provider(c.Provider),
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		APIKeyEnv:   c.APIKeyEnv,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     c.Timeout,
	}
}

// newApp opens the database and wires the coordinator. Close releases
// everything in reverse order.
func newApp(ctx context.Context, c config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.tracingDone, err = tracing.Setup(ctx, c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	a.db, err = sqlite.NewDB(c.DatabasePath, sqlite.WithBackup(true))
	if err != nil {
		return nil, err
	}

	if c.Store.Watch && c.DatabasePath != sqlite.MemoryPath {
		w, err := sqlite.NewWatcher(a.db, c.Store.WatchDebounce)
		if err != nil {
			return nil, fmt.Errorf("creating database watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting database watcher: %w", err)
		}
		a.watcher = w
	}

	gateway, err := llm.NewGateway(llmConfig(c.LLM))
	if err != nil {
		return nil, err
	}

	a.runner = coordinator.NewRunner()
	a.coordinator = coordinator.New(a.db.Store(), gateway, a.runner, coordinator.Config{
		BuildDelay:  c.Coordinator.BuildDelay,
		TitleLength: c.Coordinator.TitleLength,
	})
	return a, nil
}

// Close stops background work, then the database. Pending builds that do
// not finish before ctx expires are cancelled and their step marked error.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping runner: %w", err))
		}
		stats := a.runner.Stats()
		log.Info(log.CatCoord, "Runner stopped", "submitted", stats.Submitted, "succeeded", stats.Succeeded, "failed", stats.Failed)
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.tracingDone != nil {
		if err := a.tracingDone(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	return errors.Join(errs...)
}

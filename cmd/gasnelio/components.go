package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/gasnelio/internal/chat"
	"github.com/hyperjump/gasnelio/internal/config"
	"github.com/hyperjump/gasnelio/internal/events"
	"github.com/hyperjump/gasnelio/internal/fallback"
	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/persona"
	"github.com/hyperjump/gasnelio/internal/routing"
	"github.com/hyperjump/gasnelio/internal/sender"
	"github.com/hyperjump/gasnelio/internal/storage"
	"github.com/hyperjump/gasnelio/internal/suggest"
	"github.com/hyperjump/gasnelio/internal/terms"
	"go.uber.org/zap"
)

// Components holds the wired application.
type Components struct {
	Index      *terms.Index
	Engine     *suggest.Engine
	Catalog    *persona.StaticCatalog
	Classifier *routing.Classifier
	Fallback   *fallback.Controller
	Storage    storage.Storage
	Publisher  *events.NATSPublisher
	Chat       *chat.Orchestrator
}

// initializeLookup builds the offline parts: taxonomy, suggestions and
// routing. No network or storage is touched.
func initializeLookup(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	idx := terms.NewIndex(terms.WithLogger(logger))
	if err := idx.LoadFile(cfg.Taxonomy.Path); err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	engine := suggest.NewEngine(idx,
		suggest.WithDebounce(cfg.Suggestions.Debounce),
		suggest.WithTTL(cfg.Suggestions.CacheTTL),
		suggest.WithMinQueryLength(cfg.Suggestions.MinQueryLength),
		suggest.WithDefaultMaxResults(cfg.Suggestions.MaxResults),
		suggest.WithLogger(logger),
	)

	catalog := persona.Default()
	opts := []routing.Option{
		routing.WithMinAnalysisLength(cfg.Routing.MinAnalysisLength),
		routing.WithPresentThreshold(cfg.Routing.PresentThreshold),
		routing.WithLogger(logger),
	}
	if cfg.Routing.RulesPath != "" {
		rules, err := routing.LoadRules(cfg.Routing.RulesPath)
		if err != nil {
			engine.Close()
			_ = idx.Close()
			return nil, err
		}
		opts = append(opts, routing.WithRules(rules))
	}
	classifier, err := routing.NewClassifier(catalog, opts...)
	if err != nil {
		engine.Close()
		_ = idx.Close()
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	return &Components{
		Index:      idx,
		Engine:     engine,
		Catalog:    catalog,
		Classifier: classifier,
	}, nil
}

// initializeComponents wires everything the server needs.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c, err := initializeLookup(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Storage = store
	fields := []zap.Field{zap.String("driver", cfg.Storage.Driver)}
	if sized, ok := c.Storage.(interface{ SizeBytes() (int64, error) }); ok {
		if n, err := sized.SizeBytes(); err == nil {
			fields = append(fields, zap.Int64("size_bytes", n))
		}
	}
	logger.Info("message storage ready", fields...)

	observers := events.Multi{events.Logging{Logger: logger}}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Publisher = pub
		observers = append(observers, pub)
	}

	s, err := newSender(ctx, cfg.Sender, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Fallback = fallback.NewController(
		fallback.WithThreshold(cfg.Fallback.Threshold),
		fallback.WithLogger(logger),
	)
	c.Chat, err = chat.New(c.Classifier, c.Fallback, s, c.Catalog,
		chat.WithStore(c.Storage),
		chat.WithObserver(observers),
		chat.WithTermIndex(c.Index),
		chat.WithLogger(logger),
		chat.WithTimeout(cfg.Chat.Timeout),
		chat.WithMaxRetries(cfg.Chat.MaxRetries),
		chat.WithMaxContextTerms(cfg.Chat.MaxContextTerms),
		chat.WithDefaultPersona(models.PersonaID(cfg.Chat.DefaultPersona)),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.NewSQLiteStorage(cfg.DatabasePath)
	case "redis":
		return storage.NewRedisStorage(ctx, cfg.RedisURL, cfg.RedisTTL)
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "none":
		return storage.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newSender(ctx context.Context, cfg config.SenderConfig, logger *zap.Logger) (sender.Sender, error) {
	switch cfg.Kind {
	case "http":
		return sender.NewHTTPSender(cfg.Endpoint, sender.WithAPIKey(cfg.APIKey), sender.WithLogger(logger))
	case "gemini":
		return sender.NewGeminiSender(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown sender kind %q", cfg.Kind)
	}
}

// Close releases every component that was created.
func (c *Components) Close() {
	if c.Publisher != nil {
		_ = c.Publisher.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Engine != nil {
		c.Engine.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

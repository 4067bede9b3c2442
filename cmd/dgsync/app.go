package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/discoursegraphs/dgsync/internal/config"
	"github.com/discoursegraphs/dgsync/internal/embedding"
	"github.com/discoursegraphs/dgsync/internal/importer"
	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
	"github.com/discoursegraphs/dgsync/internal/migrate"
	"github.com/discoursegraphs/dgsync/internal/relations"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/schema"
	dgsync "github.com/discoursegraphs/dgsync/internal/sync"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// app holds everything a command needs, built from the resolved config.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	metrics   *metrics.Metrics
	store     *vault.FS
	schema    *schema.Registry
	relations *relations.Store

	// remote side, opened on first use
	client  remote.Client
	session *remote.SessionProvider
}

// loadApp resolves config from the global flags and opens the local
// stores. The remote backend is opened lazily by remoteSession.
func loadApp() (*app, error) {
	vaultPath := vaultFlag
	if vaultPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		vaultPath = wd
	}
	abs, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault path: %w", err)
	}

	cfg, err := config.Load(configFlag, abs)
	if err != nil {
		return nil, err
	}
	if cfg.Vault.Path == "" {
		cfg.Vault.Path = abs
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}

	reg, err := schema.Open(cfg.DataPath(schema.FileName))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		store:   vault.NewFS(cfg.Vault.Path, logger.Named("vault")),
		schema:  reg,
		relations: relations.New(cfg.DataPath(), &relations.Config{
			Author: cfg.Remote.AccountLocalID,
			Logger: logger.Named("relations"),
		}),
	}, nil
}

// accountLocalID returns the configured account id, or the one stored in
// the schema registry, generating and storing it on first use.
func (a *app) accountLocalID() (string, error) {
	if a.cfg.Remote.AccountLocalID != "" {
		return a.cfg.Remote.AccountLocalID, nil
	}
	if id := a.schema.AccountLocalID(); id != "" {
		return id, nil
	}
	id := "local-" + filepath.Base(a.cfg.Vault.Path)
	if err := a.schema.SetAccountLocalID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (a *app) remoteSession(ctx context.Context) (*remote.SessionProvider, error) {
	if a.session != nil {
		return a.session, nil
	}
	account, err := a.accountLocalID()
	if err != nil {
		return nil, err
	}
	client, err := remote.Open(ctx, a.cfg.Remote.Driver, a.cfg.Remote.DSN, a.logger.Named("remote"))
	if err != nil {
		return nil, err
	}
	session, err := remote.NewSessionProvider(client, remote.SessionConfig{
		SpaceURL:       a.cfg.Remote.SpaceURL,
		SpaceName:      a.cfg.Remote.SpaceName,
		AccountLocalID: account,
		Email:          a.cfg.Remote.Email,
		Logger:         a.logger,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	a.client = client
	a.session = session
	return session, nil
}

// embedder returns nil when no embedding url is configured; direct
// variants are then uploaded without vectors.
func (a *app) embedder() (embedding.Embedder, error) {
	if a.cfg.Embedding.URL == "" {
		return nil, nil
	}
	client, err := embedding.NewClient(embedding.Config{
		URL:        a.cfg.Embedding.URL,
		Model:      a.cfg.Embedding.Model,
		Timeout:    a.cfg.Embedding.Timeout,
		MaxRetries: a.cfg.Embedding.MaxRetries,
		Logger:     a.logger,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) syncer(ctx context.Context) (*dgsync.Orchestrator, error) {
	session, err := a.remoteSession(ctx)
	if err != nil {
		return nil, err
	}
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	return dgsync.New(dgsync.Config{
		Store:              a.store,
		Schema:             a.schema,
		Session:            session,
		Relations:          a.relations,
		Embedder:           emb,
		BatchSize:          a.cfg.Sync.BatchSize,
		EmbeddingBatchSize: a.cfg.Embedding.BatchSize,
		Logger:             a.logger,
		Metrics:            a.metrics,
	})
}

func (a *app) importer(ctx context.Context) (*importer.Importer, error) {
	session, err := a.remoteSession(ctx)
	if err != nil {
		return nil, err
	}
	return importer.New(importer.Config{
		Store:   a.store,
		Schema:  a.schema,
		Session: session,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

func (a *app) migrator() (*migrate.Migrator, error) {
	return migrate.New(a.store, a.schema, a.relations, a.logger)
}

// Close releases the remote connection and flushes logs.
func (a *app) Close() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	a.logger.Sync()
	return errors.Join(errs...)
}

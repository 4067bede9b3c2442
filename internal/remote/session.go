package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/discoursegraphs/dgsync/internal/logging"
)

// Session identifies this vault's space and account on the backend.
type Session struct {
	SpaceID        int64
	SpaceURL       string
	SpaceName      string
	CreatorID      int64
	AccountLocalID string
}

// SessionConfig describes the space and account to bind.
type SessionConfig struct {
	SpaceURL       string
	SpaceName      string
	Platform       string
	AccountLocalID string
	Email          string
	Logger         *logging.Logger
}

// SessionProvider creates the session once and shares it. Concurrent
// callers wait on the same creation; Invalidate forces a new one.
type SessionProvider struct {
	client Client
	cfg    SessionConfig
	logger *logging.Logger

	group singleflight.Group
	mu    sync.Mutex
	cur   *Session
}

// NewSessionProvider validates cfg and returns a provider.
func NewSessionProvider(client Client, cfg SessionConfig) (*SessionProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	cfg.SpaceURL = strings.TrimRight(strings.TrimSpace(cfg.SpaceURL), "/")
	if cfg.SpaceURL == "" {
		return nil, fmt.Errorf("space url is required")
	}
	if cfg.AccountLocalID == "" {
		return nil, fmt.Errorf("account local id is required")
	}
	if cfg.Platform == "" {
		cfg.Platform = "Obsidian"
	}
	if cfg.SpaceName == "" {
		cfg.SpaceName = cfg.SpaceURL
	}
	return &SessionProvider{
		client: client,
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).Named("session"),
	}, nil
}

// Client returns the underlying client.
func (p *SessionProvider) Client() Client {
	return p.client
}

// Get returns the current session, creating it if needed.
func (p *SessionProvider) Get(ctx context.Context) (Session, error) {
	p.mu.Lock()
	if p.cur != nil {
		s := *p.cur
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("session", func() (interface{}, error) {
		s, err := p.create(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cur = &s
		p.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

// Invalidate drops the cached session.
func (p *SessionProvider) Invalidate() {
	p.mu.Lock()
	p.cur = nil
	p.mu.Unlock()
}

// Do runs fn with a session. When fn fails with ErrAuth the session is
// recreated and fn retried once.
func (p *SessionProvider) Do(ctx context.Context, fn func(Session) error) error {
	s, err := p.Get(ctx)
	if err != nil {
		return err
	}
	err = fn(s)
	if !errors.Is(err, ErrAuth) {
		return err
	}
	p.logger.Warn("Session rejected, re-authenticating", "error", err)
	p.Invalidate()
	if s, err = p.Get(ctx); err != nil {
		return err
	}
	return fn(s)
}

func (p *SessionProvider) create(ctx context.Context) (Session, error) {
	err := p.client.Upsert(ctx, TableSpace, []Row{{
		"url":      p.cfg.SpaceURL,
		"name":     p.cfg.SpaceName,
		"platform": p.cfg.Platform,
	}}, UpsertOptions{OnConflict: []string{"url"}, IgnoreDuplicates: true})
	if err != nil {
		return Session{}, fmt.Errorf("failed to create space: %w", err)
	}
	row, err := SelectOne(ctx, p.client, TableSpace, Query{
		Columns: []string{"id", "name"},
		Filters: []Filter{Eq("url", p.cfg.SpaceURL)},
	})
	if err != nil {
		return Session{}, fmt.Errorf("failed to load space: %w", err)
	}
	spaceID := row.Int64("id")

	email := p.cfg.Email
	if email == "" {
		email = p.cfg.AccountLocalID
	}
	raw, err := p.client.RPC(ctx, RPCCreateAccountInSpace, map[string]interface{}{
		"space_id_":         spaceID,
		"account_local_id_": p.cfg.AccountLocalID,
		"name_":             p.cfg.SpaceName,
		"email_":            email,
	})
	if err != nil {
		return Session{}, fmt.Errorf("failed to create account: %w", err)
	}
	var creatorID int64
	if err := json.Unmarshal(raw, &creatorID); err != nil {
		return Session{}, fmt.Errorf("unexpected account id %s: %w", raw, err)
	}

	p.logger.Info("Session established", "space_id", spaceID, "space", p.cfg.SpaceURL)
	return Session{
		SpaceID:        spaceID,
		SpaceURL:       p.cfg.SpaceURL,
		SpaceName:      row.String("name"),
		CreatorID:      creatorID,
		AccountLocalID: p.cfg.AccountLocalID,
	}, nil
}

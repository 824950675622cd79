package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

type RegistryConfig struct {
	Store       DocumentStore
	IDProvider  trips.IDProvider
	Logger      *zap.Logger
	PushTimeout time.Duration
}

// Registry hands out one session per trip, opening it on first use.
type Registry struct {
	cfg    RegistryConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[trips.TripID]*Session
	closed   bool
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[trips.TripID]*Session),
	}, nil
}

// Get returns the session for tripID once its first snapshot has been applied.
// ctx bounds only the wait, the session itself outlives the call.
func (r *Registry) Get(ctx context.Context, tripID trips.TripID) (*Session, error) {
	session, err := r.open(tripID)
	if err != nil {
		return nil, err
	}
	if err := session.WaitReady(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *Registry) open(rawTripID trips.TripID) (*Session, error) {
	tripID, err := trips.NewTripID(rawTripID.String())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if existing, ok := r.sessions[tripID]; ok {
		return existing, nil
	}
	session, err := Open(r.ctx, Config{
		TripID:      tripID,
		Store:       r.cfg.Store,
		IDProvider:  r.cfg.IDProvider,
		Logger:      r.cfg.Logger,
		PushTimeout: r.cfg.PushTimeout,
	})
	if err != nil {
		return nil, err
	}
	r.sessions[tripID] = session
	r.cfg.Logger.Debug("trip session opened", zap.String("trip_id", tripID.String()))
	return session, nil
}

// Close closes every open session and rejects further Get calls.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = map[trips.TripID]*Session{}
	r.mu.Unlock()

	var group errgroup.Group
	for _, session := range sessions {
		group.Go(session.Close)
	}
	err := group.Wait()
	r.cancel()
	return err
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

const defaultPushTimeout = 10 * time.Second

var (
	// ErrClosed is returned by mutations issued after Close.
	ErrClosed = errors.New("session: closed")
	// ErrMissingStore indicates that no document store was configured.
	ErrMissingStore = errors.New("session: document store is required")
)

// DocumentStore is the remote document boundary a session synchronizes with.
type DocumentStore interface {
	Write(ctx context.Context, key documents.Key, fields map[string]json.RawMessage, mode documents.WriteMode) (documents.Document, error)
	Subscribe(ctx context.Context, key documents.Key) (<-chan documents.Document, func(), error)
}

type Config struct {
	TripID      trips.TripID
	Store       DocumentStore
	IDProvider  trips.IDProvider
	Logger      *zap.Logger
	PushTimeout time.Duration
}

// Session owns the place store of one trip and keeps it in step with the shared
// document. Remote snapshots replace local state wholesale and every local
// mutation pushes the entire snapshot back. The last push to land wins.
type Session struct {
	tripID      trips.TripID
	key         documents.Key
	store       DocumentStore
	logger      *zap.Logger
	pushTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	loop   *errgroup.Group
	pushes *errgroup.Group

	mu            sync.Mutex
	state         trips.PlaceStore
	remoteVersion int64
	closed        bool

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// Open subscribes to the trip document and starts applying snapshots. The
// subscription lives until ctx ends or Close is called.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	tripID, err := trips.NewTripID(cfg.TripID.String())
	if err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	key, err := documents.NewKey(tripID.String())
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pushTimeout := cfg.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, stop, err := cfg.Store.Subscribe(sessionCtx, key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("session: subscribe %s: %w", tripID, err)
	}

	session := &Session{
		tripID:      tripID,
		key:         key,
		store:       cfg.Store,
		logger:      logger.With(zap.String("trip_id", tripID.String())),
		pushTimeout: pushTimeout,
		ctx:         sessionCtx,
		cancel:      cancel,
		loop:        &errgroup.Group{},
		pushes:      &errgroup.Group{},
		state:       trips.NewPlaceStore(cfg.IDProvider),
		ready:       make(chan struct{}),
	}

	session.loop.Go(func() error {
		defer stop()
		defer session.markReady()
		for {
			select {
			case <-sessionCtx.Done():
				return nil
			case document, ok := <-stream:
				if !ok {
					return nil
				}
				session.apply(document)
			}
		}
	})

	return session, nil
}

// TripID returns the trip this session synchronizes.
func (s *Session) TripID() trips.TripID {
	return s.tripID
}

// State returns the current place store.
func (s *Session) State() trips.PlaceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteVersion returns the version of the last applied remote snapshot, zero if none.
func (s *Session) RemoteVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteVersion
}

// WaitReady blocks until the first snapshot delivery has been handled.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Launch(destination string, duration int) (trips.PlaceStore, error) {
	return s.mutate("launch", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.Launch(destination, duration)
	})
}

func (s *Session) AddDay() (trips.PlaceStore, error) {
	return s.mutate("add_day", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.AddDay()
	})
}

func (s *Session) SetDayTitle(day int, title string) (trips.PlaceStore, error) {
	return s.mutate("set_day_title", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.SetDayTitle(day, title)
	})
}

func (s *Session) SetSettings(settings trips.Settings) (trips.PlaceStore, error) {
	return s.mutate("set_settings", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.SetSettings(settings), nil
	})
}

// Add appends a place under day and returns it with its assigned id.
func (s *Session) Add(day int, fields trips.PlaceFields) (trips.PlaceStore, trips.Place, error) {
	var added trips.Place
	next, err := s.mutate("add_place", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		updated, place, err := state.Add(day, fields)
		added = place
		return updated, err
	})
	return next, added, err
}

func (s *Session) AddSuggestions(day int, suggestions []trips.PlaceFields) (trips.PlaceStore, []trips.Place, error) {
	var added []trips.Place
	next, err := s.mutate("add_suggestions", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		updated, places, err := state.AddSuggestions(day, suggestions)
		added = places
		return updated, err
	})
	return next, added, err
}

func (s *Session) Update(id trips.PlaceID, field trips.PlaceField, value string) (trips.PlaceStore, error) {
	return s.mutate("update_place", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.Update(id, field, value)
	})
}

func (s *Session) ToggleVisited(id trips.PlaceID) (trips.PlaceStore, error) {
	return s.mutate("toggle_visited", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.ToggleVisited(id), nil
	})
}

func (s *Session) MoveToDay(id trips.PlaceID, day int) (trips.PlaceStore, error) {
	return s.mutate("move_to_day", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.MoveToDay(id, day)
	})
}

func (s *Session) AddPhoto(id trips.PlaceID, reference string) (trips.PlaceStore, error) {
	return s.mutate("add_photo", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.AddPhoto(id, reference), nil
	})
}

func (s *Session) RemovePhoto(id trips.PlaceID, index int) (trips.PlaceStore, error) {
	return s.mutate("remove_photo", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.RemovePhoto(id, index), nil
	})
}

func (s *Session) Remove(id trips.PlaceID) (trips.PlaceStore, error) {
	return s.mutate("remove_place", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.Remove(id), nil
	})
}

func (s *Session) Reorder(movedID, targetID trips.PlaceID) (trips.PlaceStore, error) {
	return s.mutate("reorder", func(state trips.PlaceStore) (trips.PlaceStore, error) {
		return state.Reorder(movedID, targetID), nil
	})
}

// Close stops the subscription and waits for the apply loop and in-flight pushes.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		_ = s.loop.Wait()
		_ = s.pushes.Wait()
	})
	return nil
}

func (s *Session) mutate(operation string, edit func(trips.PlaceStore) (trips.PlaceStore, error)) (trips.PlaceStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.state, ErrClosed
	}
	next, err := edit(s.state)
	if err != nil {
		return s.state, err
	}
	s.state = next

	fields, err := next.Snapshot().Fields()
	if err != nil {
		s.logger.Error("encode snapshot failed", zap.String("operation", operation), zap.Error(err))
		return next, nil
	}
	s.push(operation, fields)
	return next, nil
}

// push writes fields in the background. Failures are logged and dropped.
func (s *Session) push(operation string, fields map[string]json.RawMessage) {
	pushCtx := context.WithoutCancel(s.ctx)
	s.pushes.Go(func() error {
		ctx, cancel := context.WithTimeout(pushCtx, s.pushTimeout)
		defer cancel()
		if _, err := s.store.Write(ctx, s.key, fields, documents.WriteMergeShallow); err != nil {
			s.logger.Warn("snapshot push dropped",
				zap.String("operation", operation),
				zap.Error(err))
		}
		return nil
	})
}

func (s *Session) apply(document documents.Document) {
	defer s.markReady()
	if !document.Exists {
		return
	}
	snapshot, err := trips.DecodeSnapshot(document.Fields)
	if err != nil {
		s.logger.Warn("remote snapshot ignored",
			zap.Int64("version", document.Version),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = s.state.Replace(snapshot)
	s.remoteVersion = document.Version
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}

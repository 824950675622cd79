package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "documents.service.new"
	opWrite      = "documents.write"
	opGet        = "documents.get"
	opSubscribe  = "documents.subscribe"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// Service persists keyed JSON documents and streams every committed version.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Write stores fields under key and publishes the resulting whole document.
func (s *Service) Write(ctx context.Context, key Key, fields map[string]json.RawMessage, mode WriteMode) (Document, error) {
	if s.db == nil {
		s.logError(opWrite, "missing_database", errMissingDatabase)
		return Document{}, newServiceError(opWrite, "missing_database", errMissingDatabase)
	}
	if _, err := NewKey(key.String()); err != nil {
		return Document{}, newServiceError(opWrite, "invalid_key", err)
	}
	if mode != WriteReplace && mode != WriteMergeShallow {
		return Document{}, newServiceError(opWrite, "invalid_mode", fmt.Errorf("%w: %q", ErrInvalidWriteMode, mode))
	}
	if err := validateFields(fields); err != nil {
		return Document{}, newServiceError(opWrite, "invalid_fields", err)
	}

	var written Document
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing StoredDocument
		var existingFields map[string]json.RawMessage
		found := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_key = ?", key.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			s.logError(opWrite, "document_select_failed", err, zap.String("document_key", key.String()))
			return newServiceError(opWrite, "document_select_failed", err)
		} else {
			current, decodeErr := existing.toDocument()
			if decodeErr != nil {
				s.logError(opWrite, "document_decode_failed", decodeErr, zap.String("document_key", key.String()))
				return newServiceError(opWrite, "document_decode_failed", decodeErr)
			}
			existingFields = current.Fields
		}

		merged := mergeFields(existingFields, fields, mode)
		encoded, err := json.Marshal(merged)
		if err != nil {
			return newServiceError(opWrite, "encode_failed", err)
		}

		now := s.clock().UTC().Unix()
		stored := StoredDocument{
			DocumentKey:      key.String(),
			FieldsJSON:       string(encoded),
			Version:          1,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if found {
			stored.Version = existing.Version + 1
			stored.CreatedAtSeconds = existing.CreatedAtSeconds
		}
		if err := tx.Save(&stored).Error; err != nil {
			s.logError(opWrite, "document_save_failed", err, zap.String("document_key", key.String()))
			return newServiceError(opWrite, "document_save_failed", err)
		}

		written = Document{
			Key:       key,
			Fields:    merged,
			Version:   stored.Version,
			UpdatedAt: time.Unix(stored.UpdatedAtSeconds, 0).UTC(),
			Exists:    true,
		}
		return nil
	})
	if txErr != nil {
		return Document{}, txErr
	}

	s.dispatcher.Publish(written)
	return written.Clone(), nil
}

// Get returns the current document under key. A missing document is not an
// error; it comes back with Exists set to false and an empty field set.
func (s *Service) Get(ctx context.Context, key Key) (Document, error) {
	if s.db == nil {
		s.logError(opGet, "missing_database", errMissingDatabase)
		return Document{}, newServiceError(opGet, "missing_database", errMissingDatabase)
	}
	if _, err := NewKey(key.String()); err != nil {
		return Document{}, newServiceError(opGet, "invalid_key", err)
	}

	var stored StoredDocument
	err := s.db.WithContext(ctx).Where("document_key = ?", key.String()).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{Key: key, Fields: map[string]json.RawMessage{}}, nil
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("document_key", key.String()))
		return Document{}, newServiceError(opGet, "query_failed", err)
	}

	document, err := stored.toDocument()
	if err != nil {
		s.logError(opGet, "document_decode_failed", err, zap.String("document_key", key.String()))
		return Document{}, newServiceError(opGet, "document_decode_failed", err)
	}
	return document, nil
}

// Subscribe streams the current document followed by every later version.
// Versions never go backwards on the stream; a slow reader skips straight to
// the newest snapshot. The stream closes when ctx ends or the returned stop
// func runs, and stop may be called any number of times.
func (s *Service) Subscribe(ctx context.Context, key Key) (<-chan Document, func(), error) {
	if s.db == nil {
		s.logError(opSubscribe, "missing_database", errMissingDatabase)
		return nil, nil, newServiceError(opSubscribe, "missing_database", errMissingDatabase)
	}
	if _, err := NewKey(key.String()); err != nil {
		return nil, nil, newServiceError(opSubscribe, "invalid_key", err)
	}

	subscriptionCtx, cancel := context.WithCancel(ctx)
	updates, release := s.dispatcher.Subscribe(subscriptionCtx, key)
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			cancel()
			release()
		})
	}

	current, err := s.Get(subscriptionCtx, key)
	if err != nil {
		stop()
		return nil, nil, err
	}

	stream := make(chan Document, 1)
	go func() {
		defer close(stream)
		defer stop()

		lastVersion := int64(-1)
		deliver := func(document Document) bool {
			if document.Version <= lastVersion {
				return true
			}
			select {
			case stream <- document:
				lastVersion = document.Version
				return true
			case <-subscriptionCtx.Done():
				return false
			}
		}

		if !deliver(current) {
			return
		}
		for {
			select {
			case <-subscriptionCtx.Done():
				return
			case document := <-updates:
				if !deliver(document) {
					return
				}
			}
		}
	}()

	return stream, stop, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("documents service error", attrs...)
}

package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// WriteMode selects how a write combines with the stored document.
type WriteMode string

const (
	// WriteReplace overwrites the whole document.
	WriteReplace WriteMode = "replace"
	// WriteMergeShallow overlays the written top-level keys onto the stored ones.
	// Nested values under a key are replaced, never merged.
	WriteMergeShallow WriteMode = "merge"
)

const maxKeyLength = 190

var (
	// ErrInvalidKey indicates that a document key is empty or exceeds storage bounds.
	ErrInvalidKey = errors.New("documents: invalid key")
	// ErrInvalidFields indicates that a document field is not valid JSON.
	ErrInvalidFields = errors.New("documents: invalid fields")
	// ErrInvalidWriteMode indicates an unsupported write mode.
	ErrInvalidWriteMode = errors.New("documents: invalid write mode")
)

// Key represents a validated document key.
type Key string

// NewKey validates raw input and returns a Key.
func NewKey(rawInput string) (Key, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(trimmed) > maxKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxKeyLength)
	}
	return Key(trimmed), nil
}

// String returns the underlying key.
func (key Key) String() string {
	return string(key)
}

// ParseWriteMode maps a raw mode name onto a WriteMode.
func ParseWriteMode(rawInput string) (WriteMode, error) {
	switch mode := WriteMode(strings.ToLower(strings.TrimSpace(rawInput))); mode {
	case WriteReplace, WriteMergeShallow:
		return mode, nil
	case "":
		return WriteMergeShallow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWriteMode, rawInput)
	}
}

// Document is a whole-document snapshot as stored or delivered to subscribers.
// Exists is false when nothing has been written under Key yet.
type Document struct {
	Key       Key
	Fields    map[string]json.RawMessage
	Version   int64
	UpdatedAt time.Time
	Exists    bool
}

// Clone returns a copy whose Fields map can be modified independently.
func (document Document) Clone() Document {
	fields := make(map[string]json.RawMessage, len(document.Fields))
	for key, raw := range document.Fields {
		fields[key] = append(json.RawMessage(nil), raw...)
	}
	document.Fields = fields
	return document
}

// StoredDocument is the persisted form of a document.
type StoredDocument struct {
	DocumentKey      string `gorm:"column:document_key;primaryKey;size:190;not null"`
	FieldsJSON       string `gorm:"column:fields_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_documents_updated"`
}

// TableName provides the explicit table binding for GORM.
func (StoredDocument) TableName() string {
	return "trip_documents"
}

func (stored StoredDocument) toDocument() (Document, error) {
	fields := map[string]json.RawMessage{}
	if stored.FieldsJSON != "" {
		if err := json.Unmarshal([]byte(stored.FieldsJSON), &fields); err != nil {
			return Document{}, fmt.Errorf("%w: stored document %s: %v", ErrInvalidFields, stored.DocumentKey, err)
		}
	}
	return Document{
		Key:       Key(stored.DocumentKey),
		Fields:    fields,
		Version:   stored.Version,
		UpdatedAt: time.Unix(stored.UpdatedAtSeconds, 0).UTC(),
		Exists:    true,
	}, nil
}

func mergeFields(existing, incoming map[string]json.RawMessage, mode WriteMode) map[string]json.RawMessage {
	merged := make(map[string]json.RawMessage, len(existing)+len(incoming))
	if mode == WriteMergeShallow {
		maps.Copy(merged, existing)
	}
	maps.Copy(merged, incoming)
	return merged
}

func validateFields(fields map[string]json.RawMessage) error {
	if fields == nil {
		return fmt.Errorf("%w: nil", ErrInvalidFields)
	}
	for key, raw := range fields {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidFields)
		}
		if !json.Valid(raw) {
			return fmt.Errorf("%w: %s is not valid json", ErrInvalidFields, key)
		}
	}
	return nil
}

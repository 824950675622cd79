package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
)

const migrationRestoreTripDurations = "2026-10-15_restore_trip_durations"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRestoreTripDurations, apply: restoreTripDurations},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// restoreTripDurations repairs trips relaunched with a shorter duration before
// relaunching was rejected. Such documents hold places beyond meta.duration and
// fail validation on every load, so the duration is raised to the furthest day.
func restoreTripDurations(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var stored []documents.StoredDocument
		if err := tx.Find(&stored).Error; err != nil {
			return err
		}
		for _, document := range stored {
			repaired, changed, err := raiseDurationToFurthestDay(document.FieldsJSON)
			if err != nil {
				return fmt.Errorf("restore duration of %s: %w", document.DocumentKey, err)
			}
			if !changed {
				continue
			}
			err = tx.Model(&documents.StoredDocument{}).
				Where("document_key = ?", document.DocumentKey).
				Updates(map[string]any{
					"fields_json": repaired,
					"version":     document.Version + 1,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// raiseDurationToFurthestDay leaves every key it does not need untouched.
// Documents without meta or with unreadable fields are skipped.
func raiseDurationToFurthestDay(fieldsJSON string) (string, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return fieldsJSON, false, nil
	}
	rawMeta, hasMeta := fields["meta"]
	rawPlaces, hasPlaces := fields["places"]
	if !hasMeta || !hasPlaces {
		return fieldsJSON, false, nil
	}

	var meta map[string]json.RawMessage
	if err := json.Unmarshal(rawMeta, &meta); err != nil || meta == nil {
		return fieldsJSON, false, nil
	}
	var duration int
	if err := json.Unmarshal(meta["duration"], &duration); err != nil {
		return fieldsJSON, false, nil
	}
	var places []struct {
		Day int `json:"day"`
	}
	if err := json.Unmarshal(rawPlaces, &places); err != nil {
		return fieldsJSON, false, nil
	}

	furthest := duration
	for _, place := range places {
		furthest = max(furthest, place.Day)
	}
	if furthest == duration {
		return fieldsJSON, false, nil
	}

	encodedDuration, err := json.Marshal(furthest)
	if err != nil {
		return "", false, err
	}
	meta["duration"] = encodedDuration
	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return "", false, err
	}
	fields["meta"] = encodedMeta
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", false, err
	}
	return string(encoded), true, nil
}

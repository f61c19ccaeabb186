package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

const (
	migrationNormalizeFragmentSpaces = "2026-03-01_normalize_fragment_spaces"
	migrationBackfillShareTokens     = "2026-03-08_backfill_share_tokens"
)

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

func applyMigrations(db *gorm.DB, tokens names.TokenProvider, logger *zap.Logger) error {
	if tokens == nil {
		tokens = names.NewUUIDTokenProvider()
	}
	migrations := []migrationDefinition{
		{name: migrationNormalizeFragmentSpaces, apply: normalizeFragmentSpaces},
		{name: migrationBackfillShareTokens, apply: func(tx *gorm.DB) error {
			return backfillShareTokens(tx, tokens)
		}},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeFragmentSpaces rewrites fragments imported with plain inner spaces into the
// non-breaking form. A fragment whose normalized text already exists is left untouched.
func normalizeFragmentSpaces(db *gorm.DB) error {
	var legacy []names.Fragment
	if err := db.Where("text LIKE ?", "% %").Find(&legacy).Error; err != nil {
		return err
	}
	for _, fragment := range legacy {
		normalized := names.NormalizeFragment(fragment.Text)
		var clashes int64
		if err := db.Model(&names.Fragment{}).Where("text = ?", normalized).Count(&clashes).Error; err != nil {
			return err
		}
		if clashes > 0 {
			continue
		}
		if err := db.Model(&names.Fragment{}).
			Where("id = ?", fragment.ID).
			UpdateColumn("text", normalized).Error; err != nil {
			return err
		}
	}
	return nil
}

// backfillShareTokens assigns tokens to approved composites that were stored before share
// tokens existed.
func backfillShareTokens(db *gorm.DB, tokens names.TokenProvider) error {
	var pending []names.Composite
	if err := db.Where("moderation = ? AND share_token IS NULL", names.ModerationApproved).
		Find(&pending).Error; err != nil {
		return err
	}
	for _, composite := range pending {
		token, err := tokens.NewToken()
		if err != nil {
			return err
		}
		if err := db.Model(&names.Composite{}).
			Where("id = ? AND share_token IS NULL", composite.ID).
			UpdateColumn("share_token", token).Error; err != nil {
			return err
		}
	}
	return nil
}

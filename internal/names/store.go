package names

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row-level storage helpers. Every helper takes the handle it should run on so callers
// compose them inside a single transaction; nothing here opens its own.

func lockFragment(tx *gorm.DB, text string) (*Fragment, error) {
	return takeFragment(tx.Clauses(clause.Locking{Strength: "UPDATE"}), text)
}

func lockComposite(tx *gorm.DB, text string) (*Composite, error) {
	return takeComposite(tx.Clauses(clause.Locking{Strength: "UPDATE"}), text)
}

// takeFragment returns nil without an error when no fragment is stored under text.
func takeFragment(db *gorm.DB, text string) (*Fragment, error) {
	var fragment Fragment
	err := db.Where("text = ?", text).Take(&fragment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fragment, nil
}

func takeComposite(db *gorm.DB, text string) (*Composite, error) {
	var composite Composite
	err := db.Where("text = ?", text).Take(&composite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &composite, nil
}

func findFragmentByID(tx *gorm.DB, id int64) (*Fragment, error) {
	var fragment Fragment
	err := tx.Where("id = ?", id).Take(&fragment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fragment, nil
}

func findCompositeByID(tx *gorm.DB, id int64) (*Composite, error) {
	var composite Composite
	err := tx.Where("id = ?", id).Take(&composite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &composite, nil
}

// ensureFragment returns the fragment row for text, creating it in the given state when
// absent. Existing rows are returned untouched.
func ensureFragment(tx *gorm.DB, text string, state Moderation, now time.Time) (*Fragment, error) {
	row := Fragment{
		Text:             text,
		Moderation:       state,
		CreatedAtSeconds: now.Unix(),
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "text"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	fragment, err := lockFragment(tx, text)
	if err != nil {
		return nil, err
	}
	if fragment == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return fragment, nil
}

// ensureComposite returns the composite row for text, creating it with zero votes in the
// given state when absent. The flag reports whether this call inserted the row.
func ensureComposite(tx *gorm.DB, text string, state Moderation, now time.Time) (*Composite, bool, error) {
	row := Composite{
		Text:             text,
		Moderation:       state,
		CreatedAtSeconds: now.Unix(),
	}
	inserted := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "text"}},
		DoNothing: true,
	}).Create(&row)
	if inserted.Error != nil {
		return nil, false, inserted.Error
	}
	composite, err := lockComposite(tx, text)
	if err != nil {
		return nil, false, err
	}
	if composite == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return composite, inserted.RowsAffected > 0, nil
}

// recordFragmentVote adds a positive delta to upvotes and the magnitude of a negative
// delta to downvotes. Rejected fragments are left untouched.
func recordFragmentVote(tx *gorm.DB, text string, delta int64) error {
	if delta == 0 {
		return nil
	}
	column := "upvotes"
	amount := delta
	if delta < 0 {
		column = "downvotes"
		amount = -delta
	}
	return tx.Model(&Fragment{}).
		Where("text = ? AND moderation <> ?", text, ModerationRejected).
		UpdateColumn(column, gorm.Expr(column+" + ?", amount)).Error
}

// recordComposite creates the composite when absent, then adds delta to its votes unless
// it is rejected. The returned row reflects the stored state after the update; the flag
// reports whether the composite was created.
func recordComposite(tx *gorm.DB, text string, delta int64, initial Moderation, now time.Time) (*Composite, bool, error) {
	_, created, err := ensureComposite(tx, text, initial, now)
	if err != nil {
		return nil, false, err
	}
	if delta != 0 {
		if err := tx.Model(&Composite{}).
			Where("text = ? AND moderation <> ?", text, ModerationRejected).
			UpdateColumn("votes", gorm.Expr("votes + ?", delta)).Error; err != nil {
			return nil, false, err
		}
	}
	composite, err := lockComposite(tx, text)
	if err != nil {
		return nil, false, err
	}
	if composite == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return composite, created, nil
}

// addRecentVote accumulates delta into the recency ledger bucket for text.
func addRecentVote(tx *gorm.DB, text string, bucketStart int64, delta int64) error {
	if delta == 0 {
		return nil
	}
	row := RecentVote{
		Text:               text,
		BucketStartSeconds: bucketStart,
		Votes:              delta,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "text"}, {Name: "bucket_start_s"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"votes": gorm.Expr("recent_votes.votes + ?", delta)}),
	}).Create(&row).Error
}

func setModeration(tx *gorm.DB, model interface{}, id int64, state Moderation) error {
	return tx.Model(model).Where("id = ?", id).UpdateColumn("moderation", state).Error
}

func fragmentsByText(tx *gorm.DB, texts []string) (map[string]Fragment, error) {
	result := make(map[string]Fragment, len(texts))
	if len(texts) == 0 {
		return result, nil
	}
	var rows []Fragment
	if err := tx.Where("text IN ?", texts).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.Text] = row
	}
	return result, nil
}

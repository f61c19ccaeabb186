package names

import (
	"errors"
	"fmt"
	"strings"
)

// Moderation is the tri-state eligibility flag shared by fragments and composites.
type Moderation string

const (
	// ModerationPending marks content that has not been reviewed yet.
	ModerationPending Moderation = "pending"
	// ModerationApproved marks content that may be displayed and composed.
	ModerationApproved Moderation = "approved"
	// ModerationRejected marks content that is hidden and ignores votes.
	ModerationRejected Moderation = "rejected"
)

// EntityKind distinguishes the two stores.
type EntityKind string

const (
	// EntityFragment addresses the fragment store.
	EntityFragment EntityKind = "fragment"
	// EntityComposite addresses the composite store.
	EntityComposite EntityKind = "composite"
)

const (
	// Separator joins the two fragments of a composite.
	Separator = " "
	// PlaceholderText renders composites or fragments that can no longer be resolved.
	PlaceholderText = "-"

	nonBreakingSpace = "\u00a0"
	maxTextLength    = 190
)

var (
	// ErrNotFound indicates a lookup by id, text or share token missed.
	ErrNotFound = errors.New("names: not found")
	// ErrEmptyCorpus indicates the generator had nothing eligible to offer.
	ErrEmptyCorpus = errors.New("names: empty corpus")
	// ErrInvalidTransition indicates a moderation change the gate does not allow.
	ErrInvalidTransition = errors.New("names: invalid moderation transition")
	// ErrInvalidText indicates an empty or oversized fragment or composite text.
	ErrInvalidText = errors.New("names: invalid text")
	// ErrInvalidReference indicates an entity reference without a usable kind or key.
	ErrInvalidReference = errors.New("names: invalid entity reference")
)

// Fragment is a single reusable word that can occupy either half of a composite.
type Fragment struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id" yaml:"id"`
	Text             string     `gorm:"column:text;size:190;not null;uniqueIndex:idx_fragments_text" json:"text" yaml:"text"`
	Upvotes          int64      `gorm:"column:upvotes;not null;default:0" json:"upvotes" yaml:"upvotes"`
	Downvotes        int64      `gorm:"column:downvotes;not null;default:0" json:"downvotes" yaml:"downvotes"`
	Moderation       Moderation `gorm:"column:moderation;size:16;not null;default:'pending';index:idx_fragments_moderation" json:"moderation" yaml:"moderation"`
	FirstAffinity    int64      `gorm:"column:first_affinity;not null;default:0" json:"first_affinity" yaml:"first_affinity"`
	SecondAffinity   int64      `gorm:"column:second_affinity;not null;default:0" json:"second_affinity" yaml:"second_affinity"`
	FlagReason       string     `gorm:"column:flag_reason;type:text;not null;default:''" json:"flag_reason,omitempty" yaml:"flag_reason,omitempty"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null" json:"created_at_s" yaml:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Fragment) TableName() string {
	return "fragments"
}

// Score is the net vote balance used for ranking fragments.
func (f Fragment) Score() int64 {
	return f.Upvotes - f.Downvotes
}

// Composite is a two-fragment name, the unit that is voted on and displayed.
type Composite struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id" yaml:"id"`
	Text             string     `gorm:"column:text;size:400;not null;uniqueIndex:idx_composites_text" json:"text" yaml:"text"`
	Votes            int64      `gorm:"column:votes;not null;default:0;index:idx_composites_votes" json:"votes" yaml:"votes"`
	Moderation       Moderation `gorm:"column:moderation;size:16;not null;default:'pending';index:idx_composites_moderation" json:"moderation" yaml:"moderation"`
	ShareToken       *string    `gorm:"column:share_token;size:64;uniqueIndex:idx_composites_share_token" json:"share_token,omitempty" yaml:"share_token,omitempty"`
	FlagReason       string     `gorm:"column:flag_reason;type:text;not null;default:''" json:"flag_reason,omitempty" yaml:"flag_reason,omitempty"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null" json:"created_at_s" yaml:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Composite) TableName() string {
	return "composites"
}

// RecentVote is one bucket of the recency ledger: the cumulative delta a composite
// received during the bucket starting at BucketStartSeconds.
type RecentVote struct {
	Text               string `gorm:"column:text;primaryKey;size:400;not null"`
	BucketStartSeconds int64  `gorm:"column:bucket_start_s;primaryKey;not null;index:idx_recent_votes_bucket"`
	Votes              int64  `gorm:"column:votes;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (RecentVote) TableName() string {
	return "recent_votes"
}

// EntityRef addresses a fragment or composite either by id or by text.
type EntityRef struct {
	Kind EntityKind
	ID   int64
	Text string
}

// FragmentRef addresses a fragment by id.
func FragmentRef(id int64) EntityRef {
	return EntityRef{Kind: EntityFragment, ID: id}
}

// CompositeRef addresses a composite by id.
func CompositeRef(id int64) EntityRef {
	return EntityRef{Kind: EntityComposite, ID: id}
}

// FragmentTextRef addresses a fragment by text.
func FragmentTextRef(text string) EntityRef {
	return EntityRef{Kind: EntityFragment, Text: text}
}

// CompositeTextRef addresses a composite by text.
func CompositeTextRef(text string) EntityRef {
	return EntityRef{Kind: EntityComposite, Text: text}
}

func (r EntityRef) validate() error {
	if r.Kind != EntityFragment && r.Kind != EntityComposite {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, r.Kind)
	}
	if r.ID <= 0 && strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: id or text required", ErrInvalidReference)
	}
	return nil
}

// LeaderboardEntry is one ranked composite.
type LeaderboardEntry struct {
	Name       string `json:"name"`
	Votes      int64  `json:"votes"`
	ShareToken string `json:"share_token,omitempty"`
}

// PendingList is the moderation queue.
type PendingList struct {
	Fragments  []Fragment  `json:"fragments"`
	Composites []Composite `json:"composites"`
}

// AdminListing collects content an administrator may want to reset or purge.
type AdminListing struct {
	RejectedComposites []Composite `json:"rejected_composites"`
	SunkComposites     []Composite `json:"sunk_composites"`
	RejectedFragments  []Fragment  `json:"rejected_fragments"`
}

// LookupResult holds substring matches from both stores.
type LookupResult struct {
	Fragments  []Fragment  `json:"fragments"`
	Composites []Composite `json:"composites"`
}

// CorpusDump is a full export of both stores.
type CorpusDump struct {
	Fragments  []Fragment  `json:"fragments" yaml:"fragments"`
	Composites []Composite `json:"composites" yaml:"composites"`
}

// NormalizeFragment trims the input and stores inner whitespace as non-breaking spaces
// so a fragment is never mistaken for a composite boundary.
func NormalizeFragment(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), Separator, nonBreakingSpace)
}

// SplitComposite returns the fragment texts of a composite: everything before the first
// separator, and the normalized remainder.
func SplitComposite(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	parts := strings.SplitN(trimmed, Separator, 2)
	fragments := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized := NormalizeFragment(part)
		if normalized == "" {
			continue
		}
		fragments = append(fragments, normalized)
	}
	return fragments
}

// CanonicalComposite returns the stored form of a composite text.
func CanonicalComposite(raw string) string {
	return strings.Join(SplitComposite(raw), Separator)
}

// FlipComposite returns the composite with its two fragments swapped.
func FlipComposite(text string) string {
	parts := SplitComposite(text)
	if len(parts) != 2 {
		return CanonicalComposite(text)
	}
	return parts[1] + Separator + parts[0]
}

func validateText(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if len(text) > 2*maxTextLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidText, 2*maxTextLength)
	}
	return nil
}

func validateFragmentText(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if len(text) > maxTextLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidText, maxTextLength)
	}
	return nil
}

func placeholderFragment() Fragment {
	return Fragment{Text: PlaceholderText, Moderation: ModerationPending}
}

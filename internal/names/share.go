package names

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/collection"
)

var (
	// ErrInvalidToken indicates a damaged collection token.
	ErrInvalidToken = collection.ErrInvalidToken
	// ErrInvalidID indicates a collection id that cannot be encoded.
	ErrInvalidID = collection.ErrInvalidID
)

// ShareToken returns the public token for a composite, issuing one on first use. The empty
// string means the composite is not trustworthy enough to share: it is not approved, sunk
// below the leaderboard threshold, or unknown and built from fragments that are not approved.
func (s *Service) ShareToken(ctx context.Context, compositeText string) (string, error) {
	canonical := CanonicalComposite(compositeText)
	if err := validateText(canonical); err != nil {
		return "", newServiceError(opShareToken, "invalid_text", err)
	}
	value, err, _ := s.shareGroup.Do(canonical, func() (interface{}, error) {
		return s.issueShareToken(ctx, canonical)
	})
	if err != nil {
		return "", s.fail(opShareToken, "issue_failed", err, zap.String("name", canonical))
	}
	return value.(string), nil
}

func (s *Service) issueShareToken(ctx context.Context, canonical string) (string, error) {
	var token string
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		composite, err := lockComposite(tx, canonical)
		if err != nil {
			return err
		}
		if composite != nil {
			if composite.Moderation != ModerationApproved || composite.Votes <= s.engine.LeaderboardThreshold {
				return nil
			}
			if composite.ShareToken != nil {
				token = *composite.ShareToken
				return nil
			}
			fresh, err := s.tokens.NewToken()
			if err != nil {
				return err
			}
			if err := tx.Model(&Composite{}).
				Where("id = ? AND share_token IS NULL", composite.ID).
				UpdateColumn("share_token", fresh).Error; err != nil {
				return err
			}
			stored, err := findCompositeByID(tx, composite.ID)
			if err != nil {
				return err
			}
			if stored.ShareToken != nil {
				token = *stored.ShareToken
			}
			return nil
		}

		parts := SplitComposite(canonical)
		if len(parts) != 2 {
			return nil
		}
		fragments, err := fragmentsByText(tx, parts)
		if err != nil {
			return err
		}
		for _, part := range parts {
			fragment, ok := fragments[part]
			if !ok || fragment.Moderation != ModerationApproved {
				return nil
			}
		}
		fresh, err := s.tokens.NewToken()
		if err != nil {
			return err
		}
		row := Composite{
			Text:             canonical,
			Moderation:       ModerationApproved,
			ShareToken:       &fresh,
			CreatedAtSeconds: s.now().Unix(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		token = fresh
		created = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if created {
		s.invalidateLeaderboard(ctx)
	}
	return token, nil
}

// ResolveShareToken returns the composite a token was issued for. Composites that are not
// approved are reported as missing.
func (s *Service) ResolveShareToken(ctx context.Context, token string) (Composite, error) {
	if token == "" {
		return Composite{}, newServiceError(opResolveToken, "not_found", ErrNotFound)
	}
	var composite Composite
	err := s.db.WithContext(ctx).Where("share_token = ?", token).Take(&composite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && composite.Moderation != ModerationApproved) {
		return Composite{}, newServiceError(opResolveToken, "not_found", ErrNotFound)
	}
	if err != nil {
		return Composite{}, s.fail(opResolveToken, "query_failed", err)
	}
	return composite, nil
}

// ResolveShareTokens maps tokens to approved composite texts in input order, skipping
// anything unknown or not approved.
func (s *Service) ResolveShareTokens(ctx context.Context, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var rows []Composite
	if err := s.db.WithContext(ctx).
		Where("share_token IN ? AND moderation = ?", tokens, ModerationApproved).
		Find(&rows).Error; err != nil {
		return nil, s.fail(opResolveToken, "query_failed", err)
	}
	byToken := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.ShareToken != nil {
			byToken[*row.ShareToken] = row.Text
		}
	}
	resolved := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if text, ok := byToken[token]; ok {
			resolved = append(resolved, text)
		}
	}
	return resolved, nil
}

// EncodeCollection turns composite ids into a collection token.
func (s *Service) EncodeCollection(ids []int64) (string, error) {
	token, err := collection.Encode(ids)
	if err != nil {
		return "", newServiceError(opEncodeCollection, "invalid_id", err)
	}
	return token, nil
}

// EncodeCollectionNames builds a collection token from composite texts. Unknown or rejected
// texts are left out.
func (s *Service) EncodeCollectionNames(ctx context.Context, texts []string) (string, error) {
	ids, err := s.CollectionIDs(ctx, texts)
	if err != nil {
		return "", err
	}
	return s.EncodeCollection(ids)
}

// CollectionIDs resolves composite texts to ids in input order, skipping unknown and
// rejected texts.
func (s *Service) CollectionIDs(ctx context.Context, texts []string) ([]int64, error) {
	canonical := make([]string, 0, len(texts))
	for _, text := range texts {
		if value := CanonicalComposite(text); value != "" {
			canonical = append(canonical, value)
		}
	}
	if len(canonical) == 0 {
		return nil, nil
	}
	var rows []Composite
	if err := s.db.WithContext(ctx).
		Where("text IN ? AND moderation <> ?", canonical, ModerationRejected).
		Find(&rows).Error; err != nil {
		return nil, s.fail(opEncodeCollection, "query_failed", err)
	}
	byText := make(map[string]int64, len(rows))
	for _, row := range rows {
		byText[row.Text] = row.ID
	}
	ids := make([]int64, 0, len(canonical))
	for _, text := range canonical {
		if id, ok := byText[text]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DecodeCollection resolves a collection token to composite texts. Ids that no longer
// resolve, or resolve to rejected composites, render as PlaceholderText. A damaged token
// yields whatever was decoded before the damage together with ErrInvalidToken.
func (s *Service) DecodeCollection(ctx context.Context, token string) ([]string, error) {
	ids, decodeErr := collection.Decode(token)
	texts, err := s.namesForIDs(ctx, ids)
	if err != nil {
		return nil, s.fail(opDecodeCollection, "query_failed", err)
	}
	if decodeErr != nil {
		return texts, newServiceError(opDecodeCollection, "invalid_token", decodeErr)
	}
	return texts, nil
}

func (s *Service) namesForIDs(ctx context.Context, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	var rows []Composite
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]Composite, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	texts := make([]string, len(ids))
	for index, id := range ids {
		row, ok := byID[id]
		if !ok || row.Moderation == ModerationRejected {
			texts[index] = PlaceholderText
			continue
		}
		texts[index] = row.Text
	}
	return texts, nil
}

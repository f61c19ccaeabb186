// Package collection encodes ordered lists of composite ids into compact URL-safe tokens.
//
// Wire format: every id contributes its decimal digits as raw byte values 0 through 9,
// followed by the separator byte 10. The byte sequence is base64url encoded with
// RFC 4648 padding. Decode also accepts tokens whose padding was stripped. Shared links
// depend on this layout, so it must never change.
package collection

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const separator byte = 10

var (
	// ErrInvalidToken indicates a token that is not a well-formed collection.
	ErrInvalidToken = errors.New("collection: invalid token")
	// ErrInvalidID indicates an id that cannot be encoded.
	ErrInvalidID = errors.New("collection: invalid id")
)

// Encode returns the token for ids. An empty list encodes to the empty string.
func Encode(ids []int64) (string, error) {
	raw := make([]byte, 0, len(ids)*4)
	for index, id := range ids {
		if id <= 0 {
			return "", fmt.Errorf("%w: position %d holds %d", ErrInvalidID, index, id)
		}
		for _, digit := range strconv.FormatInt(id, 10) {
			raw = append(raw, byte(digit-'0'))
		}
		raw = append(raw, separator)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. On a structural fault it returns the ids decoded before the
// fault together with ErrInvalidToken.
func Decode(token string) ([]int64, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(token), "=")
	if trimmed == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	ids := make([]int64, 0, len(raw)/2)
	var current int64
	digits := 0
	for offset, value := range raw {
		switch {
		case value == separator:
			if digits == 0 || current <= 0 {
				return ids, fmt.Errorf("%w: empty or zero id at byte %d", ErrInvalidToken, offset)
			}
			ids = append(ids, current)
			current, digits = 0, 0
		case value <= 9:
			if digits > 0 && current == 0 {
				return ids, fmt.Errorf("%w: leading zero at byte %d", ErrInvalidToken, offset)
			}
			if current > (math.MaxInt64-int64(value))/10 {
				return ids, fmt.Errorf("%w: id overflows at byte %d", ErrInvalidToken, offset)
			}
			current = current*10 + int64(value)
			digits++
		default:
			return ids, fmt.Errorf("%w: unexpected byte %d at %d", ErrInvalidToken, value, offset)
		}
	}
	if digits > 0 {
		return ids, fmt.Errorf("%w: missing trailing separator", ErrInvalidToken)
	}
	return ids, nil
}

package names

import "github.com/google/uuid"

type uuidTokenProvider struct{}

// NewUUIDTokenProvider constructs a TokenProvider that issues random UUID share tokens.
func NewUUIDTokenProvider() TokenProvider {
	return &uuidTokenProvider{}
}

func (p *uuidTokenProvider) NewToken() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

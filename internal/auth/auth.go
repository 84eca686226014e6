// Package auth checks the join token a participant presents when it
// registers with the head.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator decides whether a join token admits a participant.
type Validator interface {
	Validate(token string) error
}

// StaticToken admits participants presenting one shared token. An empty
// stored token admits nobody.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Open admits every participant.
type Open struct{}

func (Open) Validate(string) error { return nil }

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// ForToken returns StaticToken for a configured token and Open otherwise.
func ForToken(token string) Validator {
	if token = strings.TrimSpace(token); token != "" {
		return StaticToken{Token: token}
	}
	return Open{}
}

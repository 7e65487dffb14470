package service

import (
	"errors"

	"github.com/postpipe/connector/internal/security"
)

var (
	// ErrValidation marks a malformed request. Never retried.
	ErrValidation = errors.New("invalid request")

	// ErrUnauthorized marks a request whose signature, freshness or token
	// failed verification. The specific cause is wrapped alongside it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks a token that was presented but not accepted.
	ErrForbidden = errors.New("forbidden")

	ErrExpired      = security.ErrExpired
	ErrBadSignature = security.ErrBadSignature
)

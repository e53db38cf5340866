package app

import (
	"errors"
	"regexp"

	"docchat/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrEmptyContent = errors.New("no readable text found in the uploaded documents")
	ErrIndexBuild   = errors.New("index build failed")
	ErrQuery        = errors.New("query failed")
	ErrNoIndex      = errors.New("no content indexed for this session")

	// ErrStorage is returned by history writes that did not reach the store.
	ErrStorage = repository.ErrStorage
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateSessionID rejects ids that are not a single safe path segment.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return ErrInvalidInput
	}
	return nil
}

package domain

import "errors"

var (
	// ErrInvalidResponse marks a success status whose payload could not be used.
	ErrInvalidResponse = errors.New("invalid analysis response")
	// ErrSessionNotFound is returned by stores when no snapshot exists for an id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrVersionConflict is returned by stores when a snapshot was saved concurrently.
	ErrVersionConflict = errors.New("session version conflict")
)

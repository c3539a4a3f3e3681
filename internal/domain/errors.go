package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateObservation is returned by stores when an observation with
	// the same dedup key already exists. Aggregation counts it as a skip.
	ErrDuplicateObservation = errors.New("duplicate observation")

	// ErrInsufficientData is the fatal error for training on too few vectors.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrModelNotFound is returned when no model matches a lookup.
	ErrModelNotFound = errors.New("model not found")
)

// InsufficientDataError reports how many feature vectors training had and
// needed. It matches ErrInsufficientData with errors.Is.
type InsufficientDataError struct {
	ModelType ModelType
	Have      int
	Need      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %s needs %d feature vectors, have %d", ErrInsufficientData, e.ModelType, e.Need, e.Have)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

package model

import "errors"

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid text encoder config")

	// ErrTokenOutOfRange is returned when a token ID is outside [0, vocabulary size).
	ErrTokenOutOfRange = errors.New("token id out of range")

	// ErrSequenceTooLong is returned when a sequence exceeds the positional table.
	ErrSequenceTooLong = errors.New("sequence exceeds maximum length")

	// ErrEmptyBatch is returned when asked to encode zero sequences.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrRaggedBatch is returned when sequences in one batch differ in length.
	ErrRaggedBatch = errors.New("sequences in batch have different lengths")

	ErrNoTokenizer = errors.New("encoder has no tokenizer")
)

package model

import "errors"

// Sentinel errors for the failure classes surfaced at operation
// boundaries. Callers match them with errors.Is; the wrapped message
// carries the offending values.
var (
	// ErrConfig reports an invalid or inconsistent hyperparameter bundle.
	ErrConfig = errors.New("invalid model configuration")

	// ErrShape reports input tensors whose dimensions disagree with the
	// configured model.
	ErrShape = errors.New("shape mismatch")

	// ErrSequence reports a forward call whose start position plus
	// sequence length runs past the precomputed rotary table.
	ErrSequence = errors.New("sequence length exceeded")

	// ErrWeightMismatch reports stored weights whose names or shapes do
	// not line up with the live model.
	ErrWeightMismatch = errors.New("weight mismatch")
)

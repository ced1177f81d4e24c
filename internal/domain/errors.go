package domain

import "errors"

var (
	// ErrMissingConfig signals a required connection setting that was never configured.
	ErrMissingConfig = errors.New("missing configuration")
	// ErrInvalidVector signals malformed vector input (empty or non-finite values).
	ErrInvalidVector = errors.New("invalid vector")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationProviderError signals a generation provider failure.
	ErrGenerationProviderError = errors.New("generation provider error")
	// ErrMalformedPayload signals model output that could not be repaired into JSON.
	ErrMalformedPayload = errors.New("malformed structured payload")
)

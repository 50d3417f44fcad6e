package domain

import (
	"errors"
	"fmt"
)

// Configuration errors are fatal and never retried.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrMissingTenant      = fmt.Errorf("%w: tenant id is required", ErrConfiguration)
	ErrInvalidTenant      = fmt.Errorf("%w: invalid tenant id", ErrConfiguration)
	ErrUnsupportedBackend = fmt.Errorf("%w: unsupported backend type", ErrConfiguration)

	// ErrEmbeddingUnavailable indicates the embedding provider has no credential or model.
	ErrEmbeddingUnavailable = fmt.Errorf("%w: embedding provider unavailable", ErrConfiguration)

	// ErrCompletionUnavailable indicates the completion provider is not configured.
	ErrCompletionUnavailable = fmt.Errorf("%w: completion provider unavailable", ErrConfiguration)
)

var (
	// ErrIntegrityViolation means tenant isolation has failed. It must abort the
	// request and is never turned into a graceful answer.
	ErrIntegrityViolation = errors.New("tenant integrity violation")

	// ErrExternalService marks recoverable embedding or completion failures.
	ErrExternalService = errors.New("external service error")

	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyDocument     = errors.New("document has no text")
	ErrUnsupportedFile   = errors.New("unsupported file type")
)

// IntegrityError describes a chunk or result that violates tenant isolation.
type IntegrityError struct {
	Tenant  TenantID
	Found   TenantID
	ChunkID string
	Reason  string
}

func (e *IntegrityError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("tenant integrity violation: chunk %q for tenant %q: %s", e.ChunkID, e.Tenant, e.Reason)
	}
	return fmt.Sprintf("tenant integrity violation: chunk %q belongs to tenant %q, expected %q: %s", e.ChunkID, e.Found, e.Tenant, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityViolation }

// ExternalServiceError wraps a failure of an embedding or completion provider.
type ExternalServiceError struct {
	Service string
	Err     error
}

// External wraps err as a recoverable failure of service. Nil stays nil.
func External(service string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalServiceError{Service: service, Err: err}
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// IsRetryable reports whether err is a recoverable provider failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExternalService) && !IsFatal(err)
}

// IsFatal reports whether err is a configuration error or an integrity violation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrIntegrityViolation)
}

package localstore

import (
	"fmt"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

// Every local store failure wraps apperrors.ErrStorage so callers can tell it
// apart from a remote transport failure.
var (
	ErrSerialization = fmt.Errorf("%w: serialization failed", apperrors.ErrStorage)
	ErrQuotaExceeded = fmt.Errorf("%w: quota exceeded", apperrors.ErrStorage)
	ErrBackend       = fmt.Errorf("%w: backend failure", apperrors.ErrStorage)
)

func backendErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
}

func serializationErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSerialization, op, err)
}

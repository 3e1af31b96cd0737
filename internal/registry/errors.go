package registry

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("registry: record not found")
	ErrInvalidRecord     = errors.New("registry: invalid record")
	ErrInvalidTransition = errors.New("registry: invalid status transition")
	ErrCorrupted         = errors.New("registry: entry corrupted")
	ErrPersist           = errors.New("registry: failed to persist")
	ErrConflict          = errors.New("registry: concurrent update conflict")
)

// RegistryCorruptionError reports a persisted entry that could not be decoded.
// Only the named key is affected; other entries stay readable.
type RegistryCorruptionError struct {
	Key string
	Err error
}

func (e *RegistryCorruptionError) Error() string {
	return fmt.Sprintf("registry: entry %q corrupted: %v", e.Key, e.Err)
}

func (e *RegistryCorruptionError) Unwrap() error {
	return e.Err
}

// Is matches ErrCorrupted.
func (e *RegistryCorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

func notFound(network, contractName string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, Key(network, contractName))
}

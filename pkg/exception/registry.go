package exception

import "errors"

var (
	ErrRegistryConflict = errors.New("registry: position already claimed by another owner")
	ErrRegistryNotFound = errors.New("registry: entry not found")
	ErrRegistryLock     = errors.New("registry: could not acquire file lock")
)

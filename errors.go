package roleguard

import (
	"errors"
	"fmt"
)

var (
	// ErrRepositoryUnavailable marks outages of the role or assignment
	// repositories. It is never returned for a plain denial.
	ErrRepositoryUnavailable = errors.New("roleguard: repository unavailable")
	// ErrNotFound is returned by collaborator lookups for missing records.
	ErrNotFound = errors.New("roleguard: not found")
	// ErrInvalidRequest is returned for requests missing actor, module or action.
	ErrInvalidRequest = errors.New("roleguard: invalid request")
)

// RepositoryError wraps a failure of RoleRepository or UserRoleRepository.
type RepositoryError struct {
	Repository string
	Key        string
	Err        error
}

func (e *RepositoryError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("roleguard: %s unavailable (%s): %v", e.Repository, e.Key, e.Err)
	}
	return fmt.Sprintf("roleguard: %s unavailable: %v", e.Repository, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func (e *RepositoryError) Is(target error) bool { return target == ErrRepositoryUnavailable }

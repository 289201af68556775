// Package errors defines the typed error taxonomy shared by the sync engine.
// Callers branch on these with errors.As instead of string matching; anything
// not covered here is wrapped with fmt.Errorf("%w") context at the call site.
package errors

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a malformed or inconsistent mapping/manifest
// document. Fatal, never retried.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}
func (e *ConfigurationError) Unwrap() error { return e.Err }

// AlreadyInitializedError is the idempotency guard for repeated initialization
// of a mapping. Callers may treat it as a no-op success where appropriate.
type AlreadyInitializedError struct {
	Mapping string
	SHA     string
}

func (e *AlreadyInitializedError) Error() string {
	return fmt.Sprintf("mapping %s is already initialized at %s", e.Mapping, e.SHA)
}

// RevisionNotFoundError means every candidate remote was exhausted without the
// target revision becoming resolvable locally.
type RevisionNotFoundError struct {
	Mapping  string
	Revision string
	Remotes  []string
}

func (e *RevisionNotFoundError) Error() string {
	return fmt.Sprintf("revision %s of %s not found in any remote (%s)",
		e.Revision, e.Mapping, strings.Join(e.Remotes, ", "))
}

// PatchConflictError names the patch file and conflicting path that stopped a
// patch application. Non-retriable; the patch file needs a human fix.
type PatchConflictError struct {
	Patch string
	Path  string
	Err   error
}

func (e *PatchConflictError) Error() string {
	return fmt.Sprintf("patch %s conflicts at %s: %v", e.Patch, e.Path, e.Err)
}
func (e *PatchConflictError) Unwrap() error { return e.Err }

// CloakViolationError reports files present in the VMR that cloaking rules
// forbid. Reported, never auto-fixed.
type CloakViolationError struct {
	Files []string
}

func (e *CloakViolationError) Error() string {
	return fmt.Sprintf("%d cloaked file(s) found in the VMR: %s",
		len(e.Files), strings.Join(e.Files, ", "))
}

// Package coreerr enumerates the error kinds of the indexer's failure
// model: which are fatal to a single actor, which are fatal to the whole
// process, and which are ordinary per-call failures a caller can branch on.
package coreerr

import "fmt"

// StorageError wraps a KV read/write failure. Fatal to the owning actor.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MalformedEventError wraps a decoding failure on a block or event. Fatal
// to the handler processing it; already-applied state remains as-is.
type MalformedEventError struct {
	Context string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed block or event (%s): %v", e.Context, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// AnalysisDiagnostic records a non-fatal, per-contract analysis failure.
// The protocol observer records it and continues with the remaining
// contracts.
type AnalysisDiagnostic struct {
	ContractID string
	Err        error
}

func (e *AnalysisDiagnostic) Error() string {
	return fmt.Sprintf("analysis diagnostic for %s: %v", e.ContractID, e.Err)
}

func (e *AnalysisDiagnostic) Unwrap() error { return e.Err }

// MissingContractSourceError is fatal to a protocol observer's start-up:
// the protocol referenced a contract not yet deployed, so the protocol is
// not registered.
type MissingContractSourceError struct {
	ContractID string
}

func (e *MissingContractSourceError) Error() string {
	return fmt.Sprintf("missing contract source for %s: protocol not registered", e.ContractID)
}

// UnknownFieldError is returned to a GetFieldValues caller when the
// requested field name does not match any variable, map, fungible token, or
// non-fungible token in the contract's interface.
type UnknownFieldError struct {
	ContractID string
	FieldName  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q on contract %s", e.FieldName, e.ContractID)
}

// InvariantViolation is fatal: the on-disk state is now inconsistent and
// the process must abort after logging. Examples: FT/NFT underflow, tip
// regression, missing block at an expected index.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation (%s): %s", e.Invariant, e.Detail)
}

// UnsupportedReorgError signals a microblock reorg, which is unimplemented
// in the reference this system was distilled from and is treated as fatal
// per the error handling design.
type UnsupportedReorgError struct{}

func (e *UnsupportedReorgError) Error() string {
	return "microblock reorg is not supported"
}

// CycleError reports that the dependency graph used for analysis ordering
// contains a cycle, per invariant I5.
type CycleError struct {
	Contracts []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among contracts: %v", e.Contracts)
}

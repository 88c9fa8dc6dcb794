// Package analysis defines the static-analysis collaborator boundary: the
// protocol observer depends on an Analyzer to discover a contract's
// dependencies and compute its interface, but never implements a Clarity
// parser itself. A Session accumulates successfully analyzed contracts so
// later analyses can type-check against earlier ones, mirroring how a
// language analyzer's global context grows incrementally.
package analysis

import "github.com/hirosystems/orchestra-archive/internal/chainevent"

// Analyzer is the static-analysis collaborator the protocol observer calls
// into. Implementations wrap a real Clarity (or equivalent) analyzer;
// BasicAnalyzer provides a minimal in-process stand-in suitable for tests and
// for deployments that only need interface discovery from source text
// without a full type checker.
type Analyzer interface {
	// DetectDependencies returns the contract identifiers that code
	// references (trait implementations, contract-calls, ft/nft references
	// to foreign contracts), without requiring those dependencies to have
	// been analyzed yet. Used for BFS dependency discovery before any
	// analysis is attempted.
	DetectDependencies(contractID string, code string) ([]string, error)

	// Analyze fully type-checks a contract's source, given that every
	// dependency returned by a prior DetectDependencies call has already
	// been analyzed and saved into the same Session, and returns its
	// public interface. A non-nil error here is a per-contract analysis
	// failure (coreerr.AnalysisDiagnostic), not a session-fatal error.
	Analyze(contractID string, code string) (chainevent.ContractInterface, error)
}

// Session accumulates the interfaces of contracts analyzed so far within
// one dependency-resolution run, so that analyzing a dependent contract can
// see its already-analyzed dependencies. This mirrors an incremental
// analysis database: each successfully analyzed contract is saved back into
// the session before its dependents are attempted.
type Session struct {
	analyzer  Analyzer
	analyzed  map[string]chainevent.ContractInterface
}

// NewSession starts an empty analysis session backed by analyzer.
func NewSession(analyzer Analyzer) *Session {
	return &Session{analyzer: analyzer, analyzed: map[string]chainevent.ContractInterface{}}
}

// DetectDependencies delegates to the underlying analyzer.
func (s *Session) DetectDependencies(contractID, code string) ([]string, error) {
	return s.analyzer.DetectDependencies(contractID, code)
}

// Analyze analyzes one contract and, on success, saves its interface into
// the session so later dependents can be analyzed against it. On failure
// the session is left unchanged: Interface and Analyzed simply do not report
// the contract, for callers to treat as a non-fatal per-contract diagnostic.
func (s *Session) Analyze(contractID, code string) (chainevent.ContractInterface, error) {
	iface, err := s.analyzer.Analyze(contractID, code)
	if err != nil {
		return chainevent.ContractInterface{}, err
	}
	s.analyzed[contractID] = iface
	return iface, nil
}

// Interface returns a previously saved interface for contractID.
func (s *Session) Interface(contractID string) (chainevent.ContractInterface, bool) {
	iface, ok := s.analyzed[contractID]
	return iface, ok
}

// Analyzed reports whether contractID has a saved interface in this
// session.
func (s *Session) Analyzed(contractID string) bool {
	_, ok := s.analyzed[contractID]
	return ok
}

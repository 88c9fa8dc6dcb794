package analysis

import (
	"fmt"
	"regexp"

	"github.com/hirosystems/orchestra-archive/internal/chainevent"
)

// BasicAnalyzer is a lightweight, regex-based Analyzer over Clarity source
// text. It recognizes the language's top-level define- forms and
// contract-call?/use-trait references to literal principals well enough to drive the
// dependency-resolution worklist and produce an interface, without
// implementing the language's type checker. Production deployments are
// expected to supply a real Analyzer backed by a full Clarity analysis
// pass; BasicAnalyzer exists so the protocol observer has a working
// collaborator out of the box.
type BasicAnalyzer struct{}

var (
	reDataVar  = regexp.MustCompile(`\(define-data-var\s+([\w-]+)`)
	reMap      = regexp.MustCompile(`\(define-map\s+([\w-]+)`)
	reFT       = regexp.MustCompile(`\(define-fungible-token\s+([\w-]+)`)
	reNFT      = regexp.MustCompile(`\(define-non-fungible-token\s+([\w-]+)`)
	reCallDep  = regexp.MustCompile(`\(contract-call\?\s+'([A-Za-z0-9]+\.[\w-]+)`)
	reTraitDep = regexp.MustCompile(`\(use-trait\s+[\w-]+\s+'([A-Za-z0-9]+\.[\w-]+)`)
)

// DetectDependencies scans code for contract-call? and use-trait forms that
// name a foreign contract principal.
func (BasicAnalyzer) DetectDependencies(contractID string, code string) ([]string, error) {
	seen := map[string]struct{}{}
	var deps []string
	add := func(id string) {
		if id == contractID {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}
	for _, m := range reCallDep.FindAllStringSubmatch(code, -1) {
		add(m[1])
	}
	for _, m := range reTraitDep.FindAllStringSubmatch(code, -1) {
		add(m[1])
	}
	return deps, nil
}

// Analyze builds a ContractInterface from the contract's top-level define-
// forms. It does not type-check expressions against dependency interfaces;
// it only catalogues the contract's own field names, which is what the
// query interface needs.
func (BasicAnalyzer) Analyze(contractID string, code string) (chainevent.ContractInterface, error) {
	iface := chainevent.ContractInterface{}
	for _, m := range reDataVar.FindAllStringSubmatch(code, -1) {
		iface.Variables = append(iface.Variables, chainevent.FieldSignature{Name: m[1], TypeSig: "unknown"})
	}
	for _, m := range reMap.FindAllStringSubmatch(code, -1) {
		iface.Maps = append(iface.Maps, chainevent.FieldSignature{Name: m[1], TypeSig: "unknown"})
	}
	for _, m := range reFT.FindAllStringSubmatch(code, -1) {
		iface.FungibleTokens = append(iface.FungibleTokens, chainevent.FieldSignature{Name: m[1], TypeSig: "uint"})
	}
	for _, m := range reNFT.FindAllStringSubmatch(code, -1) {
		iface.NonFungibleTokens = append(iface.NonFungibleTokens, chainevent.FieldSignature{Name: m[1], TypeSig: "unknown"})
	}
	if len(code) == 0 {
		return iface, fmt.Errorf("empty contract source for %s", contractID)
	}
	return iface, nil
}

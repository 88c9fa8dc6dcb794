package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicAnalyzerDetectDependencies(t *testing.T) {
	code := `
		(use-trait ft-trait 'SP000.trait-std.ft-trait)
		(define-public (swap)
			(contract-call? 'SP000.pool-v1 do-swap))
	`
	deps, err := BasicAnalyzer{}.DetectDependencies("SP000.router", code)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"SP000.trait-std", "SP000.pool-v1"}, deps)
}

func TestBasicAnalyzerInterface(t *testing.T) {
	code := `
		(define-data-var total-supply uint u0)
		(define-map balances principal uint)
		(define-fungible-token my-token)
		(define-non-fungible-token my-nft uint)
	`
	iface, err := BasicAnalyzer{}.Analyze("SP000.token", code)
	require.NoError(t, err)
	require.Len(t, iface.Variables, 1)
	require.Equal(t, "total-supply", iface.Variables[0].Name)
	require.Len(t, iface.Maps, 1)
	require.Len(t, iface.FungibleTokens, 1)
	require.Len(t, iface.NonFungibleTokens, 1)
}

func TestSessionSavesAnalyzedInterface(t *testing.T) {
	session := NewSession(BasicAnalyzer{})
	_, err := session.Analyze("SP000.token", "(define-data-var x uint u0)")
	require.NoError(t, err)
	require.True(t, session.Analyzed("SP000.token"))
	iface, ok := session.Interface("SP000.token")
	require.True(t, ok)
	require.Len(t, iface.Variables, 1)
}

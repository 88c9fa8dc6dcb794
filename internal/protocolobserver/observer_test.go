package protocolobserver

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirosystems/orchestra-archive/internal/analysis"
	"github.com/hirosystems/orchestra-archive/internal/chainevent"
	"github.com/hirosystems/orchestra-archive/internal/contractproc"
	"github.com/hirosystems/orchestra-archive/internal/coreerr"
)

type fakeChainSource struct {
	sources map[string]string
	tip     uint64
	blocks  map[uint64]chainevent.Block
	anchors map[string]chainevent.Block
}

func (f *fakeChainSource) LoadExecutionBlock(index uint64) (chainevent.Block, bool, error) {
	b, ok := f.blocks[index]
	return b, ok, nil
}

func (f *fakeChainSource) ExecutionTip() (uint64, bool, error) {
	return f.tip, true, nil
}

func (f *fakeChainSource) LoadAnchorBlockByHash(hash string) (chainevent.Block, bool, error) {
	b, ok := f.anchors[hash]
	return b, ok, nil
}

func (f *fakeChainSource) ContractSource(contractID string) (chainevent.ContractInstantiation, bool, error) {
	code, ok := f.sources[contractID]
	if !ok {
		return chainevent.ContractInstantiation{}, false, nil
	}
	return chainevent.ContractInstantiation{
		BlockIdentifier: chainevent.BlockIdentifier{Index: 0, Hash: "deploy"},
		Code:            code,
	}, true, nil
}

// orderRecordingAnalyzer wraps BasicAnalyzer and records the order in which
// contracts are analyzed.
type orderRecordingAnalyzer struct {
	analysis.BasicAnalyzer
	order *[]string
}

func (a orderRecordingAnalyzer) Analyze(contractID, code string) (chainevent.ContractInterface, error) {
	*a.order = append(*a.order, contractID)
	return a.BasicAnalyzer.Analyze(contractID, code)
}

// attachProcessor builds a contract processor the way the supervisor would
// and attaches it to obs, for tests that exercise query paths without going
// through a Supervisor.
func attachProcessor(t *testing.T, obs *Observer, chain ChainSource, contractID string) {
	t.Helper()
	iface, ok := obs.ContractInterface(contractID)
	require.True(t, ok)
	proc, err := contractproc.New(t.TempDir(), contractID, iface, chainevent.BlockIdentifier{Index: 0, Hash: "deploy"}, chain, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, proc.Rebuild())
	t.Cleanup(func() { proc.Close() })
	obs.AttachProcessor(contractID, proc)
}

func cfgFor(contractIDs ...string) chainevent.ProtocolObserverConfig {
	var regs []chainevent.ContractRegistration
	for _, id := range contractIDs {
		regs = append(regs, chainevent.ContractRegistration{ContractIdentifier: chainevent.ContractIdentifier(id)})
	}
	return chainevent.ProtocolObserverConfig{Identifier: 1, ProjectName: "test", Contracts: regs}
}

func TestBootstrapAnalyzesInDependencyOrder(t *testing.T) {
	chain := &fakeChainSource{sources: map[string]string{
		"SP000.base":   `(define-data-var count uint u0)`,
		"SP000.caller": `(define-public (go) (contract-call? 'SP000.base get-count))`,
	}}
	var order []string
	obs, err := Bootstrap(cfgFor("SP000.caller"), orderRecordingAnalyzer{order: &order}, chain, zap.NewNop())
	require.NoError(t, err)

	require.True(t, obs.session.Analyzed("SP000.base"))
	require.True(t, obs.session.Analyzed("SP000.caller"))
	require.Equal(t, []string{"SP000.base", "SP000.caller"}, order)
	require.Empty(t, obs.Diagnostics)
}

func TestBootstrapDetectsCycle(t *testing.T) {
	chain := &fakeChainSource{sources: map[string]string{
		"SP000.a": `(contract-call? 'SP000.b go)`,
		"SP000.b": `(contract-call? 'SP000.a go)`,
	}}
	_, err := Bootstrap(cfgFor("SP000.a"), analysis.BasicAnalyzer{}, chain, zap.NewNop())
	require.Error(t, err)
	var cyc *coreerr.CycleError
	require.ErrorAs(t, err, &cyc)
}

func TestGetFieldUnknownField(t *testing.T) {
	chain := &fakeChainSource{
		sources: map[string]string{"SP000.base": `(define-data-var count uint u0)`},
		blocks:  map[uint64]chainevent.Block{0: {BlockIdentifier: chainevent.BlockIdentifier{Index: 0, Hash: "deploy"}}},
	}
	obs, err := Bootstrap(cfgFor("SP000.base"), analysis.BasicAnalyzer{}, chain, zap.NewNop())
	require.NoError(t, err)
	attachProcessor(t, obs, chain, "SP000.base")

	_, err = obs.GetField("SP000.base", "does-not-exist")
	require.Error(t, err)
	var unk *coreerr.UnknownFieldError
	require.ErrorAs(t, err, &unk)

	fr, err := obs.GetField("SP000.base", "count")
	require.NoError(t, err)
	require.Equal(t, FieldVariable, fr.Category)
}

func TestGetFieldValuesReturnsTrailingBlocks(t *testing.T) {
	anchor := chainevent.Block{BlockIdentifier: chainevent.BlockIdentifier{Index: 5, Hash: "anchor-5"}}
	chain := &fakeChainSource{
		sources: map[string]string{"SP000.base": `(define-data-var count uint u0)`},
		tip:     2,
		blocks: map[uint64]chainevent.Block{
			0: {BlockIdentifier: chainevent.BlockIdentifier{Index: 0, Hash: "deploy"}},
			1: {BlockIdentifier: chainevent.BlockIdentifier{Index: 1, Hash: "exec-1"}},
			2: {
				BlockIdentifier: chainevent.BlockIdentifier{Index: 2, Hash: "exec-2"},
				ExecutionMeta:   &chainevent.ExecutionBlockMetadata{AnchorBlockIdentifier: anchor.BlockIdentifier},
			},
		},
		anchors: map[string]chainevent.Block{"anchor-5": anchor},
	}
	obs, err := Bootstrap(cfgFor("SP000.base"), analysis.BasicAnalyzer{}, chain, zap.NewNop())
	require.NoError(t, err)
	attachProcessor(t, obs, chain, "SP000.base")

	resp, err := obs.GetFieldValues("SP000.base", "count", chainevent.BlockIdentifier{Index: 0})
	require.NoError(t, err)
	require.Equal(t, FieldVariable, resp.Values.Category)
	require.Len(t, resp.StacksBlocks, 2)
	require.Equal(t, uint64(1), resp.StacksBlocks[0].BlockIdentifier.Index)
	require.Equal(t, uint64(2), resp.StacksBlocks[1].BlockIdentifier.Index)
	require.Len(t, resp.BitcoinBlocks, 1)
	require.Equal(t, "anchor-5", resp.BitcoinBlocks[0].BlockIdentifier.Hash)
}

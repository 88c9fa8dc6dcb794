package contractproc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirosystems/orchestra-archive/internal/chainevent"
	"github.com/hirosystems/orchestra-archive/internal/coreerr"
)

type fakeBlockSource struct {
	blocks map[uint64]chainevent.Block
	tip    uint64
	hasTip bool
}

func (f *fakeBlockSource) LoadExecutionBlock(index uint64) (chainevent.Block, bool, error) {
	b, ok := f.blocks[index]
	return b, ok, nil
}

func (f *fakeBlockSource) ExecutionTip() (uint64, bool, error) {
	return f.tip, f.hasTip, nil
}

func newTestProcessor(t *testing.T, contractID string) *Processor {
	t.Helper()
	iface := chainevent.ContractInterface{
		Variables:         []chainevent.FieldSignature{{Name: "count", TypeSig: "uint"}},
		Maps:              []chainevent.FieldSignature{{Name: "owners", TypeSig: "principal"}},
		FungibleTokens:    []chainevent.FieldSignature{{Name: "tok"}},
		NonFungibleTokens: []chainevent.FieldSignature{{Name: "nft"}},
	}
	src := &fakeBlockSource{blocks: map[uint64]chainevent.Block{}}
	p, err := New(t.TempDir(), contractID, iface, chainevent.BlockIdentifier{Index: 0, Hash: "deploy"}, src, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func blk(index uint64) chainevent.BlockIdentifier {
	return chainevent.BlockIdentifier{Index: index, Hash: "h" + string(rune('a'+index))}
}

func TestProcessBatchVarSetEventIndexing(t *testing.T) {
	contractID := "SP000.counter"
	p := newTestProcessor(t, contractID)

	tx := chainevent.Transaction{
		TransactionIdentifier: chainevent.TransactionIdentifier{Hash: "tx1"},
		Receipt: chainevent.Receipt{
			MutatedContractsRadius: map[chainevent.ContractIdentifier]struct{}{chainevent.ContractIdentifier(contractID): {}},
			Events: []chainevent.Event{
				{Kind: chainevent.EventDataVarSet, ContractIdentifier: chainevent.ContractIdentifier(contractID), VarName: "count", HexValue: "0100000000000000000000000000000065"},
			},
		},
	}
	_, err := p.ProcessBatch(blk(1), []chainevent.Transaction{tx})
	require.NoError(t, err)

	value, ok, err := p.VarValue("count")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0100000000000000000000000000000065", value)

	events, err := p.VarEvents("count")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, uint64(1), events[0].EventIndex)
}

func TestProcessBatchMapInsertUpdateDeleteOrdering(t *testing.T) {
	contractID := "SP000.registry"
	p := newTestProcessor(t, contractID)

	mk := func(kind chainevent.EventKind, hexValue string) chainevent.Event {
		return chainevent.Event{Kind: kind, ContractIdentifier: chainevent.ContractIdentifier(contractID), MapName: "owners", HexKey: "0xaa", HexValue: hexValue}
	}
	tx := chainevent.Transaction{
		TransactionIdentifier: chainevent.TransactionIdentifier{Hash: "tx1"},
		Receipt: chainevent.Receipt{
			MutatedContractsRadius: map[chainevent.ContractIdentifier]struct{}{chainevent.ContractIdentifier(contractID): {}},
			Events: []chainevent.Event{
				mk(chainevent.EventDataMapInsert, "0x01"),
				mk(chainevent.EventDataMapUpdate, "0x02"),
				mk(chainevent.EventDataMapDelete, ""),
			},
		},
	}
	_, err := p.ProcessBatch(blk(1), []chainevent.Transaction{tx})
	require.NoError(t, err)

	events, err := p.MapEvents("owners")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, uint64(1), events[0].EventIndex)
	require.Equal(t, uint64(2), events[1].EventIndex)
	require.Equal(t, uint64(3), events[2].EventIndex)

	entries, err := p.MapEntries("owners")
	require.NoError(t, err)
	require.Empty(t, entries, "the delete must win since it was the last operation on the key")
}

func TestProcessBatchFTTransferExpandsToBurnThenMint(t *testing.T) {
	contractID := "SP000.token"
	assetClassID := contractID + "::tok"
	p := newTestProcessor(t, contractID)

	events := []chainevent.Event{
		{Kind: chainevent.EventFTMint, AssetClassIdentifier: chainevent.AssetClassIdentifier(assetClassID), Recipient: "A", Amount: "100"},
		{Kind: chainevent.EventFTMint, AssetClassIdentifier: chainevent.AssetClassIdentifier(assetClassID), Recipient: "B", Amount: "50"},
		{Kind: chainevent.EventFTTransfer, AssetClassIdentifier: chainevent.AssetClassIdentifier(assetClassID), Sender: "A", Recipient: "B", Amount: "30"},
	}
	tx := chainevent.Transaction{
		TransactionIdentifier: chainevent.TransactionIdentifier{Hash: "tx1"},
		Receipt: chainevent.Receipt{
			MutatedContractsRadius: map[chainevent.ContractIdentifier]struct{}{},
			MutatedAssetsRadius:    map[chainevent.AssetClassIdentifier]struct{}{chainevent.AssetClassIdentifier(assetClassID): {}},
			Events:                 events,
		},
	}
	_, err := p.ProcessBatch(blk(1), []chainevent.Transaction{tx})
	require.NoError(t, err)

	log, err := p.FTEvents(assetClassID)
	require.NoError(t, err)
	require.Len(t, log, 4, "a transfer must expand into a burn entry and a mint entry")

	balances, err := p.FTBalances(assetClassID)
	require.NoError(t, err)
	require.Equal(t, "70", balances["A"])
	require.Equal(t, "80", balances["B"])
}

func TestProcessBatchFTBurnUnderflowIsFatal(t *testing.T) {
	contractID := "SP000.token"
	assetClassID := contractID + "::tok"
	p := newTestProcessor(t, contractID)

	tx := chainevent.Transaction{
		TransactionIdentifier: chainevent.TransactionIdentifier{Hash: "tx1"},
		Receipt: chainevent.Receipt{
			MutatedAssetsRadius: map[chainevent.AssetClassIdentifier]struct{}{chainevent.AssetClassIdentifier(assetClassID): {}},
			Events: []chainevent.Event{
				{Kind: chainevent.EventFTBurn, AssetClassIdentifier: chainevent.AssetClassIdentifier(assetClassID), Sender: "A", Amount: "5"},
			},
		},
	}
	_, err := p.ProcessBatch(blk(1), []chainevent.Transaction{tx})
	require.Error(t, err)
	var inv *coreerr.InvariantViolation
	require.ErrorAs(t, err, &inv)
}

func TestProcessBatchNFTBurnFromWrongOwnerIsFatal(t *testing.T) {
	contractID := "SP000.collectible"
	assetClassID := contractID + "::nft"
	p := newTestProcessor(t, contractID)

	mintTx := chainevent.Transaction{
		TransactionIdentifier: chainevent.TransactionIdentifier{Hash: "tx1"},
		Receipt: chainevent.Receipt{
			MutatedAssetsRadius: map[chainevent.AssetClassIdentifier]struct{}{chainevent.AssetClassIdentifier(assetClassID): {}},
			Events: []chainevent.Event{
				{Kind: chainevent.EventNFTMint, AssetClassIdentifier: chainevent.AssetClassIdentifier(assetClassID), Recipient: "A", HexAssetID: "0x01"},
			},
		},
	}
	_, err := p.ProcessBatch(blk(1), []chainevent.Transaction{mintTx})
	require.NoError(t, err)

	transferTx := chainevent.Transaction{
		TransactionIdentifier: chainevent.TransactionIdentifier{Hash: "tx2"},
		Receipt: chainevent.Receipt{
			MutatedAssetsRadius: map[chainevent.AssetClassIdentifier]struct{}{chainevent.AssetClassIdentifier(assetClassID): {}},
			Events: []chainevent.Event{
				{Kind: chainevent.EventNFTTransfer, AssetClassIdentifier: chainevent.AssetClassIdentifier(assetClassID), Sender: "A", Recipient: "B", HexAssetID: "0x01"},
			},
		},
	}
	_, err = p.ProcessBatch(blk(2), []chainevent.Transaction{transferTx})
	require.NoError(t, err)

	owners, err := p.NFTOwners(assetClassID)
	require.NoError(t, err)
	require.Equal(t, "B", owners["0x01"])

	// A no longer owns the asset; burning from A must fail fatally rather
	// than silently leaving B's ownership record untouched.
	badBurnTx := chainevent.Transaction{
		TransactionIdentifier: chainevent.TransactionIdentifier{Hash: "tx3"},
		Receipt: chainevent.Receipt{
			MutatedAssetsRadius: map[chainevent.AssetClassIdentifier]struct{}{chainevent.AssetClassIdentifier(assetClassID): {}},
			Events: []chainevent.Event{
				{Kind: chainevent.EventNFTBurn, AssetClassIdentifier: chainevent.AssetClassIdentifier(assetClassID), Sender: "A", HexAssetID: "0x01"},
			},
		},
	}
	_, err = p.ProcessBatch(blk(3), []chainevent.Transaction{badBurnTx})
	require.Error(t, err)
	var inv *coreerr.InvariantViolation
	require.ErrorAs(t, err, &inv)
}

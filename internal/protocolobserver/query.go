package protocolobserver

import (
	"github.com/hirosystems/orchestra-archive/internal/chainevent"
	"github.com/hirosystems/orchestra-archive/internal/contractproc"
	"github.com/hirosystems/orchestra-archive/internal/coreerr"
	"github.com/hirosystems/orchestra-archive/internal/valuecodec"
)

// FieldCategory tags which section of a ContractInterface a FieldReport
// came from.
type FieldCategory string

const (
	FieldVariable         FieldCategory = "variable"
	FieldMap              FieldCategory = "map"
	FieldFungibleToken     FieldCategory = "fungible_token"
	FieldNonFungibleToken FieldCategory = "non_fungible_token"
)

// FieldReport is the materialized state and event history of one field.
type FieldReport struct {
	Name       string
	Category   FieldCategory
	VarValue   string            // FieldVariable: decoded display form, "" if never set
	MapEntries map[string]string // FieldMap: hex key -> hex value
	Balances   map[string]string // FieldFungibleToken: owner -> decimal balance
	Owners     map[string]string // FieldNonFungibleToken: hex asset id -> owner
	Events     []contractproc.EventLogRecord
}

// FieldValuesResponse is the answer to a GetFieldValues query: one field's
// materialized value and event history, plus every execution-chain block
// after the caller's last-known block up to tip (and the distinct
// anchor-chain blocks those execution blocks are anchored to), so the
// caller can advance its local chain view in the same round trip.
type FieldValuesResponse struct {
	ContractIdentifier string
	FieldName          string
	Values             FieldReport
	StacksBlocks       []chainevent.Block
	BitcoinBlocks      []chainevent.Block
}

// GetFieldValues answers a single field-value query: it resolves fieldName
// against contractID's interface via GetField, then attaches every
// execution-chain block with index greater than
// stacksBlockIdentifier.Index up to the current tip, plus the distinct
// anchor-chain blocks those execution blocks were anchored to, so a caller
// can catch up its local chain view without a second round trip.
func (o *Observer) GetFieldValues(contractID, fieldName string, stacksBlockIdentifier chainevent.BlockIdentifier) (*FieldValuesResponse, error) {
	field, err := o.GetField(contractID, fieldName)
	if err != nil {
		return nil, err
	}

	stacksBlocks, err := o.trailingExecutionBlocks(stacksBlockIdentifier.Index)
	if err != nil {
		return nil, err
	}
	bitcoinBlocks, err := o.anchorBlocksFor(stacksBlocks)
	if err != nil {
		return nil, err
	}

	return &FieldValuesResponse{
		ContractIdentifier: contractID,
		FieldName:          fieldName,
		Values:             *field,
		StacksBlocks:       stacksBlocks,
		BitcoinBlocks:      bitcoinBlocks,
	}, nil
}

// trailingExecutionBlocks returns every execution-chain block with index
// greater than afterIndex up to the current tip, in ascending order.
func (o *Observer) trailingExecutionBlocks(afterIndex uint64) ([]chainevent.Block, error) {
	tip, ok, err := o.chain.ExecutionTip()
	if err != nil {
		return nil, err
	}
	if !ok || tip <= afterIndex {
		return nil, nil
	}
	var out []chainevent.Block
	for index := afterIndex + 1; index <= tip; index++ {
		block, found, err := o.chain.LoadExecutionBlock(index)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, block)
	}
	return out, nil
}

// anchorBlocksFor resolves the distinct anchor-chain blocks a set of
// execution-chain blocks were anchored to, in first-referenced order.
func (o *Observer) anchorBlocksFor(stacksBlocks []chainevent.Block) ([]chainevent.Block, error) {
	var out []chainevent.Block
	seen := map[string]bool{}
	for _, b := range stacksBlocks {
		if b.ExecutionMeta == nil {
			continue
		}
		hash := b.ExecutionMeta.AnchorBlockIdentifier.Hash
		if hash == "" || seen[hash] {
			continue
		}
		anchor, found, err := o.chain.LoadAnchorBlockByHash(hash)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		seen[hash] = true
		out = append(out, anchor)
	}
	return out, nil
}

// GetField returns a single named field, scanning in the same fixed order
// as GetFieldValues (variables, maps, non-fungible tokens, fungible
// tokens), so that a name colliding across categories resolves to the
// earlier category. Returns UnknownFieldError if no field of that name
// exists in the contract's interface.
func (o *Observer) GetField(contractID, fieldName string) (*FieldReport, error) {
	proc, ok := o.processors[contractID]
	if !ok {
		return nil, &coreerr.MissingContractSourceError{ContractID: contractID}
	}
	iface, err := proc.ReadInterface()
	if err != nil {
		return nil, err
	}

	for _, v := range iface.Variables {
		if v.Name == fieldName {
			fr, err := varReport(proc, v.Name)
			return &fr, err
		}
	}
	for _, m := range iface.Maps {
		if m.Name == fieldName {
			fr, err := mapReport(proc, m.Name)
			return &fr, err
		}
	}
	for _, n := range iface.NonFungibleTokens {
		if n.Name == fieldName {
			fr, err := nftReport(proc, n.Name, contractID+"::"+n.Name)
			return &fr, err
		}
	}
	for _, f := range iface.FungibleTokens {
		if f.Name == fieldName {
			fr, err := ftReport(proc, f.Name, contractID+"::"+f.Name)
			return &fr, err
		}
	}
	return nil, &coreerr.UnknownFieldError{ContractID: contractID, FieldName: fieldName}
}

func varReport(proc *contractproc.Processor, name string) (FieldReport, error) {
	value, found, err := proc.VarValue(name)
	if err != nil {
		return FieldReport{}, err
	}
	if found {
		decoded, err := valuecodec.Decode(value)
		if err != nil {
			return FieldReport{}, &coreerr.MalformedEventError{Context: "decode var value", Err: err}
		}
		value = valuecodec.CanonicalString(decoded)
	}
	events, err := proc.VarEvents(name)
	if err != nil {
		return FieldReport{}, err
	}
	return FieldReport{Name: name, Category: FieldVariable, VarValue: value, Events: events}, nil
}

func mapReport(proc *contractproc.Processor, name string) (FieldReport, error) {
	entries, err := proc.MapEntries(name)
	if err != nil {
		return FieldReport{}, err
	}
	events, err := proc.MapEvents(name)
	if err != nil {
		return FieldReport{}, err
	}
	return FieldReport{Name: name, Category: FieldMap, MapEntries: entries, Events: events}, nil
}

func nftReport(proc *contractproc.Processor, name, assetClassID string) (FieldReport, error) {
	owners, err := proc.NFTOwners(assetClassID)
	if err != nil {
		return FieldReport{}, err
	}
	events, err := proc.NFTEvents(assetClassID)
	if err != nil {
		return FieldReport{}, err
	}
	return FieldReport{Name: name, Category: FieldNonFungibleToken, Owners: owners, Events: events}, nil
}

func ftReport(proc *contractproc.Processor, name, assetClassID string) (FieldReport, error) {
	balances, err := proc.FTBalances(assetClassID)
	if err != nil {
		return FieldReport{}, err
	}
	events, err := proc.FTEvents(assetClassID)
	if err != nil {
		return FieldReport{}, err
	}
	return FieldReport{Name: name, Category: FieldFungibleToken, Balances: balances, Events: events}, nil
}

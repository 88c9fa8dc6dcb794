// Package contractproc implements the contract processor: a per-contract
// state machine that rebuilds its materialized view and event log from
// history on start, then applies new transaction batches incrementally.
// Each Processor exclusively owns one contract's database directory.
package contractproc

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hirosystems/orchestra-archive/internal/actor"
	"github.com/hirosystems/orchestra-archive/internal/chainevent"
	"github.com/hirosystems/orchestra-archive/internal/coreerr"
	"github.com/hirosystems/orchestra-archive/internal/kvstore"
	"github.com/hirosystems/orchestra-archive/internal/metrics"
	"github.com/hirosystems/orchestra-archive/internal/valuecodec"
)

// BlockSource is the read-only view of the execution chain the processor
// needs for state rebuild: load a block by index, and read the current
// tip.
type BlockSource interface {
	LoadExecutionBlock(index uint64) (chainevent.Block, bool, error)
	ExecutionTip() (index uint64, ok bool, err error)
}

// NotifiedEvent pairs a transaction identifier with a SmartContract event
// emitted by that transaction, the payload of a BatchProcessed signal.
type NotifiedEvent struct {
	TransactionIdentifier chainevent.TransactionIdentifier
	Event                 chainevent.SmartContractEvent
}

// Processor is the per-contract actor. It is the sole writer to its own
// contracts/<contract_id>/ database.
type Processor struct {
	contractID      string
	deploymentBlock chainevent.BlockIdentifier
	iface           chainevent.ContractInterface
	store           *kvstore.Store
	blocks          BlockSource
	logger          *zap.Logger
	tasks           *actor.Mailbox[task]
	metrics         *metrics.Registry // nil until SetMetrics is called
}

type task struct {
	fn   func() (interface{}, error)
	done chan result
}

type result struct {
	value interface{}
	err   error
}

// New opens (or creates) the contract's database under
// workingDir/contracts/<contract_id>/ and starts its mailbox goroutine. It
// does not perform the state rebuild; callers must call Rebuild
// explicitly, mirroring the archive's separation between construction and
// on_start.
func New(workingDir, contractID string, iface chainevent.ContractInterface, deploymentBlock chainevent.BlockIdentifier, blocks BlockSource, logger *zap.Logger) (*Processor, error) {
	store, err := kvstore.Open(filepath.Join(workingDir, "contracts", contractID), logger)
	if err != nil {
		return nil, &coreerr.StorageError{Op: "open contract db for " + contractID, Err: err}
	}
	p := &Processor{
		contractID:      contractID,
		deploymentBlock: deploymentBlock,
		iface:           iface,
		store:           store,
		blocks:          blocks,
		logger:          logger,
	}
	p.tasks = actor.NewMailbox(32, func(t task) {
		v, err := t.fn()
		t.done <- result{value: v, err: err}
	})
	return p, nil
}

// SetMetrics attaches a metrics registry the processor reports batch,
// event, and invariant-violation counters to.
func (p *Processor) SetMetrics(reg *metrics.Registry) { p.metrics = reg }

func (p *Processor) submit(fn func() (interface{}, error)) (interface{}, error) {
	t := task{fn: fn, done: make(chan result, 1)}
	p.tasks.Tell(t)
	r := <-t.done
	return r.value, r.err
}

// Close stops the mailbox and closes the underlying database.
func (p *Processor) Close() error {
	p.tasks.Stop()
	return p.store.Close()
}

// ContractID returns the identifier this processor owns.
func (p *Processor) ContractID() string { return p.contractID }

// Interface returns the contract's persisted interface, as held in memory
// since construction.
func (p *Processor) Interface() chainevent.ContractInterface { return p.iface }

// ReadInterface re-reads the contract's interface record from its database,
// bypassing the in-memory copy. Query paths use this rather than Interface
// so that a query always reflects the database a concurrent rebuild may
// have just rewritten, never a cache that could be stale mid-rebuild.
func (p *Processor) ReadInterface() (chainevent.ContractInterface, error) {
	raw, ok, err := p.store.Get(kvstore.ContractInterfaceKey(p.contractID))
	if err != nil {
		return chainevent.ContractInterface{}, &coreerr.StorageError{Op: "read interface", Err: err}
	}
	if !ok {
		return chainevent.ContractInterface{}, &coreerr.StorageError{Op: "read interface", Err: fmt.Errorf("no interface recorded for %s", p.contractID)}
	}
	var iface chainevent.ContractInterface
	if err := json.Unmarshal(raw, &iface); err != nil {
		return chainevent.ContractInterface{}, &coreerr.MalformedEventError{Context: "decode interface", Err: err}
	}
	return iface, nil
}

// Rebuild drops and recreates the contract's database, writes its
// interface, then replays every historical block from the deployment block
// to the current execution-chain tip, applying this contract's batches in
// order.
func (p *Processor) Rebuild() error {
	_, err := p.submit(func() (interface{}, error) {
		return nil, p.rebuild()
	})
	return err
}

func (p *Processor) rebuild() error {
	if err := p.store.DropAll(); err != nil {
		return &coreerr.StorageError{Op: "drop contract db", Err: err}
	}
	ifaceBytes, err := json.Marshal(p.iface)
	if err != nil {
		return &coreerr.MalformedEventError{Context: "encode interface", Err: err}
	}
	if err := p.store.Put(kvstore.ContractInterfaceKey(p.contractID), ifaceBytes); err != nil {
		return &coreerr.StorageError{Op: "write interface", Err: err}
	}
	tip, ok, err := p.blocks.ExecutionTip()
	if err != nil {
		return err
	}
	if !ok || tip < p.deploymentBlock.Index {
		return nil
	}
	for index := p.deploymentBlock.Index; index <= tip; index++ {
		block, ok, err := p.blocks.LoadExecutionBlock(index)
		if err != nil {
			return err
		}
		if !ok {
			return &coreerr.InvariantViolation{Invariant: "I1", Detail: fmt.Sprintf("missing block at expected index %d", index)}
		}
		batch := filterMutatingTransactions(block.Transactions, p.contractID)
		if len(batch) == 0 {
			continue
		}
		if _, err := p.applyBatch(block.BlockIdentifier, batch); err != nil {
			return err
		}
	}
	return nil
}

func filterMutatingTransactions(txs []chainevent.Transaction, contractID string) []chainevent.Transaction {
	var out []chainevent.Transaction
	for _, tx := range txs {
		if _, ok := tx.Receipt.MutatedContractsRadius[chainevent.ContractIdentifier(contractID)]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// ProcessBatch applies an ordered list of transactions belonging to one
// block to this contract's state, and returns the SmartContract
// notifications produced, in order. It is deterministic and
// order-preserving: transactions are iterated in list order, and within
// each transaction events are iterated in receipt order, with a single
// event_index counter monotonically increasing across the whole batch
// (starting at 1, matching the archive's one-based numbering).
func (p *Processor) ProcessBatch(blockID chainevent.BlockIdentifier, txs []chainevent.Transaction) ([]NotifiedEvent, error) {
	v, err := p.submit(func() (interface{}, error) {
		return p.applyBatch(blockID, txs)
	})
	if err != nil {
		return nil, err
	}
	return v.([]NotifiedEvent), nil
}

// RollbackBatch deletes event records for blockID.Index and reverses the
// materialized state by dropping and replaying the event log from
// deployment to blockID.Index-1, per the rollback policy of the contract
// processor design (not fully specified by the archive; implemented here
// as delete-then-replay, not an inverse-event optimization).
func (p *Processor) RollbackBatch(blockID chainevent.BlockIdentifier) error {
	_, err := p.submit(func() (interface{}, error) {
		return nil, p.rollback(blockID)
	})
	return err
}

func (p *Processor) rollback(blockID chainevent.BlockIdentifier) error {
	// Replay is equivalent to a full rebuild bounded at blockID.Index-1: the
	// contract processor has no durable notion of "state as of block N"
	// other than replaying the event-producing transactions up to N, so we
	// reuse the rebuild path with an adjusted upper bound.
	if err := p.store.DropAll(); err != nil {
		return &coreerr.StorageError{Op: "drop contract db for rollback", Err: err}
	}
	ifaceBytes, err := json.Marshal(p.iface)
	if err != nil {
		return &coreerr.MalformedEventError{Context: "encode interface", Err: err}
	}
	if err := p.store.Put(kvstore.ContractInterfaceKey(p.contractID), ifaceBytes); err != nil {
		return &coreerr.StorageError{Op: "write interface", Err: err}
	}
	if blockID.Index == 0 || blockID.Index-1 < p.deploymentBlock.Index {
		return nil
	}
	upper := blockID.Index - 1
	for index := p.deploymentBlock.Index; index <= upper; index++ {
		block, ok, err := p.blocks.LoadExecutionBlock(index)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		batch := filterMutatingTransactions(block.Transactions, p.contractID)
		if len(batch) == 0 {
			continue
		}
		if _, err := p.applyBatch(block.BlockIdentifier, batch); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) matchesContract(e chainevent.Event) bool {
	switch e.Kind {
	case chainevent.EventDataVarSet, chainevent.EventDataMapInsert, chainevent.EventDataMapUpdate,
		chainevent.EventDataMapDelete, chainevent.EventSmartContract:
		return string(e.ContractIdentifier) == p.contractID
	case chainevent.EventFTMint, chainevent.EventFTBurn, chainevent.EventFTTransfer,
		chainevent.EventNFTMint, chainevent.EventNFTBurn, chainevent.EventNFTTransfer:
		owner, ok := e.AssetClassIdentifier.ContractID()
		return ok && string(owner) == p.contractID
	default:
		return false
	}
}

// expand splits a transfer event into its burn-then-mint constituent
// sub-events, per the state-transition table; all other kinds pass through
// unchanged. Each returned sub-event consumes its own event-log entry and
// its own event_index, matching the archive's observed event-log length
// for transfers.
func expand(e chainevent.Event) []chainevent.Event {
	switch e.Kind {
	case chainevent.EventFTTransfer:
		return []chainevent.Event{
			{Kind: chainevent.EventFTBurn, AssetClassIdentifier: e.AssetClassIdentifier, Sender: e.Sender, Amount: e.Amount},
			{Kind: chainevent.EventFTMint, AssetClassIdentifier: e.AssetClassIdentifier, Recipient: e.Recipient, Amount: e.Amount},
		}
	case chainevent.EventNFTTransfer:
		return []chainevent.Event{
			{Kind: chainevent.EventNFTBurn, AssetClassIdentifier: e.AssetClassIdentifier, Sender: e.Sender, HexAssetID: e.HexAssetID},
			{Kind: chainevent.EventNFTMint, AssetClassIdentifier: e.AssetClassIdentifier, Recipient: e.Recipient, HexAssetID: e.HexAssetID},
		}
	default:
		return []chainevent.Event{e}
	}
}

// EventLogRecord is the JSON shape persisted under an "#events::" key.
type EventLogRecord struct {
	BlockIdentifier chainevent.BlockIdentifier `json:"block_identifier"`
	EventIndex      uint64                     `json:"event_index"`
	Event           chainevent.Event           `json:"event"`
}

func (p *Processor) applyBatch(blockID chainevent.BlockIdentifier, txs []chainevent.Transaction) ([]NotifiedEvent, error) {
	var writes []kvstore.KV
	var deletes [][]byte
	var notifications []NotifiedEvent

	varPending := map[string][]byte{}
	mapPending := map[string]mapOp{}
	ftWorking := map[string]string{} // FTBalanceKey string -> working decimal balance
	ftTouched := map[string]string{} // asset class id, for logging context only
	nftWorking := map[string]*string{} // NFTOwnerKey string -> working owner, nil == absent

	loadFT := func(key []byte) (string, error) {
		ks := string(key)
		if v, ok := ftWorking[ks]; ok {
			return v, nil
		}
		raw, ok, err := p.store.Get(key)
		if err != nil {
			return "", &coreerr.StorageError{Op: "read ft balance", Err: err}
		}
		if !ok {
			return "0", nil
		}
		return string(raw), nil
	}
	loadNFTOwner := func(key []byte) (*string, error) {
		ks := string(key)
		if v, ok := nftWorking[ks]; ok {
			return v, nil
		}
		raw, ok, err := p.store.Get(key)
		if err != nil {
			return nil, &coreerr.StorageError{Op: "read nft owner", Err: err}
		}
		if !ok {
			return nil, nil
		}
		var rec nftOwnerRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &coreerr.MalformedEventError{Context: "decode nft owner record", Err: err}
		}
		return &rec.Owner, nil
	}

	eventIndex := uint64(1)

	for _, tx := range txs {
		for _, rawEvent := range tx.Receipt.Events {
			if !p.matchesContract(rawEvent) {
				continue
			}
			for _, sub := range expand(rawEvent) {
				if sub.Kind == chainevent.EventSmartContract {
					notifications = append(notifications, NotifiedEvent{
						TransactionIdentifier: tx.TransactionIdentifier,
						Event: chainevent.SmartContractEvent{
							ContractIdentifier: sub.ContractIdentifier,
							Topic:              sub.Topic,
							HexValue:           sub.HexValue,
						},
					})
					continue
				}

				logKey, logOK := eventLogKey(p.contractID, sub, blockID.Index, eventIndex)
				if logOK {
					rec := EventLogRecord{BlockIdentifier: blockID, EventIndex: eventIndex, Event: sub}
					recBytes, err := json.Marshal(rec)
					if err != nil {
						return nil, &coreerr.MalformedEventError{Context: "encode event log record", Err: err}
					}
					writes = append(writes, kvstore.KV{Key: logKey, Value: recBytes})
					eventIndex++
					if p.metrics != nil {
						p.metrics.EventsAppended.WithLabelValues(eventKindLabel(sub.Kind)).Inc()
					}
				}

				switch sub.Kind {
				case chainevent.EventDataVarSet:
					varPending[string(kvstore.VarKey(p.contractID, sub.VarName))] = []byte(sub.HexValue)

				case chainevent.EventDataMapInsert, chainevent.EventDataMapUpdate:
					k := kvstore.MapEntryKey(p.contractID, sub.MapName, []byte(sub.HexKey))
					mapPending[string(k)] = mapOp{key: k, value: []byte(sub.HexValue)}

				case chainevent.EventDataMapDelete:
					k := kvstore.MapEntryKey(p.contractID, sub.MapName, []byte(sub.HexKey))
					mapPending[string(k)] = mapOp{key: k, deleted: true}

				case chainevent.EventFTMint:
					k := kvstore.FTBalanceKey(string(sub.AssetClassIdentifier), sub.Recipient)
					cur, err := loadFT(k)
					if err != nil {
						return nil, err
					}
					next, err := valuecodec.AddBalance(cur, sub.Amount)
					if err != nil {
						return nil, &coreerr.MalformedEventError{Context: "ft mint amount", Err: err}
					}
					ftWorking[string(k)] = next
					ftTouched[string(k)] = string(sub.AssetClassIdentifier)

				case chainevent.EventFTBurn:
					k := kvstore.FTBalanceKey(string(sub.AssetClassIdentifier), sub.Sender)
					cur, err := loadFT(k)
					if err != nil {
						return nil, err
					}
					next, ok, err := valuecodec.SubBalance(cur, sub.Amount)
					if err != nil {
						return nil, &coreerr.MalformedEventError{Context: "ft burn amount", Err: err}
					}
					if !ok {
						if p.metrics != nil {
							p.metrics.InvariantViolations.Inc()
						}
						return nil, &coreerr.InvariantViolation{
							Invariant: "FT balance non-negative",
							Detail:    fmt.Sprintf("burn of %s from %s exceeds balance %s on asset %s", sub.Amount, sub.Sender, cur, sub.AssetClassIdentifier),
						}
					}
					ftWorking[string(k)] = next
					ftTouched[string(k)] = string(sub.AssetClassIdentifier)

				case chainevent.EventNFTMint:
					k := kvstore.NFTOwnerKey(string(sub.AssetClassIdentifier), []byte(sub.HexAssetID))
					owner := sub.Recipient
					nftWorking[string(k)] = &owner

				case chainevent.EventNFTBurn:
					k := kvstore.NFTOwnerKey(string(sub.AssetClassIdentifier), []byte(sub.HexAssetID))
					cur, err := loadNFTOwner(k)
					if err != nil {
						return nil, err
					}
					if cur == nil || *cur != sub.Sender {
						if p.metrics != nil {
							p.metrics.InvariantViolations.Inc()
						}
						return nil, &coreerr.InvariantViolation{
							Invariant: "NFT ownership",
							Detail:    fmt.Sprintf("burn of asset %s id %s from %s: no matching owner record", sub.AssetClassIdentifier, sub.HexAssetID, sub.Sender),
						}
					}
					nftWorking[string(k)] = nil

				case chainevent.EventSTXMint, chainevent.EventSTXBurn, chainevent.EventSTXTransfer, chainevent.EventSTXLock:
					// Tracked via the event log only (if it carried a key,
					// which it does not here); no materialized state.
				}
			}
		}
	}

	for k, v := range varPending {
		writes = append(writes, kvstore.KV{Key: []byte(k), Value: v})
	}
	for _, op := range mapPending {
		if op.deleted {
			deletes = append(deletes, op.key)
		} else {
			writes = append(writes, kvstore.KV{Key: op.key, Value: op.value})
		}
	}
	for k, v := range ftWorking {
		writes = append(writes, kvstore.KV{Key: []byte(k), Value: []byte(v)})
	}
	for k, owner := range nftWorking {
		if owner == nil {
			deletes = append(deletes, []byte(k))
			continue
		}
		recBytes, err := json.Marshal(nftOwnerRecord{Owner: *owner})
		if err != nil {
			return nil, &coreerr.MalformedEventError{Context: "encode nft owner record", Err: err}
		}
		writes = append(writes, kvstore.KV{Key: []byte(k), Value: recBytes})
	}

	if err := p.store.PutBatch(writes, deletes); err != nil {
		return nil, &coreerr.StorageError{Op: "commit batch", Err: err}
	}
	if p.metrics != nil {
		p.metrics.BatchesProcessed.Inc()
	}
	return notifications, nil
}

func eventKindLabel(kind chainevent.EventKind) string {
	switch kind {
	case chainevent.EventDataVarSet:
		return "data_var_set"
	case chainevent.EventDataMapInsert:
		return "data_map_insert"
	case chainevent.EventDataMapUpdate:
		return "data_map_update"
	case chainevent.EventDataMapDelete:
		return "data_map_delete"
	case chainevent.EventFTMint:
		return "ft_mint"
	case chainevent.EventFTBurn:
		return "ft_burn"
	case chainevent.EventNFTMint:
		return "nft_mint"
	case chainevent.EventNFTBurn:
		return "nft_burn"
	default:
		return "other"
	}
}

type mapOp struct {
	key     []byte
	deleted bool
	value   []byte
}

type nftOwnerRecord struct {
	Owner string `json:"owner"`
}

func eventLogKey(contractID string, e chainevent.Event, blockIndex, eventIndex uint64) ([]byte, bool) {
	switch e.Kind {
	case chainevent.EventDataVarSet:
		return kvstore.VarEventKey(contractID, e.VarName, blockIndex, eventIndex), true
	case chainevent.EventDataMapInsert, chainevent.EventDataMapUpdate, chainevent.EventDataMapDelete:
		return kvstore.MapEventKey(contractID, e.MapName, blockIndex, eventIndex), true
	case chainevent.EventFTMint, chainevent.EventFTBurn:
		return kvstore.FTEventKey(string(e.AssetClassIdentifier), blockIndex, eventIndex), true
	case chainevent.EventNFTMint, chainevent.EventNFTBurn:
		return kvstore.NFTEventKey(string(e.AssetClassIdentifier), blockIndex, eventIndex), true
	default:
		return nil, false
	}
}

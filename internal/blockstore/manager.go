// Package blockstore implements the block store manager: the sole writer
// to the anchor-chain and execution-chain block databases, responsible for
// archival, chain-tip bookkeeping, microblock-trail coalescing into the
// parent execution block, and rollback-by-delete on reorg.
package blockstore

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
)

// Manager owns the "bitcoin" (anchor) and "stacks" (execution) databases.
// All access is funneled through a single mailbox goroutine so that, even
// though archival and rollback are exposed as ordinary blocking methods,
// the single-writer-per-database discipline required by the concurrency
// model always holds.
type Manager struct {
	anchor  *kvstore.Store
	exec    *kvstore.Store
	logger  *zap.Logger
	tasks   *actor.Mailbox[task]
	metrics *metrics.Registry // nil until SetMetrics is called
}

type task struct {
	fn   func() error
	done chan error
}

// NewManager opens (or creates) the bitcoin/ and stacks/ databases under
// workingDir and starts the manager's mailbox goroutine.
func NewManager(workingDir string, logger *zap.Logger) (*Manager, error) {
	anchor, err := kvstore.Open(filepath.Join(workingDir, "bitcoin"), logger)
	if err != nil {
		return nil, &coreerr.StorageError{Op: "open anchor db", Err: err}
	}
	exec, err := kvstore.Open(filepath.Join(workingDir, "stacks"), logger)
	if err != nil {
		anchor.Close()
		return nil, &coreerr.StorageError{Op: "open execution db", Err: err}
	}
	m := &Manager{anchor: anchor, exec: exec, logger: logger}
	m.tasks = actor.NewMailbox(64, func(t task) { t.done <- t.fn() })
	return m, nil
}

// SetMetrics attaches a metrics registry the manager reports archival and
// rollback counters to. Optional: a Manager with no registry attached
// simply skips recording.
func (m *Manager) SetMetrics(reg *metrics.Registry) { m.metrics = reg }

func (m *Manager) submit(fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	m.tasks.Tell(t)
	return <-t.done
}

// Close stops the mailbox and closes both underlying databases.
func (m *Manager) Close() error {
	m.tasks.Stop()
	if err := m.anchor.Close(); err != nil {
		return err
	}
	return m.exec.Close()
}

// ExecutionDB exposes a read handle to the execution-chain database. The
// contract processor and protocol observer do not use it; they read through
// the Manager's LoadExecutionBlock, ExecutionTip and ContractSource methods.
// The manager remains the sole writer.
func (m *Manager) ExecutionDB() *kvstore.Store { return m.exec }

// ArchiveAnchorBlock persists an anchor-chain block and advances the tip.
// Idempotent on identical input: re-archiving the same block overwrites the
// same keys with the same values.
func (m *Manager) ArchiveAnchorBlock(block chainevent.Block) error {
	return m.submit(func() error {
		if err := m.archiveBlock(m.anchor, block, nil); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.AnchorBlocksArchived.Inc()
		}
		return nil
	})
}

// RollbackAnchorBlocks deletes the named anchor blocks by hash. Per the
// design, this does not automatically reverse any derived state or adjust
// the tip pointer; callers needing a consistent tip after a rollback must
// archive replacement blocks immediately afterward.
func (m *Manager) RollbackAnchorBlocks(ids []chainevent.BlockIdentifier) error {
	return m.submit(func() error {
		if err := m.rollbackBlocks(m.anchor, ids); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.Rollbacks.Inc()
		}
		return nil
	})
}

// ArchiveExecutionBlock persists an execution-chain block. If trail is
// non-nil, its microblocks' transactions are first appended, in trail
// order, to the *previously stored* parent block (identified by
// block.ParentBlockIdentifier), and the parent's stored bytes are
// rewritten — before the new block's own contract-deployment extraction and
// its own hash/index/tip writes. This ordering governs whether a contract
// deployed inside a microblock is visible under the parent's or the new
// block's stored transaction list, per the design notes' audit warning.
func (m *Manager) ArchiveExecutionBlock(block chainevent.Block, trail *chainevent.MicroblockTrail) error {
	return m.submit(func() error {
		if trail != nil {
			if err := m.coalesceTrailIntoParent(block.ParentBlockIdentifier, *trail); err != nil {
				return err
			}
		}
		if err := m.archiveBlock(m.exec, block, extractDeployments); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.ExecutionBlocksArchived.Inc()
		}
		return nil
	})
}

// RollbackExecutionBlocks deletes the named execution blocks by hash.
func (m *Manager) RollbackExecutionBlocks(ids []chainevent.BlockIdentifier) error {
	return m.submit(func() error {
		if err := m.rollbackBlocks(m.exec, ids); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.Rollbacks.Inc()
		}
		return nil
	})
}

// ArchiveMicroblock persists a single microblock, extracts any contract
// deployments it carries, and advances the microblock tip.
func (m *Manager) ArchiveMicroblock(mb chainevent.Microblock) error {
	return m.submit(func() error {
		if err := m.archiveMicroblock(mb); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.MicroblocksArchived.Inc()
		}
		return nil
	})
}

// RollbackMicroblocks deletes the named microblocks' stored records, which
// ArchiveMicroblock keys by microblock index, so each identifier's Index
// (not its Hash) selects the record removed.
func (m *Manager) RollbackMicroblocks(ids []chainevent.BlockIdentifier) error {
	return m.submit(func() error {
		for _, id := range ids {
			if err := m.exec.Delete([]byte(fmt.Sprintf("~:%d", id.Index))); err != nil {
				return &coreerr.StorageError{Op: "rollback delete microblock", Err: err}
			}
		}
		if m.metrics != nil {
			m.metrics.Rollbacks.Inc()
		}
		return nil
	})
}

// LoadExecutionBlock reads a single execution-chain block by its index,
// via the index -> hash -> block chain of keys. ok is false if no block is
// stored at that index.
func (m *Manager) LoadExecutionBlock(index uint64) (block chainevent.Block, ok bool, err error) {
	return loadBlockByIndex(m.exec, index)
}

// LoadExecutionBlockByHash reads a single execution-chain block by hash.
func (m *Manager) LoadExecutionBlockByHash(hash string) (block chainevent.Block, ok bool, err error) {
	return loadBlockByHash(m.exec, hash)
}

// LoadAnchorBlockByHash reads a single anchor-chain block by hash, used by
// the protocol observer's field-value query to resolve the bitcoin_blocks an
// execution-chain block is anchored to.
func (m *Manager) LoadAnchorBlockByHash(hash string) (block chainevent.Block, ok bool, err error) {
	return loadBlockByHash(m.anchor, hash)
}

// ExecutionTip returns the current execution-chain tip index. ok is false
// if no block has ever been archived.
func (m *Manager) ExecutionTip() (index uint64, ok bool, err error) {
	return readTip(m.exec, kvstore.TipKey())
}

// AnchorTip returns the current anchor-chain tip index.
func (m *Manager) AnchorTip() (index uint64, ok bool, err error) {
	return readTip(m.anchor, kvstore.TipKey())
}

// ContractSource reads a contract's deployment snapshot from the
// execution-chain database, the input the protocol observer's dependency
// discovery and analysis pipeline reads contract source code from.
func (m *Manager) ContractSource(contractID string) (chainevent.ContractInstantiation, bool, error) {
	raw, ok, err := m.exec.Get(kvstore.ContractSourceKey(contractID))
	if err != nil {
		return chainevent.ContractInstantiation{}, false, &coreerr.StorageError{Op: "read contract source", Err: err}
	}
	if !ok {
		return chainevent.ContractInstantiation{}, false, nil
	}
	var inst chainevent.ContractInstantiation
	if err := json.Unmarshal(raw, &inst); err != nil {
		return chainevent.ContractInstantiation{}, false, &coreerr.MalformedEventError{Context: "decode contract instantiation", Err: err}
	}
	return inst, true, nil
}

func readTip(db *kvstore.Store, key []byte) (uint64, bool, error) {
	v, ok, err := db.Get(key)
	if err != nil {
		return 0, false, &coreerr.StorageError{Op: "read tip", Err: err}
	}
	if !ok {
		return 0, false, nil
	}
	return kvstore.DecodeUint64(v), true, nil
}

func (m *Manager) coalesceTrailIntoParent(parentID chainevent.BlockIdentifier, trail chainevent.MicroblockTrail) error {
	parent, ok, err := loadBlockByHash(m.exec, parentID.Hash)
	if err != nil {
		return err
	}
	if !ok {
		return &coreerr.MalformedEventError{Context: "coalesce microblock trail", Err: fmt.Errorf("parent block %s not found", parentID.Hash)}
	}
	for _, mb := range trail.Microblocks {
		parent.Transactions = append(parent.Transactions, mb.Transactions...)
	}
	blockBytes, err := json.Marshal(parent)
	if err != nil {
		return &coreerr.MalformedEventError{Context: "coalesce microblock trail", Err: err}
	}
	if err := m.exec.Put(kvstore.HashKey(parentID.Hash), blockBytes); err != nil {
		return &coreerr.StorageError{Op: "rewrite coalesced parent block", Err: err}
	}
	return nil
}

func extractDeployments(db *kvstore.Store, blockID chainevent.BlockIdentifier, txs []chainevent.Transaction) error {
	for _, tx := range txs {
		if tx.Metadata.Kind != chainevent.TransactionKindContractDeployment || tx.Metadata.ContractDeployment == nil {
			continue
		}
		inst := chainevent.ContractInstantiation{
			BlockIdentifier:       blockID,
			TransactionIdentifier: tx.TransactionIdentifier,
			Code:                  tx.Metadata.ContractDeployment.Code,
		}
		instBytes, err := json.Marshal(inst)
		if err != nil {
			return &coreerr.MalformedEventError{Context: "encode contract instantiation", Err: err}
		}
		key := kvstore.ContractSourceKey(string(tx.Metadata.ContractDeployment.ContractIdentifier))
		if err := db.Put(key, instBytes); err != nil {
			return &coreerr.StorageError{Op: "write contract instantiation", Err: err}
		}
	}
	return nil
}

func (m *Manager) archiveBlock(db *kvstore.Store, block chainevent.Block, extract func(*kvstore.Store, chainevent.BlockIdentifier, []chainevent.Transaction) error) error {
	if extract != nil {
		if err := extract(db, block.BlockIdentifier, block.Transactions); err != nil {
			return err
		}
	}
	blockBytes, err := json.Marshal(block)
	if err != nil {
		return &coreerr.MalformedEventError{Context: "encode block", Err: err}
	}
	if err := db.Put(kvstore.HashKey(block.BlockIdentifier.Hash), blockBytes); err != nil {
		return &coreerr.StorageError{Op: "write block by hash", Err: err}
	}
	if err := db.Put(kvstore.IndexKey(block.BlockIdentifier.Index), []byte(block.BlockIdentifier.Hash)); err != nil {
		return &coreerr.StorageError{Op: "write index -> hash", Err: err}
	}
	if err := db.Put(kvstore.TipKey(), kvstore.EncodeUint64(block.BlockIdentifier.Index)); err != nil {
		return &coreerr.StorageError{Op: "advance tip", Err: err}
	}
	return nil
}

func (m *Manager) archiveMicroblock(mb chainevent.Microblock) error {
	if err := extractDeployments(m.exec, mb.ParentBlockIdentifier, mb.Transactions); err != nil {
		return err
	}
	mbBytes, err := json.Marshal(mb)
	if err != nil {
		return &coreerr.MalformedEventError{Context: "encode microblock", Err: err}
	}
	key := []byte(fmt.Sprintf("~:%d", mb.BlockIdentifier.Index))
	if err := m.exec.Put(key, mbBytes); err != nil {
		return &coreerr.StorageError{Op: "write microblock", Err: err}
	}
	if err := m.exec.Put(kvstore.MicroblockTipKey(), kvstore.EncodeUint64(mb.BlockIdentifier.Index)); err != nil {
		return &coreerr.StorageError{Op: "advance microblock tip", Err: err}
	}
	return nil
}

func (m *Manager) rollbackBlocks(db *kvstore.Store, ids []chainevent.BlockIdentifier) error {
	for _, id := range ids {
		if err := db.Delete(kvstore.HashKey(id.Hash)); err != nil {
			return &coreerr.StorageError{Op: "rollback delete", Err: err}
		}
	}
	return nil
}

func loadBlockByHash(db *kvstore.Store, hash string) (chainevent.Block, bool, error) {
	raw, ok, err := db.Get(kvstore.HashKey(hash))
	if err != nil {
		return chainevent.Block{}, false, &coreerr.StorageError{Op: "read block by hash", Err: err}
	}
	if !ok {
		return chainevent.Block{}, false, nil
	}
	var block chainevent.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return chainevent.Block{}, false, &coreerr.MalformedEventError{Context: "decode block", Err: err}
	}
	return block, true, nil
}

func loadBlockByIndex(db *kvstore.Store, index uint64) (chainevent.Block, bool, error) {
	hashBytes, ok, err := db.Get(kvstore.IndexKey(index))
	if err != nil {
		return chainevent.Block{}, false, &coreerr.StorageError{Op: "read index -> hash", Err: err}
	}
	if !ok {
		return chainevent.Block{}, false, nil
	}
	return loadBlockByHash(db, string(hashBytes))
}

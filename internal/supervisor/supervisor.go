// Package supervisor implements the top-level actor: it owns the lazily
// started block store, routes anchor- and execution-chain events into it,
// and hands each execution-chain batch to every contract processor it owns,
// once per processor however many protocols share it.
package supervisor

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hirosystems/orchestra-archive/internal/analysis"
	"github.com/hirosystems/orchestra-archive/internal/blockstore"
	"github.com/hirosystems/orchestra-archive/internal/chainevent"
	"github.com/hirosystems/orchestra-archive/internal/contractproc"
	"github.com/hirosystems/orchestra-archive/internal/coreerr"
	"github.com/hirosystems/orchestra-archive/internal/metrics"
	"github.com/hirosystems/orchestra-archive/internal/protocolobserver"
)

// Supervisor is the process-wide root actor. A single Supervisor owns one
// working directory's block store, every contract processor built against
// it, and every protocol observer registered against it. It is the sole
// creator of both: a contract watched by two protocols gets exactly one
// processor, constructed the first time either protocol registers it and
// shared with every observer afterward.
type Supervisor struct {
	mu         sync.Mutex
	workingDir string
	logger     *zap.Logger
	analyzer   analysis.Analyzer
	metrics    *metrics.Registry // optional, propagated to every component it constructs

	blocks *blockstore.Manager // lazily started: nil until the first chain event or registration

	observers     map[chainevent.ProtocolObserverID]*protocolobserver.Observer
	processors    map[string]*contractproc.Processor         // contract id -> its sole processor
	subscriptions map[string][]chainevent.ProtocolObserverID // contract id -> observer ids
}

// New constructs a Supervisor that has not yet opened any database; the
// block store is opened lazily on the first chain event or the first call to
// RegisterProtocolObserver, whichever comes first.
func New(workingDir string, analyzer analysis.Analyzer, logger *zap.Logger, metricsReg ...*metrics.Registry) *Supervisor {
	s := &Supervisor{
		workingDir:    workingDir,
		logger:        logger,
		analyzer:      analyzer,
		observers:     map[chainevent.ProtocolObserverID]*protocolobserver.Observer{},
		processors:    map[string]*contractproc.Processor{},
		subscriptions: map[string][]chainevent.ProtocolObserverID{},
	}
	if len(metricsReg) > 0 {
		s.metrics = metricsReg[0]
	}
	return s
}

func (s *Supervisor) ensureBlockStore() (*blockstore.Manager, error) {
	if s.blocks != nil {
		return s.blocks, nil
	}
	m, err := blockstore.NewManager(s.workingDir, s.logger)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		m.SetMetrics(s.metrics)
	}
	s.blocks = m
	return m, nil
}

// RegisterProtocolObserver resolves and analyzes config's contracts, then
// registers the resulting observer against either a freshly built contract
// processor or one already shared with another protocol watching the same
// contract — the supervisor is the sole creator of contract processors, so
// a contract already registered never gets a second one.
// Silently a no-op if config.Identifier is already registered:
// re-registration of an already-active protocol is treated as idempotent,
// not an error.
func (s *Supervisor) RegisterProtocolObserver(config chainevent.ProtocolObserverConfig) (*protocolobserver.Observer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.observers[config.Identifier]; ok {
		return existing, nil
	}

	blocks, err := s.ensureBlockStore()
	if err != nil {
		return nil, err
	}

	obsLogger := s.logger.With(zap.Uint64("protocol_observer", uint64(config.Identifier)))
	obs, err := protocolobserver.Bootstrap(config, s.analyzer, blocks, obsLogger, s.metrics)
	if err != nil {
		return nil, err
	}

	for _, reg := range config.Contracts {
		contractID := string(reg.ContractIdentifier)

		proc, alreadyRegistered := s.processors[contractID]
		if !alreadyRegistered {
			iface, ok := obs.ContractInterface(contractID)
			if !ok {
				// Analysis failed for this contract; a diagnostic was already
				// recorded on the observer, and there is no interface to
				// build a processor against.
				continue
			}
			inst, found, err := blocks.ContractSource(contractID)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, &coreerr.MissingContractSourceError{ContractID: contractID}
			}
			proc, err = contractproc.New(s.workingDir, contractID, iface, inst.BlockIdentifier, blocks, s.logger.With(zap.String("contract_id", contractID)))
			if err != nil {
				return nil, err
			}
			if s.metrics != nil {
				proc.SetMetrics(s.metrics)
			}
			if err := proc.Rebuild(); err != nil {
				return nil, err
			}
			s.processors[contractID] = proc
		}

		obs.AttachProcessor(contractID, proc)
		s.subscriptions[contractID] = append(s.subscriptions[contractID], config.Identifier)
	}

	s.observers[config.Identifier] = obs
	return obs, nil
}

// ProcessAnchorChainEvent archives anchor-chain updates. Anchor-chain events
// never fan out to protocol observers: only the execution chain carries
// contract state.
func (s *Supervisor) ProcessAnchorChainEvent(event chainevent.AnchorChainEvent) error {
	s.mu.Lock()
	blocks, err := s.ensureBlockStore()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	switch event.Kind {
	case chainevent.AnchorUpdatedWithBlock:
		return blocks.ArchiveAnchorBlock(event.Block)
	case chainevent.AnchorUpdatedWithReorg:
		if err := blocks.RollbackAnchorBlocks(blockIDs(event.OldBlocks)); err != nil {
			return err
		}
		for _, b := range event.NewBlocks {
			if err := blocks.ArchiveAnchorBlock(b); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unhandled anchor chain event kind %d", event.Kind)
	}
}

// ProcessExecutionChainEvent archives execution-chain updates and hands the
// resulting batches to every contract processor.
func (s *Supervisor) ProcessExecutionChainEvent(event chainevent.ExecutionChainEvent) error {
	s.mu.Lock()
	blocks, err := s.ensureBlockStore()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	switch event.Kind {
	case chainevent.ExecutionUpdatedWithBlock:
		if err := blocks.ArchiveExecutionBlock(event.Block, event.AnchoredTrail); err != nil {
			return err
		}
		if event.AnchoredTrail != nil {
			parent := event.Block.ParentBlockIdentifier
			var coalesced []chainevent.Transaction
			for _, mb := range event.AnchoredTrail.Microblocks {
				coalesced = append(coalesced, mb.Transactions...)
			}
			if err := s.dispatch(parent, coalesced); err != nil {
				return err
			}
		}
		return s.dispatch(event.Block.BlockIdentifier, event.Block.Transactions)

	case chainevent.ExecutionUpdatedWithReorg:
		if err := blocks.RollbackExecutionBlocks(blockIDs(event.OldBlocks)); err != nil {
			return err
		}
		for _, id := range blockIDs(event.OldBlocks) {
			if err := s.rollback(id); err != nil {
				return err
			}
		}
		for _, b := range event.NewBlocks {
			if err := blocks.ArchiveExecutionBlock(b, nil); err != nil {
				return err
			}
			if err := s.dispatch(b.BlockIdentifier, b.Transactions); err != nil {
				return err
			}
		}
		return nil

	case chainevent.ExecutionUpdatedWithMicroblock:
		for _, mb := range event.Trail.Microblocks {
			if err := blocks.ArchiveMicroblock(mb); err != nil {
				return err
			}
			if err := s.dispatch(mb.ParentBlockIdentifier, mb.Transactions); err != nil {
				return err
			}
		}
		return nil

	case chainevent.ExecutionUpdatedWithMicroblockReorg:
		return &coreerr.UnsupportedReorgError{}

	default:
		return fmt.Errorf("unhandled execution chain event kind %d", event.Kind)
	}
}

func (s *Supervisor) dispatch(blockID chainevent.BlockIdentifier, txs []chainevent.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	s.mu.Lock()
	procs := make([]*contractproc.Processor, 0, len(s.processors))
	for _, proc := range s.processors {
		procs = append(procs, proc)
	}
	s.mu.Unlock()
	for _, proc := range procs {
		if _, err := proc.ProcessBatch(blockID, txs); err != nil {
			return fmt.Errorf("contract %s: %w", proc.ContractID(), err)
		}
	}
	return nil
}

func (s *Supervisor) rollback(blockID chainevent.BlockIdentifier) error {
	s.mu.Lock()
	observers := s.observersSnapshot()
	s.mu.Unlock()
	for _, obs := range observers {
		if err := obs.RollbackBatch(blockID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) observersSnapshot() []*protocolobserver.Observer {
	out := make([]*protocolobserver.Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		out = append(out, obs)
	}
	return out
}

// GetProtocolInterfaces returns the current interfaces of every contract
// registered under a protocol.
func (s *Supervisor) GetProtocolInterfaces(id chainevent.ProtocolObserverID) (map[string]chainevent.ContractInterface, error) {
	s.mu.Lock()
	obs, ok := s.observers[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no protocol observer registered with id %d", id)
	}
	return obs.GetInterfaces()
}

// GetFieldValues forwards a field-value query to the protocol observer
// identified by protocolID, the owner named in the request.
func (s *Supervisor) GetFieldValues(protocolID chainevent.ProtocolObserverID, contractID, fieldName string, stacksBlockIdentifier chainevent.BlockIdentifier) (*protocolobserver.FieldValuesResponse, error) {
	s.mu.Lock()
	obs, ok := s.observers[protocolID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no protocol observer registered with id %d", protocolID)
	}
	return obs.GetFieldValues(contractID, fieldName, stacksBlockIdentifier)
}

// Exit cascades shutdown through every contract processor, then the block
// store. Protocol observers hold nothing to close. Processors are closed
// exactly once each even though several observers may share one.
func (s *Supervisor) Exit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, proc := range s.processors {
		if err := proc.Close(); err != nil {
			return fmt.Errorf("close contract processor %s: %w", id, err)
		}
	}
	if s.blocks != nil {
		return s.blocks.Close()
	}
	return nil
}

func blockIDs(blocks []chainevent.Block) []chainevent.BlockIdentifier {
	out := make([]chainevent.BlockIdentifier, len(blocks))
	for i, b := range blocks {
		out[i] = b.BlockIdentifier
	}
	return out
}

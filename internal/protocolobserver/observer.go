// Package protocolobserver implements the protocol observer: it resolves a
// protocol's registered contracts' transitive dependencies, drives static
// analysis in dependency order, and answers interface and field-value
// queries against contract processors it is given by reference. The
// supervisor is the sole creator of contract processors (a contract shared
// by two protocols gets exactly one); the observer never opens one itself.
package protocolobserver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hirosystems/orchestra-archive/internal/analysis"
	"github.com/hirosystems/orchestra-archive/internal/chainevent"
	"github.com/hirosystems/orchestra-archive/internal/contractproc"
	"github.com/hirosystems/orchestra-archive/internal/coreerr"
	"github.com/hirosystems/orchestra-archive/internal/metrics"
)

// ChainSource is what the observer needs from the rest of the core: the
// execution- and anchor-chain block readers the field-value query resolves
// trailing blocks from, and contract source lookup for dependency discovery
// and analysis.
type ChainSource interface {
	contractproc.BlockSource
	ContractSource(contractID string) (chainevent.ContractInstantiation, bool, error)
	LoadAnchorBlockByHash(hash string) (chainevent.Block, bool, error)
}

// Observer is the live state of one registered protocol.
type Observer struct {
	config chainevent.ProtocolObserverConfig
	logger *zap.Logger

	chain   ChainSource
	session *analysis.Session
	// processors is populated entirely by the supervisor via AttachProcessor;
	// the observer holds references here only to dispatch batches and serve
	// queries, never to construct or close them.
	processors map[string]*contractproc.Processor
	metrics    *metrics.Registry // nil until SetMetrics is called

	// Diagnostics accumulated from per-contract analysis failures, which are
	// non-fatal to the observer as a whole.
	Diagnostics []error
}

// SetMetrics attaches a metrics registry the observer reports
// analysis-diagnostic counts to.
func (o *Observer) SetMetrics(reg *metrics.Registry) { o.metrics = reg }

// Bootstrap resolves the transitive dependency closure of config's
// registered contracts and analyzes every contract in dependency order.
// Analysis failures on individual contracts are recorded in Diagnostics
// rather than aborting, and a contract depending on a failed one is still
// analyzed. A missing contract source for any contract in the dependency
// closure, registered or only depended on, is fatal. Bootstrap does not open any contract processor;
// the caller (the supervisor) does that via AttachProcessor once it has
// decided, per its shared registry, whether a new one is needed.
func Bootstrap(config chainevent.ProtocolObserverConfig, analyzer analysis.Analyzer, chain ChainSource, logger *zap.Logger, metricsReg ...*metrics.Registry) (*Observer, error) {
	o := &Observer{
		config:     config,
		logger:     logger,
		chain:      chain,
		processors: map[string]*contractproc.Processor{},
	}
	if len(metricsReg) > 0 {
		o.metrics = metricsReg[0]
	}
	if err := o.resolveAndAnalyze(analyzer); err != nil {
		return nil, err
	}
	return o, nil
}

// ContractInterface returns the analyzed interface of a registered contract.
// ok is false if analysis failed for it (a diagnostic was recorded instead),
// or if contractID was never part of this protocol's dependency closure.
func (o *Observer) ContractInterface(contractID string) (chainevent.ContractInterface, bool) {
	return o.session.Interface(contractID)
}

// AttachProcessor gives the observer a reference to a contract processor
// owned by the supervisor. Called once per registered contract, after
// Bootstrap, with either a freshly created-and-rebuilt processor or one
// already shared with another protocol watching the same contract.
func (o *Observer) AttachProcessor(contractID string, proc *contractproc.Processor) {
	o.processors[contractID] = proc
}

// Identifier returns the protocol's registration identifier.
func (o *Observer) Identifier() chainevent.ProtocolObserverID { return o.config.Identifier }

// ProcessBatch forwards a block's transactions to every owned contract
// processor; each processor filters to only the events addressed to it.
// Returns the combined, processor-order-stable list of SmartContract
// notifications produced.
func (o *Observer) ProcessBatch(blockID chainevent.BlockIdentifier, txs []chainevent.Transaction) ([]contractproc.NotifiedEvent, error) {
	var all []contractproc.NotifiedEvent
	for _, reg := range o.config.Contracts {
		proc, ok := o.processors[string(reg.ContractIdentifier)]
		if !ok {
			continue
		}
		notified, err := proc.ProcessBatch(blockID, txs)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", reg.ContractIdentifier, err)
		}
		all = append(all, notified...)
	}
	return all, nil
}

// RollbackBatch forwards a rollback to every owned contract processor.
func (o *Observer) RollbackBatch(blockID chainevent.BlockIdentifier) error {
	for id, proc := range o.processors {
		if err := proc.RollbackBatch(blockID); err != nil {
			return fmt.Errorf("rollback %s: %w", id, err)
		}
	}
	return nil
}

// GetInterfaces returns the current interface of every registered contract,
// read fresh from each contract's own database rather than from any
// in-memory cache.
func (o *Observer) GetInterfaces() (map[string]chainevent.ContractInterface, error) {
	out := map[string]chainevent.ContractInterface{}
	for id, proc := range o.processors {
		iface, err := proc.ReadInterface()
		if err != nil {
			return nil, err
		}
		out[id] = iface
	}
	return out, nil
}

// resolveAndAnalyze discovers the transitive dependency closure of the
// protocol's registered contracts and analyzes every contract so that each
// is only analyzed once every dependency it references has itself already
// been analyzed and saved into the session. The worklist below discovers a
// contract's dependencies the first time it is dequeued, enqueues any
// unvisited dependency, and then deliberately re-enqueues the contract
// itself behind them; on a later dequeue, once every dependency has a saved
// interface, the contract is analyzed. A contract that keeps getting
// re-enqueued without ever becoming ready signals a dependency cycle.
func (o *Observer) resolveAndAnalyze(analyzer analysis.Analyzer) error {
	session := analysis.NewSession(analyzer)
	o.session = session

	states := map[string]*depState{}
	failed := map[string]bool{} // contracts with a recorded diagnostic
	var queue []string
	enqueue := func(id string) {
		if _, ok := states[id]; !ok {
			states[id] = &depState{}
		}
		queue = append(queue, id)
	}

	for _, reg := range o.config.Contracts {
		enqueue(string(reg.ContractIdentifier))
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if session.Analyzed(id) || failed[id] {
			continue
		}
		st := states[id]
		if st.code == "" {
			inst, found, err := o.chain.ContractSource(id)
			if err != nil {
				return err
			}
			if !found {
				return &coreerr.MissingContractSourceError{ContractID: id}
			}
			st.code = inst.Code
		}

		if !st.known {
			deps, err := session.DetectDependencies(id, st.code)
			if err != nil {
				o.Diagnostics = append(o.Diagnostics, &coreerr.AnalysisDiagnostic{ContractID: id, Err: err})
				failed[id] = true
				if o.metrics != nil {
					o.metrics.AnalysisDiagnostics.Inc()
				}
				continue
			}
			st.deps = deps
			st.known = true
			for _, dep := range deps {
				if !session.Analyzed(dep) {
					enqueue(dep)
				}
			}
			queue = append(queue, id)
			continue
		}

		allReady := true
		for _, dep := range st.deps {
			if !session.Analyzed(dep) && !failed[dep] {
				allReady = false
				break
			}
		}
		if !allReady {
			st.retries++
			if st.retries > len(states)+len(o.config.Contracts)+8 {
				return &coreerr.CycleError{Contracts: unresolvedContracts(states, session)}
			}
			queue = append(queue, id)
			continue
		}

		if _, err := session.Analyze(id, st.code); err != nil {
			o.Diagnostics = append(o.Diagnostics, &coreerr.AnalysisDiagnostic{ContractID: id, Err: err})
			failed[id] = true
			if o.metrics != nil {
				o.metrics.AnalysisDiagnostics.Inc()
			}
		}
	}
	return nil
}

type depState struct {
	code    string
	deps    []string
	known   bool
	retries int
}

func unresolvedContracts(states map[string]*depState, session *analysis.Session) []string {
	var out []string
	for id := range states {
		if !session.Analyzed(id) {
			out = append(out, id)
		}
	}
	return out
}

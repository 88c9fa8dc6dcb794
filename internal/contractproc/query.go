package contractproc

import (
	"encoding/json"

	"github.com/hirosystems/orchestra-archive/internal/coreerr"
	"github.com/hirosystems/orchestra-archive/internal/kvstore"
)

// VarValue returns a variable's current materialized hex-encoded value.
func (p *Processor) VarValue(name string) (value string, ok bool, err error) {
	raw, found, err := p.store.Get(kvstore.VarKey(p.contractID, name))
	if err != nil {
		return "", false, &coreerr.StorageError{Op: "read var value", Err: err}
	}
	if !found {
		return "", false, nil
	}
	return string(raw), true, nil
}

// VarEvents returns a variable's full event log, in (block_index,
// event_index) ascending order, the order the store's key encoding
// guarantees a prefix scan already produces.
func (p *Processor) VarEvents(name string) ([]EventLogRecord, error) {
	return p.scanEvents(kvstore.VarEventPrefix(p.contractID, name))
}

// MapEntries returns every materialized entry of a map, keyed by hex-encoded
// map key.
func (p *Processor) MapEntries(name string) (map[string]string, error) {
	out := map[string]string{}
	prefix := kvstore.MapEntryPrefix(p.contractID, name)
	err := p.store.PrefixScan(prefix, func(key, value []byte) error {
		out[string(key[len(prefix):])] = string(value)
		return nil
	})
	if err != nil {
		return nil, &coreerr.StorageError{Op: "scan map entries", Err: err}
	}
	return out, nil
}

// MapEvents returns a map's full event log in ascending order.
func (p *Processor) MapEvents(name string) ([]EventLogRecord, error) {
	return p.scanEvents(kvstore.MapEventPrefix(p.contractID, name))
}

// FTBalances returns every owner's materialized balance for an asset class,
// keyed by principal.
func (p *Processor) FTBalances(assetClassID string) (map[string]string, error) {
	out := map[string]string{}
	prefix := kvstore.FTBalancePrefix(assetClassID)
	err := p.store.PrefixScan(prefix, func(key, value []byte) error {
		out[string(key[len(prefix):])] = string(value)
		return nil
	})
	if err != nil {
		return nil, &coreerr.StorageError{Op: "scan ft balances", Err: err}
	}
	return out, nil
}

// FTEvents returns an FT asset's full event log in ascending order.
func (p *Processor) FTEvents(assetClassID string) ([]EventLogRecord, error) {
	return p.scanEvents(kvstore.FTEventPrefix(assetClassID))
}

// NFTOwners returns every materialized ownership record for an asset class,
// keyed by hex-encoded asset id.
func (p *Processor) NFTOwners(assetClassID string) (map[string]string, error) {
	out := map[string]string{}
	prefix := kvstore.NFTOwnerPrefix(assetClassID)
	err := p.store.PrefixScan(prefix, func(key, value []byte) error {
		var rec nftOwnerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return &coreerr.MalformedEventError{Context: "decode nft owner record", Err: err}
		}
		out[string(key[len(prefix):])] = rec.Owner
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NFTEvents returns an NFT asset's full event log in ascending order.
func (p *Processor) NFTEvents(assetClassID string) ([]EventLogRecord, error) {
	return p.scanEvents(kvstore.NFTEventPrefix(assetClassID))
}

func (p *Processor) scanEvents(prefix []byte) ([]EventLogRecord, error) {
	var out []EventLogRecord
	err := p.store.PrefixScan(prefix, func(key, value []byte) error {
		var rec EventLogRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return &coreerr.MalformedEventError{Context: "decode event log record", Err: err}
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, &coreerr.StorageError{Op: "scan event log", Err: err}
	}
	return out, nil
}

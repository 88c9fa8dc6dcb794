package kvstore

import "encoding/binary"

// Key schema, mirroring the logical records of the facade design. Every
// numeric ordering key (block index, event index) is rendered as
// fixed-width big-endian bytes, never ASCII decimal, so that the store's
// native byte-lexicographic ordering agrees with numeric ordering. This is
// the fix for the decimal-string ordering bug called out in the design
// notes: concatenating two 8-byte big-endian blocks sorts identically to
// comparing the two integers as a tuple.

const (
	prefixHash       = "hash:"
	keyTip           = "tip"
	keyMicroblockTip = "~tip"

	sepAnalysis  = "::#analysis"
	sepInterface = "::#interface"

	prefixVar = "var::"
	prefixMap = "map::"
	prefixFT  = "ft::"
	prefixNFT = "nft::"

	sepEvents = "#events::"
)

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// BE64ToUint64 decodes a fixed-width big-endian uint64, as produced by be64.
func BE64ToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// EncodeUint64 renders v as 8-byte big-endian, for use as either a key
// component or a stored value (e.g. the tip pointer).
func EncodeUint64(v uint64) []byte {
	return be64(v)
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// HashKey addresses a block by its hash: "hash:<hash>".
func HashKey(hash string) []byte {
	return []byte(prefixHash + hash)
}

// IndexKey addresses a block's hash by its numeric index: 8-byte big-endian.
func IndexKey(index uint64) []byte {
	return be64(index)
}

// TipKey addresses the chain tip index.
func TipKey() []byte {
	return []byte(keyTip)
}

// MicroblockTipKey addresses the microblock tip index.
func MicroblockTipKey() []byte {
	return []byte(keyMicroblockTip)
}

// ContractSourceKey addresses a ContractInstantiation record, keyed by the
// raw contract identifier (stored in the stacks/execution-chain database).
func ContractSourceKey(contractID string) []byte {
	return []byte(contractID)
}

// ContractAnalysisKey addresses a contract's persisted analysis record.
func ContractAnalysisKey(contractID string) []byte {
	return []byte(contractID + sepAnalysis)
}

// ContractInterfaceKey addresses a contract's persisted interface record.
func ContractInterfaceKey(contractID string) []byte {
	return []byte(contractID + sepInterface)
}

// VarKey addresses a variable's current materialized value.
func VarKey(contractID, varName string) []byte {
	return []byte(prefixVar + contractID + "::" + varName)
}

// VarEventPrefix is the scan prefix enumerating a variable's event log.
func VarEventPrefix(contractID, varName string) []byte {
	return []byte(prefixVar + contractID + "::" + varName + sepEvents)
}

// VarEventKey addresses one variable event log entry.
func VarEventKey(contractID, varName string, blockIndex, eventIndex uint64) []byte {
	return append(VarEventPrefix(contractID, varName), append(be64(blockIndex), be64(eventIndex)...)...)
}

// MapEntryKey addresses one materialized map entry.
func MapEntryKey(contractID, mapName string, hexKey []byte) []byte {
	return append([]byte(prefixMap+contractID+"::"+mapName+"@"), hexKey...)
}

// MapEntryPrefix is the scan prefix enumerating a map's materialized entries.
func MapEntryPrefix(contractID, mapName string) []byte {
	return []byte(prefixMap + contractID + "::" + mapName + "@")
}

// MapEventPrefix is the scan prefix enumerating a map's event log.
func MapEventPrefix(contractID, mapName string) []byte {
	return []byte(prefixMap + contractID + "::" + mapName + sepEvents)
}

// MapEventKey addresses one map event log entry.
func MapEventKey(contractID, mapName string, blockIndex, eventIndex uint64) []byte {
	return append(MapEventPrefix(contractID, mapName), append(be64(blockIndex), be64(eventIndex)...)...)
}

// FTBalanceKey addresses one owner's materialized FT balance.
func FTBalanceKey(assetClassID, owner string) []byte {
	return []byte(prefixFT + assetClassID + "@" + owner)
}

// FTBalancePrefix is the scan prefix enumerating an asset's balances.
func FTBalancePrefix(assetClassID string) []byte {
	return []byte(prefixFT + assetClassID + "@")
}

// FTEventPrefix is the scan prefix enumerating an FT asset's event log.
func FTEventPrefix(assetClassID string) []byte {
	return []byte(prefixFT + assetClassID + sepEvents)
}

// FTEventKey addresses one FT event log entry.
func FTEventKey(assetClassID string, blockIndex, eventIndex uint64) []byte {
	return append(FTEventPrefix(assetClassID), append(be64(blockIndex), be64(eventIndex)...)...)
}

// NFTOwnerKey addresses one materialized NFT ownership record.
func NFTOwnerKey(assetClassID string, hexAssetID []byte) []byte {
	return append([]byte(prefixNFT+assetClassID+"::id@"), hexAssetID...)
}

// NFTOwnerPrefix is the scan prefix enumerating an NFT asset's ownership records.
func NFTOwnerPrefix(assetClassID string) []byte {
	return []byte(prefixNFT + assetClassID + "::id@")
}

// NFTEventPrefix is the scan prefix enumerating an NFT asset's event log.
func NFTEventPrefix(assetClassID string) []byte {
	return []byte(prefixNFT + assetClassID + sepEvents)
}

// NFTEventKey addresses one NFT event log entry.
func NFTEventKey(assetClassID string, blockIndex, eventIndex uint64) []byte {
	return append(NFTEventPrefix(assetClassID), append(be64(blockIndex), be64(eventIndex)...)...)
}

// SplitEventSuffix decodes the trailing 16-byte (block_index, event_index)
// pair appended after a #events:: prefix.
func SplitEventSuffix(key []byte, prefixLen int) (blockIndex, eventIndex uint64, ok bool) {
	suffix := key[prefixLen:]
	if len(suffix) != 16 {
		return 0, 0, false
	}
	return BE64ToUint64(suffix[:8]), BE64ToUint64(suffix[8:]), true
}

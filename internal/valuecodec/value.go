// Package valuecodec decodes the execution chain's serialized tagged-value
// format (the wire encoding Clarity-style contracts use for variables, map
// keys/values, and asset identifiers) into a canonical display form, and
// provides the arbitrary-precision arithmetic the contract processor needs
// for fungible-token balance bookkeeping.
//
// The tag layout mirrors the Stacks execution chain's consensus
// serialization: a one-byte type tag followed by a type-specific payload.
// This module only ever reads already-deployed contract state for display;
// it performs no contract execution.
package valuecodec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

const (
	tagInt             = 0x00
	tagUInt            = 0x01
	tagBuffer          = 0x02
	tagBoolTrue        = 0x03
	tagBoolFalse       = 0x04
	tagPrincipalStd    = 0x05
	tagPrincipalContr  = 0x06
	tagResponseOk      = 0x07
	tagResponseErr     = 0x08
	tagOptionalNone    = 0x09
	tagOptionalSome    = 0x0a
	tagList            = 0x0b
	tagTuple           = 0x0c
	tagStringASCII     = 0x0d
	tagStringUTF8      = 0x0e
)

// Decode parses a "0x"-prefixed (or bare) hex-encoded tagged value and
// returns its canonical display form: a string for scalar kinds, or a
// map[string]interface{} of field name to stringified value for tuples, per
// the query handler's rendering rule.
func Decode(hexStr string) (interface{}, error) {
	raw, err := decodeHexBytes(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decoding hex value: %w", err)
	}
	v, rest, err := decodeValue(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding tagged value: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decoding tagged value: %d trailing bytes", len(rest))
	}
	return v, nil
}

// CanonicalString renders any decoded value (as returned by Decode) through
// its canonical string form, flattening tuples to a brace-delimited list —
// used when a tuple appears nested inside another tuple or list.
func CanonicalString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, CanonicalString(t[k])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func decodeHexBytes(hexStr string) ([]byte, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	return hex.DecodeString(hexStr)
}

func decodeValue(b []byte) (value interface{}, rest []byte, err error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("empty value")
	}
	tag, payload := b[0], b[1:]
	switch tag {
	case tagInt:
		if len(payload) < 16 {
			return nil, nil, fmt.Errorf("int: short payload")
		}
		n := new(big.Int).SetBytes(payload[:16])
		// two's complement: if the high bit of the 128-bit value is set, it is negative.
		if payload[0]&0x80 != 0 {
			max := new(big.Int).Lsh(big.NewInt(1), 128)
			n.Sub(n, max)
		}
		return n.String(), payload[16:], nil
	case tagUInt:
		if len(payload) < 16 {
			return nil, nil, fmt.Errorf("uint: short payload")
		}
		n := new(big.Int).SetBytes(payload[:16])
		return "u" + n.String(), payload[16:], nil
	case tagBuffer:
		if len(payload) < 4 {
			return nil, nil, fmt.Errorf("buffer: short length prefix")
		}
		n := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		if uint32(len(payload)) < n {
			return nil, nil, fmt.Errorf("buffer: short body")
		}
		return "0x" + hex.EncodeToString(payload[:n]), payload[n:], nil
	case tagBoolTrue:
		return "true", payload, nil
	case tagBoolFalse:
		return "false", payload, nil
	case tagPrincipalStd:
		if len(payload) < 21 {
			return nil, nil, fmt.Errorf("principal: short payload")
		}
		return "0x" + hex.EncodeToString(payload[:21]), payload[21:], nil
	case tagPrincipalContr:
		if len(payload) < 22 {
			return nil, nil, fmt.Errorf("principal-contract: short fixed part")
		}
		nameLen := int(payload[21])
		end := 22 + nameLen
		if len(payload) < end {
			return nil, nil, fmt.Errorf("principal-contract: short name")
		}
		return "0x" + hex.EncodeToString(payload[:21]) + "." + string(payload[22:end]), payload[end:], nil
	case tagResponseOk, tagResponseErr:
		inner, r, err := decodeValue(payload)
		if err != nil {
			return nil, nil, err
		}
		prefix := "ok "
		if tag == tagResponseErr {
			prefix = "err "
		}
		return prefix + CanonicalString(inner), r, nil
	case tagOptionalNone:
		return "none", payload, nil
	case tagOptionalSome:
		inner, r, err := decodeValue(payload)
		if err != nil {
			return nil, nil, err
		}
		return "some " + CanonicalString(inner), r, nil
	case tagList:
		if len(payload) < 4 {
			return nil, nil, fmt.Errorf("list: short length prefix")
		}
		n := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		items := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			var item interface{}
			item, payload, err = decodeValue(payload)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, CanonicalString(item))
		}
		return "(" + strings.Join(items, " ") + ")", payload, nil
	case tagTuple:
		if len(payload) < 4 {
			return nil, nil, fmt.Errorf("tuple: short length prefix")
		}
		n := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		out := make(map[string]interface{}, n)
		for i := uint32(0); i < n; i++ {
			if len(payload) < 1 {
				return nil, nil, fmt.Errorf("tuple: short field name length")
			}
			nameLen := int(payload[0])
			payload = payload[1:]
			if len(payload) < nameLen {
				return nil, nil, fmt.Errorf("tuple: short field name")
			}
			name := string(payload[:nameLen])
			payload = payload[nameLen:]
			var fv interface{}
			fv, payload, err = decodeValue(payload)
			if err != nil {
				return nil, nil, err
			}
			out[name] = CanonicalString(fv)
		}
		return out, payload, nil
	case tagStringASCII, tagStringUTF8:
		if len(payload) < 4 {
			return nil, nil, fmt.Errorf("string: short length prefix")
		}
		n := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		if uint32(len(payload)) < n {
			return nil, nil, fmt.Errorf("string: short body")
		}
		return string(payload[:n]), payload[n:], nil
	default:
		return nil, nil, fmt.Errorf("unknown value tag 0x%02x", tag)
	}
}

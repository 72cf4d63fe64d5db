package wallet

import (
	"bytes"
	"encoding/json"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	log "github.com/sirupsen/logrus"
)

// Blob is the tagged variant over an opaque SDK token payload: either an
// undecoded text/binary form or an already-structured value. Every
// extractor below accepts either arm (§9 design notes).
type Blob struct {
	Text       []byte
	Structured map[string]any
}

// NewTextBlob wraps a raw byte payload.
func NewTextBlob(b []byte) Blob { return Blob{Text: b} }

// NewStructuredBlob wraps an already-decoded payload.
func NewStructuredBlob(m map[string]any) Blob { return Blob{Structured: m} }

// asMap returns the blob's structured form, decoding the text form as JSON
// on first use. Numbers decode as json.Number so arbitrary-precision amounts
// are never truncated through float64. Returns (nil, false) if neither arm
// is available.
func (b Blob) asMap() (map[string]any, bool) {
	if b.Structured != nil {
		return b.Structured, true
	}
	if len(b.Text) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b.Text))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, false
	}
	return m, true
}

func nestedString(m map[string]any, path ...string) (string, bool) {
	cur := any(m)
	for i, key := range path {
		cm, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		v, ok := cm[key]
		if !ok {
			return "", false
		}
		if i == len(path)-1 {
			s, ok := v.(string)
			if !ok || s == "" {
				return "", false
			}
			return s, true
		}
		cur = v
	}
	return "", false
}

// ExtractGenesisID pulls the genesis token id from the blob. Never throws;
// absence is represented as (\"\", false).
func ExtractGenesisID(b Blob) (string, bool) {
	m, ok := b.asMap()
	if !ok {
		return "", false
	}
	for _, path := range [][]string{
		{"genesis", "tokenId"},
		{"genesis", "id"},
		{"tokenId"},
	} {
		if v, ok := nestedString(m, path...); ok {
			return v, true
		}
	}
	return "", false
}

// ExtractStateHash pulls the current state hash, tolerating three known
// structural layouts in order: primary location, alternate-nested, and
// flat-top-level. Returns the first non-empty match.
func ExtractStateHash(b Blob) (string, bool) {
	m, ok := b.asMap()
	if !ok {
		return "", false
	}
	// Primary location.
	if v, ok := nestedString(m, "state", "hash"); ok {
		return v, true
	}
	// Alternate-nested (e.g. wrapped under a predicate/unlockPredicate).
	if v, ok := nestedString(m, "state", "predicate", "hash"); ok {
		return v, true
	}
	if v, ok := nestedString(m, "state", "unlockPredicate", "hash"); ok {
		return v, true
	}
	// Flat top-level.
	if v, ok := nestedString(m, "stateHash"); ok {
		return v, true
	}
	return "", false
}

// ContentID derives a CIDv1 (raw codec, SHA-256 multihash) from a genesis
// token id, giving every token a canonical, content-addressed handle for
// logging and cross-system correlation independent of the SDK blob's own
// encoding. It never fails on well-formed input; malformed input yields the
// zero CID.
func ContentID(genesisID string) (cid.Cid, error) {
	mh, err := multihash.Sum([]byte(genesisID), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// TokenInfo is the structured metadata/amount pulled from a blob (§4.1).
type TokenInfo struct {
	CoinID   string
	Symbol   string
	Name     string
	Decimals uint8
	IconURL  string
	Amount   string
	TokenID  string // genesis token id, if present
}

// CoinRegistry enriches coin metadata (symbol, name, decimals, icon) by
// coin id. A global fungible-coin registry is an external collaborator;
// this module only depends on the lookup contract.
type CoinRegistry interface {
	Lookup(coinID string) (symbol, name string, decimals uint8, iconURL string, ok bool)
}

var globalRegistry CoinRegistry

// SetCoinRegistry installs the global coin registry used to enrich parsed
// token metadata.
func SetCoinRegistry(r CoinRegistry) { globalRegistry = r }

func enrich(coinID string) (symbol, name string, decimals uint8, iconURL string) {
	if globalRegistry != nil {
		if s, n, d, icon, ok := globalRegistry.Lookup(coinID); ok {
			return s, n, d, icon
		}
	}
	fallback := coinID
	if len(fallback) > 8 {
		fallback = fallback[:8]
	}
	return fallback, fallback, 0, ""
}

// extractCoinAmount reads the first coin/amount pair out of either supported
// shape: an array-of-pairs [[coinId, amount]] or a mapping {coinId: amount}.
func extractCoinAmount(v any) (coinID, amount string, ok bool) {
	switch coins := v.(type) {
	case []any:
		if len(coins) == 0 {
			return "", "", false
		}
		pair, ok := coins[0].([]any)
		if !ok || len(pair) < 2 {
			return "", "", false
		}
		id, _ := pair[0].(string)
		amt := stringify(pair[1])
		if id == "" || amt == "" {
			return "", "", false
		}
		return id, amt, true
	case map[string]any:
		for id, amt := range coins {
			return id, stringify(amt), true
		}
		return "", "", false
	default:
		return "", "", false
	}
}

// stringify renders an amount decoded from JSON as its arbitrary-precision
// string form. json.Number preserves full precision regardless of
// magnitude; a bare Go string is passed through unchanged.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// ParseTokenInfo tries a structured SDK parse first; on failure it falls
// back to manual extraction from the genesis section, then the state
// section. Coin data in either the array-of-pairs or mapping shape is
// handled. Parse failures are logged, never propagated as a panic.
func ParseTokenInfo(b Blob) (TokenInfo, bool) {
	m, ok := b.asMap()
	if !ok {
		log.WithField("component", "identity").Debug("parse_token_info: blob not decodable")
		return TokenInfo{}, false
	}

	if info, ok := parseStructuredSDK(m); ok {
		return info, true
	}
	if info, ok := parseFromSection(m, "genesis"); ok {
		return info, true
	}
	if info, ok := parseFromSection(m, "state"); ok {
		return info, true
	}
	log.WithField("component", "identity").Debug("parse_token_info: no recognizable layout")
	return TokenInfo{}, false
}

func parseStructuredSDK(m map[string]any) (TokenInfo, bool) {
	coins, ok := m["coins"]
	if !ok {
		return TokenInfo{}, false
	}
	coinID, amount, ok := extractCoinAmount(coins)
	if !ok {
		return TokenInfo{}, false
	}
	symbol, name, decimals, icon := enrich(coinID)
	info := TokenInfo{CoinID: coinID, Symbol: symbol, Name: name, Decimals: decimals, IconURL: icon, Amount: amount}
	if id, ok := nestedString(m, "tokenId"); ok {
		info.TokenID = id
	}
	return info, true
}

func parseFromSection(m map[string]any, section string) (TokenInfo, bool) {
	sec, ok := m[section].(map[string]any)
	if !ok {
		return TokenInfo{}, false
	}
	coins, ok := sec["coins"]
	if !ok {
		return TokenInfo{}, false
	}
	coinID, amount, ok := extractCoinAmount(coins)
	if !ok {
		return TokenInfo{}, false
	}
	symbol, name, decimals, icon := enrich(coinID)
	info := TokenInfo{CoinID: coinID, Symbol: symbol, Name: name, Decimals: decimals, IconURL: icon, Amount: amount}
	if id, ok := nestedString(sec, "tokenId"); ok {
		info.TokenID = id
	}
	return info, true
}

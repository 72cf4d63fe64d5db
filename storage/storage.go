// Package storage declares the external storage-provider contracts and the
// portable archive format ("TXF") used to move repository state between
// providers during sync. The raw key-value / object backends are external
// collaborators; this module only depends on their Go interfaces.
package storage

import "context"

// KV is a simple string get/set/remove key-value backend.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Meta is the portable archive's header.
type Meta struct {
	Version      int    `json:"version"`
	Address      string `json:"address"`
	IPNSName     string `json:"ipns_name,omitempty"`
	FormatVersion int   `json:"format_version"`
	UpdatedAtMS  int64  `json:"updated_at"`
}

// Archive is the portable, provider-agnostic serialization of repository
// state, exchanged during sync ("TXF" in the glossary).
type Archive struct {
	Meta       Meta          `json:"_meta"`
	Tokens     []RawToken    `json:"tokens"`
	Tombstones []RawTomb     `json:"_tombstones"`
	Archived   []RawArchive  `json:"_archived"`
	Forked     []RawArchive  `json:"_forked"`
	Nametags   []RawNametag  `json:"_nametags"`
}

// The Raw* types intentionally mirror the wallet package's domain types
// structurally without importing it (storage is a leaf package); the
// wallet package's toArchive/applyArchive perform the translation.
type RawToken struct {
	LocalID   string `json:"local_id"`
	CoinID    string `json:"coin_id"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Decimals  uint8  `json:"decimals"`
	IconURL   string `json:"icon_url,omitempty"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	SDKBlob   []byte `json:"sdk_blob,omitempty"`
}

type RawTomb struct {
	TokenID     string `json:"token_id"`
	StateHash   string `json:"state_hash"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type RawArchive struct {
	GenesisID   string   `json:"genesis_id"`
	StateHash   string   `json:"state_hash,omitempty"`
	History     [][]byte `json:"history"`
	TimestampMS int64    `json:"timestamp_ms,omitempty"`
}

type RawNametag struct {
	Name      string `json:"name"`
	SDKBlob   []byte `json:"sdk_blob"`
	CreatedAt int64  `json:"created_at"`
}

// SyncResult is what a provider's Sync call returns.
type SyncResult struct {
	Success  bool
	Merged   *Archive
	Added    int
	Removed  int
	Conflicts int
}

// TokenStorageProvider is the external object-storage contract used for
// saving the portable archive, loading it back, and multi-provider sync.
type TokenStorageProvider interface {
	Save(ctx context.Context, archive Archive) error
	Load(ctx context.Context) (archive Archive, ok bool, err error)
	Sync(ctx context.Context, local Archive) (SyncResult, error)

	// Subscribe registers a callback invoked when the provider observes a
	// remote update out-of-band (e.g. another device pushed a change).
	// Returns an unsubscribe function. Providers with no push channel may
	// return a no-op unsubscribe.
	Subscribe(cb func()) (unsubscribe func())
}

// Package wallet implements the non-custodial content-addressed token
// wallet core: the repository (tombstone/archive/fork data model), the send
// and receive pipelines, lazy finalization, proof polling, multi-provider
// sync, and the outbox/history log.
package wallet

import "time"

// Status is a token's lifecycle state (§3).
type Status string

const (
	StatusPending      Status = "pending"
	StatusSubmitted    Status = "submitted"
	StatusTransferring Status = "transferring"
	StatusConfirmed    Status = "confirmed"
	StatusSpent        Status = "spent"
	StatusInvalid      Status = "invalid"
)

// Stage is a pending-finalization token's position in the C6 state machine.
type Stage string

const (
	StageReceived           Stage = "RECEIVED"
	StageMintSubmitted      Stage = "MINT_SUBMITTED"
	StageMintProven         Stage = "MINT_PROVEN"
	StageTransferSubmitted  Stage = "TRANSFER_SUBMITTED"
)

// TransferMode selects between the conservative (wait-for-proof) and instant
// (fire commitment, send envelope immediately) send flows (§4.4).
type TransferMode string

const (
	ModeConservative TransferMode = "conservative"
	ModeInstant      TransferMode = "instant"
)

// AddressMode controls how the send-side resolves the on-chain recipient
// address (§4.4).
type AddressMode string

const (
	AddressAuto   AddressMode = "auto"
	AddressDirect AddressMode = "direct"
	AddressProxy  AddressMode = "proxy"
)

// TokenKey uniquely identifies a token state: the pair a tombstone proves
// spent and at most one active token may occupy (P1, P2).
type TokenKey struct {
	GenesisID string
	StateHash string
}

// Defined reports whether both halves of the key are non-empty.
func (k TokenKey) Defined() bool {
	return k.GenesisID != "" && k.StateHash != ""
}

// PendingFinalization is stored inside a submitted token's blob slot while
// it works through the lazy finalization state machine (§3, §4.6).
type PendingFinalization struct {
	Stage         Stage
	Bundle        []byte // source payload handed to Finalize: a V5 bundle's transfer commitment, or a commitment-only envelope's source token
	SenderPubKey  string
	SavedAt       int64
	AttemptCount  int
	LastAttemptAt int64
	MintProof     []byte // present once Stage >= MINT_PROVEN
	TransferProof []byte // present once Stage >= TRANSFER_SUBMITTED and a proof has landed

	// Fields reconstructed from the bundle at receive time, carried here so
	// each stage can resubmit without re-parsing the bundle.
	RecipientMintData  []byte
	MintCommitment     []byte
	TransferCommitment []byte
	MintedTokenState   []byte
	TransferSalt       []byte
	NametagToken       []byte

	SplitGroupID  string
	CoinID        string
	Amount        string
	RecipientAddr string
}

// TokenPayload is the tagged variant covering a token's serialized-blob slot:
// either a finalized SDK blob or a pending-finalization envelope. Only one
// arm is ever populated.
type TokenPayload struct {
	Finalized []byte
	Pending   *PendingFinalization
}

// IsPending reports whether this payload carries an in-flight finalization.
func (p TokenPayload) IsPending() bool { return p.Pending != nil }

// Token is the wallet-local representation of one owned token state (§3).
type Token struct {
	LocalID   string
	CoinID    string
	Symbol    string
	Name      string
	Decimals  uint8
	IconURL   string
	Amount    string
	Status    Status
	CreatedAt int64
	UpdatedAt int64
	Payload   TokenPayload
}

// TombstoneEntry proves a (genesis_id, state_hash) pair has been spent (§3).
type TombstoneEntry struct {
	TokenID     string
	StateHash   string
	TimestampMS int64
}

func (t TombstoneEntry) Key() TokenKey { return TokenKey{GenesisID: t.TokenID, StateHash: t.StateHash} }

// ArchivedToken stores the full transaction history for a genesis id (§3).
type ArchivedToken struct {
	GenesisID   string
	History     [][]byte // sequence of committed transitions, possibly + one uncommitted tail
	TimestampMS int64    // when this entry was last written, for oldest-first eviction
}

// ForkedToken holds an alternative, non-reconcilable history (§3).
type ForkedToken struct {
	GenesisID   string
	StateHash   string
	History     [][]byte
	TimestampMS int64 // when this entry was last written, for oldest-first eviction
}

// Key returns the fork map key: genesis_id || '_' || state_hash.
func (f ForkedToken) Key() string { return f.GenesisID + "_" + f.StateHash }

// Nametag is a minted identity token bound to a human-readable name (§3).
type Nametag struct {
	Name      string
	SDKBlob   []byte
	CreatedAt int64
}

// HistoryType enumerates the user-visible transaction kinds (§3).
type HistoryType string

const (
	HistorySent     HistoryType = "SENT"
	HistoryReceived HistoryType = "RECEIVED"
	HistorySplit    HistoryType = "SPLIT"
	HistoryMint     HistoryType = "MINT"
)

// TransactionHistoryEntry is one user-visible log line (§3).
type TransactionHistoryEntry struct {
	ID          string
	Type        HistoryType
	Amount      string
	CoinID      string
	TimestampMS int64
	PeerLabel   string
	DedupKey    string
}

// OutboxEntry is an in-flight send, persisted for crash recovery (§3).
type OutboxEntry struct {
	TransferResult   TransferResult
	RecipientPubKey  string
	CreatedAt        int64
}

// nowMS returns the current wall-clock time in milliseconds.
func nowMS() int64 { return time.Now().UnixMilli() }

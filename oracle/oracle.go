// Package oracle declares the external aggregator and state-transition
// contracts the wallet consumes but does not implement. Per the spec these
// are delivered by a state-transition client and an oracle (aggregator)
// provider; this module only depends on their Go interfaces.
package oracle

import (
	"context"
	"time"
)

// Commitment is an opaque, already-constructed transition intent (mint or
// transfer). Its cryptographic construction is out of scope; the wallet only
// ever passes it through.
type Commitment struct {
	RequestIDHex string
	Payload      []byte
}

// SubmissionStatus mirrors the aggregator's accepted outcomes for a
// commitment submission. REQUEST_ID_EXISTS is treated as idempotent success
// per §5/§7 of the spec.
type SubmissionStatus string

const (
	StatusSuccess         SubmissionStatus = "SUCCESS"
	StatusRequestIDExists SubmissionStatus = "REQUEST_ID_EXISTS"
	StatusRejected        SubmissionStatus = "REJECTED"
)

// Accepted reports whether a submission outcome should be treated as a
// successful (possibly duplicate) submission.
func (s SubmissionStatus) Accepted() bool {
	return s == StatusSuccess || s == StatusRequestIDExists
}

// Proof is an opaque inclusion proof returned by the aggregator once a
// commitment has been anchored.
type Proof struct {
	RequestIDHex string
	Payload      []byte
	ObservedAt   time.Time
}

// ValidationResult is the oracle's verdict on a finalized token blob.
type ValidationResult struct {
	Valid bool
	Spent bool
}

// FinalizeRequest bundles everything the state-transition client needs to
// combine a source token, a transfer transaction and recipient state (plus
// optional nametag witnesses) into a finalized token owned by the recipient.
type FinalizeRequest struct {
	TrustBase        TrustBase
	SourceToken      []byte
	RecipientState   []byte
	TransferTx       []byte
	NametagWitnesses [][]byte
}

// TrustBase is an opaque handle to the aggregator's current trust-base
// snapshot, required by Finalize.
type TrustBase struct {
	Payload []byte
}

// StateTransitionClient is the external client for submitting commitments
// and finalizing received tokens. Its cryptographic internals are entirely
// out of scope for this module.
type StateTransitionClient interface {
	SubmitMintCommitment(ctx context.Context, c Commitment) (SubmissionStatus, error)
	SubmitTransferCommitment(ctx context.Context, c Commitment) (SubmissionStatus, error)
	Finalize(ctx context.Context, req FinalizeRequest) ([]byte, error)
}

// Provider is the aggregator access contract: validity/spent-status checks
// and inclusion-proof retrieval, blocking or polling.
type Provider interface {
	ValidateToken(ctx context.Context, blob []byte) (ValidationResult, error)
	WaitForProof(ctx context.Context, c Commitment) (Proof, error)
	GetProof(ctx context.Context, requestIDHex string) (*Proof, error)
	StateTransitionClient() StateTransitionClient
	TrustBase() TrustBase
}

// Package transport declares the external peer-to-peer message bus the
// wallet consumes. The wire framing and routing are delivered by a
// transport provider (modeled here in the shape of a libp2p-pubsub-style
// fire-and-forget bus, per the teacher's core/network.go); this module only
// depends on its Go interface.
package transport

import "context"

// PeerInfo is what the transport resolves an opaque recipient string into.
type PeerInfo struct {
	TransportPubKey string
	DirectAddress   *string
	Nametag         *string
}

// EnvelopeKind discriminates the payload shapes the receive pipeline must
// classify (§4.5).
type EnvelopeKind int

const (
	KindUnknown EnvelopeKind = iota
	KindCommitmentOnly
	KindFullyProven
	KindSplitBundleV4
	KindSplitBundleV5
)

// Envelope is the superset wire shape carried over the token-transfer topic.
// Exactly the fields relevant to its Kind are populated by senders; the
// receive pipeline (C5) re-derives Kind defensively rather than trusting a
// stale discriminator (see classify in the wallet package).
type Envelope struct {
	Kind EnvelopeKind

	// Commitment-only / fully-proven shapes.
	SourceToken    []byte
	CommitmentData []byte
	TransferTx     []byte
	Memo           *string

	// Split bundle V5 shape.
	SplitGroupID        string
	CoinID              string
	Amount              string
	RecipientMintData   []byte
	MintCommitment      []byte
	TransferCommitment  []byte
	TransferSaltHex     string
	MintedTokenState    []byte
	TokenTypeHex        string
	RecipientAddress    string
	NametagToken        []byte

	// Split bundle V4 (legacy, processed synchronously).
	V4Payload []byte
}

// PaymentRequest is the conversational-flow bookkeeping payload; the
// conversational UI itself is out of scope, only the request/response
// envelope shapes are.
type PaymentRequest struct {
	ID       string
	CoinID   string
	Amount   string
	Memo     *string
	FromPub  string
}

type PaymentRequestResponse struct {
	RequestID string
	Accepted  bool
}

// Provider is the external transport contract: recipient resolution,
// fire-and-forget token-transfer envelopes, and the payment-request
// conversational bookkeeping primitives.
type Provider interface {
	Resolve(ctx context.Context, recipient string) (*PeerInfo, error)

	SendTokenTransfer(ctx context.Context, pubKey string, env Envelope) error
	OnTokenTransfer(cb func(env Envelope))

	SendPaymentRequest(ctx context.Context, pubKey string, req PaymentRequest) error
	SendPaymentRequestResponse(ctx context.Context, pubKey string, resp PaymentRequestResponse) error
	OnPaymentRequest(cb func(req PaymentRequest))
	OnPaymentRequestResponse(cb func(resp PaymentRequestResponse))

	FetchPendingEvents(ctx context.Context) ([]Envelope, error)
}

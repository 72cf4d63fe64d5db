// Package testutil provides in-memory fakes for the oracle, transport and
// storage contracts, used by every wallet package test instead of mocks
// generated from an external framework (the pack's own tests favor small
// hand-written fakes over mocking libraries).
package testutil

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/unicitynetwork/token-wallet/oracle"
	"github.com/unicitynetwork/token-wallet/storage"
	"github.com/unicitynetwork/token-wallet/transport"
)

// FakeStateTransitionClient records submissions and lets tests script
// Finalize's return value.
type FakeStateTransitionClient struct {
	mu          sync.Mutex
	Submissions []oracle.Commitment
	RejectMint  bool
	RejectXfer  bool

	FinalizeFn func(req oracle.FinalizeRequest) ([]byte, error)
}

func (c *FakeStateTransitionClient) SubmitMintCommitment(ctx context.Context, cm oracle.Commitment) (oracle.SubmissionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Submissions = append(c.Submissions, cm)
	if c.RejectMint {
		return oracle.StatusRejected, nil
	}
	return oracle.StatusSuccess, nil
}

func (c *FakeStateTransitionClient) SubmitTransferCommitment(ctx context.Context, cm oracle.Commitment) (oracle.SubmissionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Submissions = append(c.Submissions, cm)
	if c.RejectXfer {
		return oracle.StatusRejected, nil
	}
	return oracle.StatusSuccess, nil
}

func (c *FakeStateTransitionClient) Finalize(ctx context.Context, req oracle.FinalizeRequest) ([]byte, error) {
	if c.FinalizeFn != nil {
		return c.FinalizeFn(req)
	}
	return append([]byte("finalized:"), req.SourceToken...), nil
}

// FakeOracle is an in-memory oracle.Provider: proofs become available for a
// request id as soon as the test calls Resolve (or immediately, if
// AutoResolve is set).
type FakeOracle struct {
	mu          sync.Mutex
	client      *FakeStateTransitionClient
	proofs      map[string]oracle.Proof
	AutoResolve bool
	ValidResult oracle.ValidationResult
}

func NewFakeOracle() *FakeOracle {
	return &FakeOracle{
		client:      &FakeStateTransitionClient{},
		proofs:      make(map[string]oracle.Proof),
		AutoResolve: true,
		ValidResult: oracle.ValidationResult{Valid: true},
	}
}

func (o *FakeOracle) Client() *FakeStateTransitionClient { return o.client }

func (o *FakeOracle) Resolve(requestIDHex string, payload []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.proofs[requestIDHex] = oracle.Proof{RequestIDHex: requestIDHex, Payload: payload}
}

func (o *FakeOracle) ValidateToken(ctx context.Context, blob []byte) (oracle.ValidationResult, error) {
	return o.ValidResult, nil
}

func (o *FakeOracle) WaitForProof(ctx context.Context, c oracle.Commitment) (oracle.Proof, error) {
	if o.AutoResolve {
		o.Resolve(c.RequestIDHex, append([]byte("proof:"), c.Payload...))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.proofs[c.RequestIDHex]
	if !ok {
		return oracle.Proof{}, context.DeadlineExceeded
	}
	return p, nil
}

func (o *FakeOracle) GetProof(ctx context.Context, requestIDHex string) (*oracle.Proof, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.proofs[requestIDHex]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (o *FakeOracle) StateTransitionClient() oracle.StateTransitionClient { return o.client }

func (o *FakeOracle) TrustBase() oracle.TrustBase { return oracle.TrustBase{Payload: []byte("trust")} }

// FakeTransport is an in-memory transport.Provider. Recipients are resolved
// from peers added with RegisterPeer; every sent envelope or payment request
// is delivered to every subscriber regardless of pubKey, including a
// subscribed sending wallet itself.
type FakeTransport struct {
	mu          sync.Mutex
	peers       map[string]transport.PeerInfo
	transferCBs []func(transport.Envelope)
	reqCBs      []func(transport.PaymentRequest)
	respCBs     []func(transport.PaymentRequestResponse)
	Sent        []transport.Envelope
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{peers: make(map[string]transport.PeerInfo)}
}

func (t *FakeTransport) RegisterPeer(key string, info transport.PeerInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[key] = info
}

func (t *FakeTransport) Resolve(ctx context.Context, recipient string) (*transport.PeerInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[recipient]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *FakeTransport) SendTokenTransfer(ctx context.Context, pubKey string, env transport.Envelope) error {
	t.mu.Lock()
	t.Sent = append(t.Sent, env)
	cbs := append([]func(transport.Envelope){}, t.transferCBs...)
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(env)
	}
	return nil
}

func (t *FakeTransport) OnTokenTransfer(cb func(env transport.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferCBs = append(t.transferCBs, cb)
}

func (t *FakeTransport) SendPaymentRequest(ctx context.Context, pubKey string, req transport.PaymentRequest) error {
	t.mu.Lock()
	cbs := append([]func(transport.PaymentRequest){}, t.reqCBs...)
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(req)
	}
	return nil
}

func (t *FakeTransport) SendPaymentRequestResponse(ctx context.Context, pubKey string, resp transport.PaymentRequestResponse) error {
	t.mu.Lock()
	cbs := append([]func(transport.PaymentRequestResponse){}, t.respCBs...)
	t.mu.Unlock()
	for _, cb := range cbs {
		cb(resp)
	}
	return nil
}

func (t *FakeTransport) OnPaymentRequest(cb func(req transport.PaymentRequest)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reqCBs = append(t.reqCBs, cb)
}

func (t *FakeTransport) OnPaymentRequestResponse(cb func(resp transport.PaymentRequestResponse)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.respCBs = append(t.respCBs, cb)
}

func (t *FakeTransport) FetchPendingEvents(ctx context.Context) ([]transport.Envelope, error) {
	return nil, nil
}

// FakeStorage is an in-memory storage.TokenStorageProvider and storage.KV.
type FakeStorage struct {
	mu      sync.Mutex
	archive storage.Archive
	has     bool
	kv      map[string]string
	subs    []func()
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{kv: make(map[string]string)}
}

func (s *FakeStorage) Save(ctx context.Context, archive storage.Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = archive
	s.has = true
	return nil
}

func (s *FakeStorage) Load(ctx context.Context) (storage.Archive, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive, s.has, nil
}

func (s *FakeStorage) Sync(ctx context.Context, local storage.Archive) (storage.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = local
	s.has = true
	merged := local
	return storage.SyncResult{Success: true, Merged: &merged, Added: len(local.Tokens)}, nil
}

func (s *FakeStorage) Subscribe(cb func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, cb)
	return func() {}
}

func (s *FakeStorage) TriggerRemoteUpdate() {
	s.mu.Lock()
	cbs := append([]func(){}, s.subs...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (s *FakeStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *FakeStorage) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *FakeStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

// HexID is a small helper for tests building commitment/request ids.
func HexID(b []byte) string { return hex.EncodeToString(b) }

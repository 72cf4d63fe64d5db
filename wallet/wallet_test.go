package wallet

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unicitynetwork/token-wallet/internal/config"
	"github.com/unicitynetwork/token-wallet/internal/signing"
	"github.com/unicitynetwork/token-wallet/internal/testutil"
	"github.com/unicitynetwork/token-wallet/storage"
	"github.com/unicitynetwork/token-wallet/transport"
)

// recordingSink collects every emitted event for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []EventKind
}

func (s *recordingSink) Emit(kind EventKind, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind)
}

func (s *recordingSink) has(kind EventKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.events {
		if k == kind {
			return true
		}
	}
	return false
}

func newTestWallet(t *testing.T, o *testutil.FakeOracle, tr *testutil.FakeTransport, sink EventSink, providers ...storage.TokenStorageProvider) *Wallet {
	t.Helper()
	signer, err := signing.FromSeed([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("signing.FromSeed: %v", err)
	}
	return New(config.Default(), o, tr, signer, sink, providers, "wallet-under-test")
}

func blobFor(genesisID, stateHash, coinID, amount string) []byte {
	return []byte(`{"genesis":{"tokenId":"` + genesisID + `"},"state":{"hash":"` + stateHash + `"},"coins":[["` + coinID + `","` + amount + `"]]}`)
}

// directRecipientKey is a 66-character lowercase-hex string matching the
// direct-pubkey recipient pattern (a 33-byte compressed-key-shaped value).
var directRecipientKey = "02" + strings.Repeat("ab", 32)

func TestSendConservativeDirect(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	sink := &recordingSink{}
	w := newTestWallet(t, o, tr, sink)

	tok := &Token{LocalID: "t1", CoinID: "coin", Amount: "100", Status: StatusConfirmed, Payload: TokenPayload{Finalized: blobFor("g1", "s1", "coin", "100")}}
	w.repo.AddToken(tok, true)

	result, err := w.Send(context.Background(), SendRequest{
		CoinID: "coin", Amount: "100", Recipient: directRecipientKey, TransferMode: ModeConservative, AddressMode: AddressAuto,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Status != "confirmed" {
		t.Fatalf("expected confirmed status, got %q", result.Status)
	}
	if len(tr.Sent) != 1 || tr.Sent[0].Kind != transport.KindFullyProven {
		t.Fatalf("expected one fully-proven envelope, got %+v", tr.Sent)
	}
	if _, ok := w.repo.GetToken("t1"); ok {
		t.Fatal("expected spent token removed from active set")
	}
	if !sink.has(EventTransferConfirmed) {
		t.Fatal("expected EventTransferConfirmed emitted")
	}
	// The fake transport also delivers the envelope back to this wallet, so
	// alongside the one SENT entry it logs one RECEIVED entry.
	hist := w.repo.History()
	sent, received := 0, 0
	for _, h := range hist {
		switch h.Type {
		case HistorySent:
			sent++
		case HistoryReceived:
			received++
		}
	}
	if len(hist) != 2 || sent != 1 || received != 1 {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestSendInsufficientFunds(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	_, err := w.Send(context.Background(), SendRequest{CoinID: "coin", Amount: "100", Recipient: directRecipientKey})
	if err == nil {
		t.Fatal("expected error for empty wallet")
	}
}

func TestSendInstantModeRemovesTokenImmediately(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	tok := &Token{LocalID: "t1", CoinID: "coin", Amount: "50", Status: StatusConfirmed, Payload: TokenPayload{Finalized: blobFor("g1", "s1", "coin", "50")}}
	w.repo.AddToken(tok, true)

	_, err := w.Send(context.Background(), SendRequest{CoinID: "coin", Amount: "50", Recipient: directRecipientKey, TransferMode: ModeInstant})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.Sent) != 1 || tr.Sent[0].Kind != transport.KindCommitmentOnly {
		t.Fatalf("expected commitment-only envelope dispatched immediately, got %+v", tr.Sent)
	}
	if _, ok := w.repo.GetToken("t1"); ok {
		t.Fatal("expected token removed even though the background submission hasn't completed")
	}
}

func TestSendRollsBackOnSubmissionRejection(t *testing.T) {
	o := testutil.NewFakeOracle()
	o.Client().RejectXfer = true
	tr := testutil.NewFakeTransport()
	sink := &recordingSink{}
	w := newTestWallet(t, o, tr, sink)

	tok := &Token{LocalID: "t1", CoinID: "coin", Amount: "50", Status: StatusConfirmed, Payload: TokenPayload{Finalized: blobFor("g1", "s1", "coin", "50")}}
	w.repo.AddToken(tok, true)

	_, err := w.Send(context.Background(), SendRequest{CoinID: "coin", Amount: "50", Recipient: directRecipientKey, TransferMode: ModeConservative})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	got, ok := w.repo.GetToken("t1")
	if !ok || got.Status != StatusConfirmed {
		t.Fatalf("expected token rolled back to confirmed, got %+v ok=%v", got, ok)
	}
	if !sink.has(EventTransferFailed) {
		t.Fatal("expected EventTransferFailed emitted")
	}
}

func TestReceiveFullyProvenEnvelope(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	sink := &recordingSink{}
	w := newTestWallet(t, o, tr, sink)

	env := transport.Envelope{
		SourceToken: blobFor("g2", "s2", "coin", "25"),
		TransferTx:  []byte("proof-bytes"),
	}
	w.handleIncomingEnvelope(env)

	active := w.repo.ActiveTokens()
	if len(active) != 1 || active[0].Status != StatusConfirmed {
		t.Fatalf("expected one confirmed token after receive, got %+v", active)
	}
	if !sink.has(EventTransferIncoming) {
		t.Fatal("expected EventTransferIncoming emitted")
	}
}

func TestReceiveSplitV5StoresPendingToken(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	env := transport.Envelope{SplitGroupID: "grp-1", CoinID: "coin", Amount: "10"}
	w.handleIncomingEnvelope(env)

	localID := deterministicLocalID("grp-1")
	tok, ok := w.repo.GetToken(localID)
	if !ok {
		t.Fatal("expected pending token stored under deterministic local id")
	}
	if tok.Status != StatusSubmitted || !tok.Payload.IsPending() {
		t.Fatalf("expected submitted/pending token, got %+v", tok)
	}
}

func TestReceiveSplitV5DeduplicatesRedelivery(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	env := transport.Envelope{SplitGroupID: "grp-2", CoinID: "coin", Amount: "10"}
	w.handleIncomingEnvelope(env)
	w.handleIncomingEnvelope(env)

	if len(w.repo.ActiveTokens()) != 1 {
		t.Fatalf("expected redelivery to dedupe onto one entry, got %d", len(w.repo.ActiveTokens()))
	}
}

func TestReceiveCommitmentOnlyEnqueuesPoller(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	env := transport.Envelope{SourceToken: blobFor("g3", "s3", "coin", "10"), CommitmentData: []byte("commit-bytes")}
	w.handleIncomingEnvelope(env)

	unconfirmed := w.repo.UnconfirmedTokens()
	if len(unconfirmed) != 1 {
		t.Fatalf("expected one submitted/pending token awaiting proof, got %d", len(unconfirmed))
	}
	if unconfirmed[0].Payload.Pending.Stage != StageMintProven {
		t.Fatalf("expected commitment-only receive to start at MINT_PROVEN, got %q", unconfirmed[0].Payload.Pending.Stage)
	}
}

func TestSyncCoalescesConcurrentCallers(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	s1 := testutil.NewFakeStorage()
	w := newTestWallet(t, o, tr, nil, s1)

	tok := &Token{LocalID: "t1", CoinID: "coin", Amount: "1", Status: StatusConfirmed, Payload: TokenPayload{Finalized: blobFor("g1", "s1", "coin", "1")}}
	w.repo.AddToken(tok, true)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = w.Sync(context.Background())
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("sync %d failed: %v", i, err)
		}
	}
}

func TestLoadRestoresFromProvider(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	s1 := testutil.NewFakeStorage()

	seed := newTestWallet(t, o, tr, nil, s1)
	seed.repo.AddToken(&Token{LocalID: "t1", CoinID: "coin", Amount: "1", Status: StatusConfirmed, Payload: TokenPayload{Finalized: blobFor("g1", "s1", "coin", "1")}}, true)
	if err := seed.Sync(context.Background()); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	fresh := newTestWallet(t, o, tr, nil, s1)
	if err := fresh.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(fresh.repo.ActiveTokens()) != 1 {
		t.Fatalf("expected token restored from provider, got %d", len(fresh.repo.ActiveTokens()))
	}
	time.Sleep(10 * time.Millisecond) // let the background ResolveUnconfirmed sweep run
}

func TestResolveUnconfirmedAdvancesV5ThroughToConfirmed(t *testing.T) {
	o := testutil.NewFakeOracle()
	o.AutoResolve = false
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	env := transport.Envelope{
		SplitGroupID:       "grp-full",
		CoinID:             "coin",
		Amount:             "10",
		RecipientAddress:   directRecipientKey,
		TransferCommitment: []byte("xfer-commit"),
		MintCommitment:     []byte("mint-commit"),
	}
	w.handleIncomingEnvelope(env)
	localID := deterministicLocalID("grp-full")

	tok, ok := w.repo.GetToken(localID)
	if !ok || tok.Payload.Pending.Stage != StageReceived || tok.Payload.Pending.AttemptCount != 0 {
		t.Fatalf("expected fresh RECEIVED token with zero attempts, got %+v", tok)
	}

	ctx := context.Background()

	// RECEIVED -> MINT_SUBMITTED (mint commitment accepted).
	w.ResolveUnconfirmed(ctx)
	tok, _ = w.repo.GetToken(localID)
	if tok.Payload.Pending.Stage != StageMintSubmitted || tok.Payload.Pending.AttemptCount != 1 {
		t.Fatalf("expected MINT_SUBMITTED after attempt 1, got stage=%q attempts=%d", tok.Payload.Pending.Stage, tok.Payload.Pending.AttemptCount)
	}

	// MINT_SUBMITTED -> MINT_PROVEN once the mint proof is available.
	o.Resolve(localID+":mint", []byte("mint-proof"))
	w.ResolveUnconfirmed(ctx)
	tok, _ = w.repo.GetToken(localID)
	if tok.Payload.Pending.Stage != StageMintProven || tok.Payload.Pending.AttemptCount != 2 {
		t.Fatalf("expected MINT_PROVEN after attempt 2, got stage=%q attempts=%d", tok.Payload.Pending.Stage, tok.Payload.Pending.AttemptCount)
	}

	// MINT_PROVEN -> TRANSFER_SUBMITTED (transfer commitment accepted).
	w.ResolveUnconfirmed(ctx)
	tok, _ = w.repo.GetToken(localID)
	if tok.Payload.Pending.Stage != StageTransferSubmitted || tok.Payload.Pending.AttemptCount != 3 {
		t.Fatalf("expected TRANSFER_SUBMITTED after attempt 3, got stage=%q attempts=%d", tok.Payload.Pending.Stage, tok.Payload.Pending.AttemptCount)
	}

	// TRANSFER_SUBMITTED -> confirmed once the transfer proof is available.
	o.Resolve(localID+":transfer", []byte("transfer-proof"))
	w.ResolveUnconfirmed(ctx)

	if len(w.repo.UnconfirmedTokens()) != 0 {
		t.Fatalf("expected no unconfirmed tokens left, got %d", len(w.repo.UnconfirmedTokens()))
	}
	tok, ok = w.repo.GetToken(localID)
	if !ok || tok.Status != StatusConfirmed || tok.Payload.Pending != nil {
		t.Fatalf("expected token confirmed with pending cleared, got %+v ok=%v", tok, ok)
	}

	var received []TransactionHistoryEntry
	for _, h := range w.repo.History() {
		if h.Type == HistoryReceived {
			received = append(received, h)
		}
	}
	if len(received) != 1 {
		t.Fatalf("expected exactly one RECEIVED history entry, got %d", len(received))
	}
}

func TestOnRemoteUpdateDebouncesIntoSync(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	s1 := testutil.NewFakeStorage()
	cfg := config.Default()
	cfg.Sync.DebounceInterval = 10 * time.Millisecond
	signer, _ := signing.FromSeed([]byte("0123456789abcdef0123456789abcdef"))
	w := New(cfg, o, tr, signer, nil, []storage.TokenStorageProvider{s1}, "addr")

	w.onRemoteUpdate()
	w.onRemoteUpdate()
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := s1.Load(context.Background()); !ok {
		t.Fatal("expected the debounced sync to reach the provider")
	}
}

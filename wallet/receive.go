package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/oracle"
	"github.com/unicitynetwork/token-wallet/transport"
)

// handleIncomingEnvelope is the single subscription entry point for every
// envelope arriving over the transport bus (§4.5). Classification is
// strictly by payload shape, in the order given by the spec.
func (w *Wallet) handleIncomingEnvelope(env transport.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kind := classify(&env)
	switch kind {
	case transport.KindSplitBundleV5:
		receivesTotal.WithLabelValues("split_v5").Inc()
		w.processSplitV5(env)
	case transport.KindSplitBundleV4:
		receivesTotal.WithLabelValues("split_v4").Inc()
		w.processSplitV4(ctx, env)
	case transport.KindCommitmentOnly:
		receivesTotal.WithLabelValues("commitment_only").Inc()
		w.processCommitmentOnly(ctx, env)
	case transport.KindFullyProven:
		receivesTotal.WithLabelValues("fully_proven").Inc()
		w.processFullyProven(ctx, env)
	default:
		receivesTotal.WithLabelValues("unknown").Inc()
		log.Warn("receive: envelope matched no known classification, dropping")
	}
}

// classify re-derives the envelope's shape defensively rather than trusting
// a stale discriminator; it also promotes the two alternative "unknown
// format" inner-envelope shapes named in §9's open questions (a bare
// commitment-without-proof inside transfer_tx, or a bare serialized token
// under a legacy key) to one of the three canonical classifications.
func classify(env *transport.Envelope) transport.EnvelopeKind {
	if env.SplitGroupID != "" {
		return transport.KindSplitBundleV5
	}
	if len(env.V4Payload) > 0 {
		return transport.KindSplitBundleV4
	}
	if len(env.TransferTx) > 0 {
		if looksLikeBareCommitment(env.TransferTx) {
			// Alternative shape: a commitment-without-proof smuggled under
			// transfer_tx. Promote to commitment-only.
			env.CommitmentData = env.TransferTx
			env.TransferTx = nil
			return transport.KindCommitmentOnly
		}
		return transport.KindFullyProven
	}
	if len(env.CommitmentData) > 0 {
		return transport.KindCommitmentOnly
	}
	if len(env.SourceToken) > 0 {
		// Alternative shape: a bare serialized token under the legacy
		// source_token key with neither commitment nor tx — treat as
		// already fully-proven; ExtractStateHash will find a committed
		// state or the downstream validation step will reject it.
		return transport.KindFullyProven
	}
	return transport.KindUnknown
}

// looksLikeBareCommitment applies the ecosystem-tolerant heuristic named in
// §9: the sender-side convention for distinguishing a commitment from a
// finalized transaction inside an ambiguous inner envelope is not declared,
// so both known conventions are tolerated. Here: a commitment carries a
// "commitment:" discriminator prefix; anything else is assumed proven.
func looksLikeBareCommitment(data []byte) bool {
	return strings.HasPrefix(string(data), "commitment:")
}

func tokenKeyFromBlob(blob []byte) (TokenKey, bool) {
	b := NewTextBlob(blob)
	genesis, ok1 := ExtractGenesisID(b)
	state, ok2 := ExtractStateHash(b)
	return TokenKey{GenesisID: genesis, StateHash: state}, ok1 && ok2
}

// processSplitV5 saves the bundle immediately as an unconfirmed token
// driven by the lazy finalization state machine (§4.5, §4.6). The local id
// is deterministic from the split-group id so repeated delivery
// deduplicates onto the same entry (P6/B4).
func (w *Wallet) processSplitV5(env transport.Envelope) {
	localID := deterministicLocalID(env.SplitGroupID)
	if _, exists := w.repo.GetToken(localID); exists {
		log.WithField("split_group_id", env.SplitGroupID).Debug("receive: duplicate V5 bundle, ignored")
		return
	}

	pf := &PendingFinalization{
		Stage:              StageReceived,
		Bundle:             env.TransferCommitment,
		SavedAt:            nowMS(),
		RecipientMintData:  env.RecipientMintData,
		MintCommitment:     env.MintCommitment,
		TransferCommitment: env.TransferCommitment,
		MintedTokenState:   env.MintedTokenState,
		TransferSalt:       decodeHex(env.TransferSaltHex),
		NametagToken:       env.NametagToken,
		SplitGroupID:       env.SplitGroupID,
		CoinID:             env.CoinID,
		Amount:             env.Amount,
		RecipientAddr:      env.RecipientAddress,
	}

	t := &Token{
		LocalID:   localID,
		CoinID:    env.CoinID,
		Amount:    env.Amount,
		Status:    StatusSubmitted,
		CreatedAt: nowMS(),
		UpdatedAt: nowMS(),
		Payload:   TokenPayload{Pending: pf},
	}
	w.repo.AddToken(t, true)
	w.emit(EventTransferIncoming, t)
}

// processSplitV4 processes a legacy V4 split bundle synchronously: it runs
// mint, transfer, and finalize to completion before returning, blocking on
// the oracle's WaitForProof rather than the multi-stage lazy machine used
// for V5.
func (w *Wallet) processSplitV4(ctx context.Context, env transport.Envelope) {
	client := w.oracle.StateTransitionClient()

	mintStatus, err := client.SubmitMintCommitment(ctx, oracle.Commitment{RequestIDHex: env.SplitGroupID + ":mint", Payload: env.V4Payload})
	if err != nil || !mintStatus.Accepted() {
		log.WithError(err).Warn("receive: v4 mint submission rejected")
		return
	}
	mintProof, err := w.oracle.WaitForProof(ctx, oracle.Commitment{RequestIDHex: env.SplitGroupID + ":mint"})
	if err != nil {
		log.WithError(err).Warn("receive: v4 mint proof wait failed")
		return
	}

	transferStatus, err := client.SubmitTransferCommitment(ctx, oracle.Commitment{RequestIDHex: env.SplitGroupID + ":transfer", Payload: env.V4Payload})
	if err != nil || !transferStatus.Accepted() {
		log.WithError(err).Warn("receive: v4 transfer submission rejected")
		return
	}
	transferProof, err := w.oracle.WaitForProof(ctx, oracle.Commitment{RequestIDHex: env.SplitGroupID + ":transfer"})
	if err != nil {
		log.WithError(err).Warn("receive: v4 transfer proof wait failed")
		return
	}

	finalized, err := client.Finalize(ctx, oracle.FinalizeRequest{
		TrustBase:      w.oracle.TrustBase(),
		SourceToken:    mintProof.Payload,
		RecipientState: nil,
		TransferTx:     transferProof.Payload,
	})
	if err != nil {
		log.WithError(err).Warn("receive: v4 finalize failed")
		return
	}
	w.finishReceive(ctx, finalized, env.CoinID, env.Amount, "v4:"+env.SplitGroupID)
}

// processCommitmentOnly saves the token as submitted, idempotently
// resubmits the commitment to the aggregator, and enqueues a proof-polling
// job (§4.5 item 2).
func (w *Wallet) processCommitmentOnly(ctx context.Context, env transport.Envelope) {
	key, ok := tokenKeyFromBlob(env.SourceToken)
	if ok && w.repo.IsTombstoned(key) {
		log.WithField("genesis_id", key.GenesisID).Debug("receive: commitment-only token already tombstoned")
		return
	}

	info, _ := ParseTokenInfo(NewTextBlob(env.SourceToken))
	localID := newULID()
	requestID := localID + ":transfer"

	status, err := w.oracle.StateTransitionClient().SubmitTransferCommitment(ctx, oracle.Commitment{RequestIDHex: requestID, Payload: env.CommitmentData})
	if err != nil || !status.Accepted() {
		log.WithError(err).Warn("receive: commitment-only submission rejected")
		return
	}

	t := &Token{
		LocalID:   localID,
		CoinID:    info.CoinID,
		Amount:    info.Amount,
		Status:    StatusSubmitted,
		CreatedAt: nowMS(),
		UpdatedAt: nowMS(),
		Payload: TokenPayload{Pending: &PendingFinalization{
			Stage:              StageMintProven,
			Bundle:             env.SourceToken,
			TransferCommitment: env.CommitmentData,
			SavedAt:            nowMS(),
		}},
	}
	w.repo.AddToken(t, true)
	w.emit(EventTransferIncoming, t)

	w.poller.Enqueue(localID, oracle.Commitment{RequestIDHex: requestID, Payload: env.CommitmentData}, func(proof oracle.Proof) {
		w.finishReceive(context.Background(), proof.Payload, info.CoinID, info.Amount, localID)
	})
}

// processFullyProven handles a {source_token, transfer_tx, memo?} envelope,
// branching on the recipient's address scheme (§4.5 item 3).
func (w *Wallet) processFullyProven(ctx context.Context, env transport.Envelope) {
	key, ok := tokenKeyFromBlob(env.SourceToken)
	if ok && w.repo.IsTombstoned(key) {
		log.WithField("genesis_id", key.GenesisID).Debug("receive: fully-proven token already tombstoned")
		return
	}

	var recipientState []byte
	if isLegacyAddress(env.RecipientAddress) {
		legacy, err := w.signer.BuildLegacyPredicate(0, 0, nil)
		if err != nil {
			log.WithError(err).Error("receive: legacy predicate build failed")
			return
		}
		recipientState = legacy.PublicKey
	} else {
		predicate, err := w.signer.BuildPredicate(0, 0, nil)
		if err != nil {
			log.WithError(err).Error("receive: predicate build failed")
			return
		}
		recipientState = predicate.PublicKey
	}

	var witnesses [][]byte
	if isProxyAddress(env.RecipientAddress) {
		n, ok := w.repo.FindNametagByProxyAddress(env.RecipientAddress, func(n Nametag) string { return "@" + n.Name })
		if !ok {
			log.WithField("recipient", env.RecipientAddress).Warn("receive: proxy address mismatch, rejecting token")
			return
		}
		witnesses = [][]byte{n.SDKBlob}
	}

	finalized, err := w.oracle.StateTransitionClient().Finalize(ctx, oracle.FinalizeRequest{
		TrustBase:        w.oracle.TrustBase(),
		SourceToken:      env.SourceToken,
		RecipientState:   recipientState,
		TransferTx:       env.TransferTx,
		NametagWitnesses: witnesses,
	})
	if err != nil {
		log.WithError(err).Warn("receive: finalize failed")
		return
	}

	info, _ := ParseTokenInfo(NewTextBlob(env.SourceToken))
	w.finishReceive(ctx, finalized, info.CoinID, info.Amount, "direct:"+newULID())
}

// finishReceive validates the finalized blob with the oracle and, if valid,
// inserts it as a confirmed token with a RECEIVED history entry (§4.5 item
// 4, §4.6 terminal transition).
func (w *Wallet) finishReceive(ctx context.Context, finalizedBlob []byte, coinID, amount, dedupSuffix string) {
	result, err := w.oracle.ValidateToken(ctx, finalizedBlob)
	if err != nil || !result.Valid || result.Spent {
		log.WithField("dedup", dedupSuffix).Warn("receive: finalized token failed validation, dropped")
		return
	}

	key, ok := tokenKeyFromBlob(finalizedBlob)
	if ok && w.repo.IsTombstoned(key) {
		return
	}

	t := &Token{
		LocalID:   newULID(),
		CoinID:    coinID,
		Amount:    amount,
		Status:    StatusConfirmed,
		CreatedAt: nowMS(),
		UpdatedAt: nowMS(),
		Payload:   TokenPayload{Finalized: finalizedBlob},
	}
	if !w.repo.AddToken(t, true) {
		return
	}
	w.repo.AppendHistory(TransactionHistoryEntry{
		Type:        HistoryReceived,
		Amount:      amount,
		CoinID:      coinID,
		TimestampMS: nowMS(),
		DedupKey:    "received:" + dedupSuffix,
	})
	w.emit(EventTransferIncoming, t)
}

func decodeHex(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

package wallet

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/oracle"
)

// ResolveUnconfirmed scans the active set for submitted tokens carrying a
// pending-finalization envelope and advances each one stage (§4.6). Every
// per-stage proof check races the configured quick-timeout so the scan
// returns promptly regardless of aggregator latency.
func (w *Wallet) ResolveUnconfirmed(ctx context.Context) {
	for _, t := range w.repo.UnconfirmedTokens() {
		w.advanceOne(ctx, t.LocalID)
	}
}

// ResolveUnconfirmedUntilDone polls ResolveUnconfirmed until every
// unconfirmed token has resolved (confirmed or invalid) or timeout fires.
func (w *Wallet) ResolveUnconfirmedUntilDone(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		w.ResolveUnconfirmed(ctx)
		if len(w.repo.UnconfirmedTokens()) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (w *Wallet) advanceOne(ctx context.Context, localID string) {
	tok, ok := w.repo.GetToken(localID)
	if !ok || !tok.Payload.IsPending() {
		return
	}
	pf := tok.Payload.Pending

	var newAttemptCount int
	w.repo.UpdateToken(localID, func(t *Token) {
		t.Payload.Pending.AttemptCount++
		t.Payload.Pending.LastAttemptAt = nowMS()
		newAttemptCount = t.Payload.Pending.AttemptCount
	})

	if newAttemptCount > w.cfg.Finalization.MaxAttempts {
		w.repo.UpdateToken(localID, func(t *Token) { t.Status = StatusInvalid })
		log.WithField("local_id", localID).Warn("resolve_unconfirmed: giving up, attempt ceiling reached")
		return
	}

	switch pf.Stage {
	case StageReceived:
		w.stageReceived(ctx, localID, pf)
	case StageMintSubmitted:
		w.stageMintSubmitted(ctx, localID, pf)
	case StageMintProven:
		w.stageMintProven(ctx, localID, pf)
	case StageTransferSubmitted:
		w.stageTransferSubmitted(ctx, localID, pf)
	}
}

func (w *Wallet) stageReceived(ctx context.Context, localID string, pf *PendingFinalization) {
	client := w.oracle.StateTransitionClient()
	status, err := client.SubmitMintCommitment(ctx, oracle.Commitment{
		RequestIDHex: localID + ":mint",
		Payload:      pf.MintCommitment,
	})
	if err != nil || !status.Accepted() {
		log.WithError(err).WithField("local_id", localID).Debug("resolve_unconfirmed: mint submission not yet accepted")
		return
	}
	w.repo.UpdateToken(localID, func(t *Token) {
		t.Payload.Pending.Stage = StageMintSubmitted
	})
}

func (w *Wallet) stageMintSubmitted(ctx context.Context, localID string, pf *PendingFinalization) {
	proof, ok := w.quickCheck(ctx, localID+":mint")
	if !ok {
		return
	}
	w.repo.UpdateToken(localID, func(t *Token) {
		t.Payload.Pending.MintProof = proof.Payload
		t.Payload.Pending.Stage = StageMintProven
	})
}

func (w *Wallet) stageMintProven(ctx context.Context, localID string, pf *PendingFinalization) {
	client := w.oracle.StateTransitionClient()
	status, err := client.SubmitTransferCommitment(ctx, oracle.Commitment{
		RequestIDHex: localID + ":transfer",
		Payload:      pf.TransferCommitment,
	})
	if err != nil || !status.Accepted() {
		log.WithError(err).WithField("local_id", localID).Debug("resolve_unconfirmed: transfer submission not yet accepted")
		return
	}
	w.repo.UpdateToken(localID, func(t *Token) {
		t.Payload.Pending.Stage = StageTransferSubmitted
	})
}

func (w *Wallet) stageTransferSubmitted(ctx context.Context, localID string, pf *PendingFinalization) {
	proof, ok := w.quickCheck(ctx, localID+":transfer")
	if !ok {
		return
	}
	pf.TransferProof = proof.Payload

	var recipientState []byte
	if isLegacyAddress(pf.RecipientAddr) {
		legacy, err := w.signer.BuildLegacyPredicate(0, 0, pf.TransferSalt)
		if err != nil {
			log.WithError(err).WithField("local_id", localID).Error("resolve_unconfirmed: legacy predicate build failed")
			return
		}
		recipientState = legacy.PublicKey
	} else {
		predicate, err := w.signer.BuildPredicate(0, 0, pf.TransferSalt)
		if err != nil {
			log.WithError(err).WithField("local_id", localID).Error("resolve_unconfirmed: predicate build failed")
			return
		}
		recipientState = predicate.PublicKey
	}

	var witnesses [][]byte
	if isProxyAddress(pf.RecipientAddr) {
		witness, ok := w.resolveNametagWitness(pf)
		if !ok {
			log.WithField("local_id", localID).Warn("resolve_unconfirmed: no nametag witness for proxy address, rejecting")
			w.repo.RemoveToken(localID, "", true)
			return
		}
		witnesses = [][]byte{witness}
	}

	finalized, err := w.oracle.StateTransitionClient().Finalize(ctx, oracle.FinalizeRequest{
		TrustBase:        w.oracle.TrustBase(),
		SourceToken:      pf.Bundle,
		RecipientState:   recipientState,
		TransferTx:       proof.Payload,
		NametagWitnesses: witnesses,
	})
	if err != nil {
		log.WithError(err).WithField("local_id", localID).Debug("resolve_unconfirmed: finalize not yet possible")
		return
	}

	amount, coinID, splitGroupID := pf.Amount, pf.CoinID, pf.SplitGroupID
	w.repo.UpdateToken(localID, func(t *Token) {
		t.Payload = TokenPayload{Finalized: finalized}
		t.Status = StatusConfirmed
		t.Amount = amount
		t.CoinID = coinID
	})
	w.repo.AppendHistory(TransactionHistoryEntry{
		Type:        HistoryReceived,
		Amount:      amount,
		CoinID:      coinID,
		TimestampMS: nowMS(),
		DedupKey:    "received-split:" + splitGroupID,
	})
}

// quickCheck races a proof lookup against the configured quick-timeout so a
// finalization stage never blocks the scan.
func (w *Wallet) quickCheck(ctx context.Context, requestID string) (oracle.Proof, bool) {
	cctx, cancel := context.WithTimeout(ctx, w.cfg.Poller.QuickTimeout)
	defer cancel()

	ch := make(chan *oracle.Proof, 1)
	go func() {
		p, err := w.oracle.GetProof(cctx, requestID)
		if err != nil {
			ch <- nil
			return
		}
		ch <- p
	}()

	select {
	case p := <-ch:
		if p == nil {
			return oracle.Proof{}, false
		}
		return *p, true
	case <-cctx.Done():
		return oracle.Proof{}, false
	}
}

func isProxyAddress(addr string) bool {
	return strings.HasPrefix(addr, "proxy:") || strings.HasPrefix(addr, "@")
}

// isLegacyAddress reports whether addr targets the pre-Ed25519 secp256k1
// address scheme (§4.4 AddressMode, supplemented feature).
func isLegacyAddress(addr string) bool {
	return strings.HasPrefix(addr, "legacy:")
}

// resolveNametagWitness looks first at the bundle-embedded nametag token,
// then falls back to a wallet-local nametag match (§4.6).
func (w *Wallet) resolveNametagWitness(pf *PendingFinalization) ([]byte, bool) {
	if len(pf.NametagToken) > 0 {
		return pf.NametagToken, true
	}
	for _, n := range w.repo.Nametags() {
		if "@"+n.Name == pf.RecipientAddr {
			return n.SDKBlob, true
		}
	}
	return nil, false
}


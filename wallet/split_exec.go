package wallet

import (
	"context"
	"encoding/hex"

	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/internal/werr"
	"github.com/unicitynetwork/token-wallet/oracle"
	"github.com/unicitynetwork/token-wallet/transport"
)

// executeSplitSend runs the split orchestration for a plan that could not be
// covered by whole tokens alone (§4.3, §4.4). The split token is burned and
// re-minted into a recipient share and a sender change share; conservative
// mode waits for every proof before dispatch, instant mode dispatches the
// recipient's V5 bundle as soon as the burn proof lands and finishes the
// sender's own change token in the background — mirroring the lazy
// finalization machine the recipient runs on receipt (see processSplitV5).
func (w *Wallet) executeSplitSend(ctx context.Context, req SendRequest, plan SplitPlan, peer transport.PeerInfo, address string) error {
	for _, t := range plan.Direct {
		if err := w.executeDirectSend(ctx, t, req, peer, address); err != nil {
			return err
		}
	}

	t := plan.TokenToSplit
	client := w.oracle.StateTransitionClient()
	splitGroupID := newULID()

	burnCommitment := oracle.Commitment{RequestIDHex: splitGroupID + ":burn", Payload: t.Payload.Finalized}
	status, err := client.SubmitTransferCommitment(ctx, burnCommitment)
	if err != nil || !status.Accepted() {
		return werr.Wrap(werr.ErrSubmissionRejected, "split burn commitment")
	}
	burnProof, err := w.oracle.WaitForProof(ctx, burnCommitment)
	if err != nil {
		return werr.Wrap(err, "wait for burn proof")
	}

	transferSalt, err := signingSalt(splitGroupID)
	if err != nil {
		return werr.Wrap(err, "derive transfer salt")
	}

	recipientMintCommitment := oracle.Commitment{RequestIDHex: splitGroupID + ":mint:recipient", Payload: splitMintPayload(burnProof.Payload, plan.SplitAmount, "recipient")}
	changeMintCommitment := oracle.Commitment{RequestIDHex: splitGroupID + ":mint:change", Payload: splitMintPayload(burnProof.Payload, plan.RemainderAmount, "change")}

	if req.TransferMode == ModeInstant {
		env := transport.Envelope{
			Kind:               transport.KindSplitBundleV5,
			SplitGroupID:       splitGroupID,
			CoinID:             req.CoinID,
			Amount:             plan.SplitAmount,
			RecipientMintData:  burnProof.Payload,
			MintCommitment:     recipientMintCommitment.Payload,
			TransferCommitment: []byte(address),
			TransferSaltHex:    hex.EncodeToString(transferSalt),
			RecipientAddress:   address,
		}
		if err := w.trans.SendTokenTransfer(ctx, peer.TransportPubKey, env); err != nil {
			return werr.Wrap(err, "send split bundle")
		}

		w.trackBackground(func(bgCtx context.Context) {
			if err := w.finishSplitChange(bgCtx, splitGroupID, changeMintCommitment, plan, t); err != nil {
				log.WithError(err).WithField("split_group_id", splitGroupID).Warn("send: background split change finalization failed")
			}
		})
		w.repo.RemoveToken(t.LocalID, req.Recipient, true)
		return nil
	}

	// Conservative mode: finalize both shares before doing anything the
	// recipient or the local balance can observe.
	recipientStatus, err := client.SubmitMintCommitment(ctx, recipientMintCommitment)
	if err != nil || !recipientStatus.Accepted() {
		return werr.Wrap(werr.ErrSubmissionRejected, "split recipient mint commitment")
	}
	recipientMintProof, err := w.oracle.WaitForProof(ctx, recipientMintCommitment)
	if err != nil {
		return werr.Wrap(err, "wait for recipient mint proof")
	}

	if err := w.finishSplitChange(ctx, splitGroupID, changeMintCommitment, plan, t); err != nil {
		return werr.Wrap(err, "finalize split change token")
	}

	predicate, err := w.signer.BuildPredicate(0, 0, transferSalt)
	if err != nil {
		return werr.Wrap(err, "build split recipient predicate")
	}
	finalized, err := client.Finalize(ctx, oracle.FinalizeRequest{
		TrustBase:      w.oracle.TrustBase(),
		SourceToken:    recipientMintProof.Payload,
		RecipientState: predicate.PublicKey,
		TransferTx:     burnProof.Payload,
	})
	if err != nil {
		return werr.Wrap(err, "finalize split recipient transfer")
	}

	if err := w.finishSplitChange(ctx, splitGroupID, changeMintCommitment, plan, t); err != nil {
		return werr.Wrap(err, "finalize split change token")
	}

	env := transport.Envelope{Kind: transport.KindFullyProven, SourceToken: finalized, TransferTx: burnProof.Payload, Memo: req.Memo, RecipientAddress: address}
	if err := w.trans.SendTokenTransfer(ctx, peer.TransportPubKey, env); err != nil {
		return werr.Wrap(err, "send split fully-proven envelope")
	}

	w.repo.RemoveToken(t.LocalID, req.Recipient, true)
	return nil
}

// finishSplitChange mints and finalizes the sender's own change share,
// inserting it as a confirmed token once proven.
func (w *Wallet) finishSplitChange(ctx context.Context, splitGroupID string, changeMintCommitment oracle.Commitment, plan SplitPlan, source Token) error {
	client := w.oracle.StateTransitionClient()
	status, err := client.SubmitMintCommitment(ctx, changeMintCommitment)
	if err != nil || !status.Accepted() {
		return werr.Wrap(werr.ErrSubmissionRejected, "split change mint commitment")
	}
	proof, err := w.oracle.WaitForProof(ctx, changeMintCommitment)
	if err != nil {
		return werr.Wrap(err, "wait for change mint proof")
	}

	predicate, err := w.signer.BuildPredicate(0, 0, []byte(splitGroupID))
	if err != nil {
		return werr.Wrap(err, "build change predicate")
	}
	finalized, err := client.Finalize(ctx, oracle.FinalizeRequest{
		TrustBase:      w.oracle.TrustBase(),
		SourceToken:    proof.Payload,
		RecipientState: predicate.PublicKey,
	})
	if err != nil {
		return werr.Wrap(err, "finalize split change token")
	}

	change := &Token{
		LocalID:   newULID(),
		CoinID:    source.CoinID,
		Amount:    plan.RemainderAmount,
		Status:    StatusConfirmed,
		CreatedAt: nowMS(),
		UpdatedAt: nowMS(),
		Payload:   TokenPayload{Finalized: finalized},
	}
	w.repo.AddToken(change, true)
	w.repo.AppendHistory(TransactionHistoryEntry{
		Type:        HistorySplit,
		Amount:      plan.RemainderAmount,
		CoinID:      source.CoinID,
		TimestampMS: nowMS(),
		DedupKey:    "split-change:" + splitGroupID,
	})
	w.emit(EventTransferConfirmed, change)
	return nil
}

// splitMintPayload combines the burn proof with the target share's amount
// and role tag into an opaque mint-commitment payload. As with
// buildCommitmentPayload, the cryptographic construction belongs to the
// external state-transition client; this is a deterministic stand-in.
func splitMintPayload(burnProof []byte, amount, role string) []byte {
	out := make([]byte, 0, len(burnProof)+len(amount)+len(role)+2)
	out = append(out, burnProof...)
	out = append(out, ':')
	out = append(out, []byte(role)...)
	out = append(out, ':')
	out = append(out, []byte(amount)...)
	return out
}

// signingSalt derives a deterministic, non-secret transfer salt from the
// split-group id so both sides of a split agree on it without a
// coordination round-trip.
func signingSalt(splitGroupID string) ([]byte, error) {
	return []byte(splitGroupID), nil
}

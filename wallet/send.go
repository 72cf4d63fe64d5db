package wallet

import (
	"context"
	"regexp"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/internal/werr"
	"github.com/unicitynetwork/token-wallet/oracle"
	"github.com/unicitynetwork/token-wallet/transport"
)

// SendRequest describes a requested transfer (§4.4).
type SendRequest struct {
	CoinID       string
	Amount       string
	Recipient    string
	Memo         *string
	TransferMode TransferMode
	AddressMode  AddressMode
}

// TransferResult is the outcome surfaced to the caller and persisted in the
// outbox while a send is in flight (§3, §4.4).
type TransferResult struct {
	TransferID     string
	Status         string // "submitted" | "confirmed" | "failed"
	Amount         string
	CoinID         string
	RecipientLabel string
}

var directPubKeyPattern = regexp.MustCompile(`^[0-9a-f]{66}$`)

// resolveRecipient performs the single recipient-resolution query of §4.4.
func (w *Wallet) resolveRecipient(ctx context.Context, recipient string) (transport.PeerInfo, string, error) {
	if directPubKeyPattern.MatchString(recipient) {
		direct := "direct:" + recipient
		return transport.PeerInfo{TransportPubKey: recipient, DirectAddress: &direct}, "", nil
	}
	if strings.HasPrefix(recipient, "libp2p:") {
		id, err := peer.Decode(strings.TrimPrefix(recipient, "libp2p:"))
		if err != nil {
			return transport.PeerInfo{}, "", werr.Wrap(werr.ErrRecipientUnresolved, recipient)
		}
		return transport.PeerInfo{TransportPubKey: id.String()}, "", nil
	}

	p, err := w.trans.Resolve(ctx, recipient)
	if err != nil || p == nil {
		return transport.PeerInfo{}, "", werr.Wrap(werr.ErrRecipientUnresolved, recipient)
	}

	label := ""
	if strings.HasPrefix(recipient, "@") {
		label = strings.TrimPrefix(recipient, "@")
	} else if p.Nametag != nil {
		label = *p.Nametag
	}
	return *p, label, nil
}

// resolveAddress derives the on-chain target address per §4.4's mode table.
func resolveAddress(recipient string, peerInfo transport.PeerInfo, mode AddressMode) (string, error) {
	if strings.HasPrefix(recipient, "direct:") || strings.HasPrefix(recipient, "proxy:") || strings.HasPrefix(recipient, "legacy:") {
		return recipient, nil
	}

	switch mode {
	case AddressProxy:
		return proxyFromNametag(peerInfo, recipient)
	case AddressDirect:
		if peerInfo.DirectAddress == nil {
			return "", werr.ErrDirectAddressMissing
		}
		return *peerInfo.DirectAddress, nil
	default: // AddressAuto
		if peerInfo.DirectAddress != nil {
			return *peerInfo.DirectAddress, nil
		}
		return proxyFromNametag(peerInfo, recipient)
	}
}

// proxyFromNametag derives a proxy address from the peer's nametag (or an
// explicit "@name" recipient string). The actual address-derivation
// cryptography belongs to the external state-transition client; this is
// the wallet-local naming convention layered on top of it.
func proxyFromNametag(peerInfo transport.PeerInfo, recipient string) (string, error) {
	name := ""
	if peerInfo.Nametag != nil {
		name = *peerInfo.Nametag
	} else if strings.HasPrefix(recipient, "@") {
		name = strings.TrimPrefix(recipient, "@")
	}
	if name == "" {
		return "", werr.ErrRecipientUnresolved
	}
	return "proxy:" + name, nil
}

// Send executes a transfer request end-to-end: split planning, token
// marking, commitment submission, envelope dispatch, and local-state
// cleanup, per §4.4.
func (w *Wallet) Send(ctx context.Context, req SendRequest) (TransferResult, error) {
	if w.oracle == nil || w.trans == nil {
		return TransferResult{}, werr.ErrNotInitialized
	}

	peerInfo, label, err := w.resolveRecipient(ctx, req.Recipient)
	if err != nil {
		return TransferResult{}, err
	}
	address, err := resolveAddress(req.Recipient, peerInfo, req.AddressMode)
	if err != nil {
		return TransferResult{}, err
	}

	plan, ok := ComputeSplit(w.repo.ActiveTokens(), req.Amount, req.CoinID)
	if !ok {
		return TransferResult{}, werr.ErrInsufficientFunds
	}

	transferID := newULID()
	result := TransferResult{TransferID: transferID, Status: "submitted", Amount: req.Amount, CoinID: req.CoinID, RecipientLabel: label}

	marked := w.markTransferring(plan)
	w.repo.PushOutbox(OutboxEntry{TransferResult: result, RecipientPubKey: peerInfo.TransportPubKey, CreatedAt: nowMS()})

	onFailure := func(cause error) (TransferResult, error) {
		w.rollback(marked)
		w.repo.ClearOutbox(transferID)
		transfersTotal.WithLabelValues("failed").Inc()
		w.emit(EventTransferFailed, map[string]any{"transfer_id": transferID, "error": cause.Error()})
		return TransferResult{}, cause
	}

	if plan.RequiresSplit {
		if err := w.executeSplitSend(ctx, req, plan, peerInfo, address); err != nil {
			return onFailure(err)
		}
	} else {
		for _, t := range plan.Direct {
			if err := w.executeDirectSend(ctx, t, req, peerInfo, address); err != nil {
				return onFailure(err)
			}
		}
	}

	w.repo.ClearOutbox(transferID)
	transfersTotal.WithLabelValues("confirmed").Inc()
	activeTokensGauge.Set(float64(len(w.repo.ActiveTokens())))
	result.Status = "confirmed"
	w.repo.AppendHistory(TransactionHistoryEntry{
		Type:        HistorySent,
		Amount:      req.Amount,
		CoinID:      req.CoinID,
		TimestampMS: nowMS(),
		PeerLabel:   label,
		DedupKey:    "sent:" + transferID,
	})
	w.emit(EventTransferConfirmed, result)
	return result, nil
}

// markTransferring marks every token the plan will consume, before the
// first suspension point, so concurrent sends cannot double-allocate them
// (§5 ordering guarantees).
func (w *Wallet) markTransferring(plan SplitPlan) []string {
	var ids []string
	for _, t := range plan.Direct {
		w.repo.UpdateToken(t.LocalID, func(tok *Token) { tok.Status = StatusTransferring })
		ids = append(ids, t.LocalID)
	}
	if plan.RequiresSplit {
		w.repo.UpdateToken(plan.TokenToSplit.LocalID, func(tok *Token) { tok.Status = StatusTransferring })
		ids = append(ids, plan.TokenToSplit.LocalID)
	}
	return ids
}

// rollback restores every marked token to confirmed on a failed send — the
// single allowed status revert named in §3.
func (w *Wallet) rollback(localIDs []string) {
	for _, id := range localIDs {
		w.repo.UpdateToken(id, func(tok *Token) {
			if tok.Status == StatusTransferring {
				tok.Status = StatusConfirmed
			}
		})
	}
}

// executeDirectSend runs one direct (no-split) token through the
// conservative or instant flow (§4.4).
func (w *Wallet) executeDirectSend(ctx context.Context, t Token, req SendRequest, peerInfo transport.PeerInfo, address string) error {
	var recipientKey []byte
	if isLegacyAddress(address) {
		legacy, err := w.signer.BuildLegacyPredicate(0, 0, []byte(address))
		if err != nil {
			return werr.Wrap(err, "build legacy recipient predicate")
		}
		recipientKey = legacy.PublicKey
	} else {
		predicate, err := w.signer.BuildPredicate(0, 0, []byte(address))
		if err != nil {
			return werr.Wrap(err, "build recipient predicate")
		}
		recipientKey = predicate.PublicKey
	}
	commitment := oracle.Commitment{
		RequestIDHex: t.LocalID + ":transfer",
		Payload:      buildCommitmentPayload(t.Payload.Finalized, recipientKey),
	}

	switch req.TransferMode {
	case ModeInstant:
		env := transport.Envelope{Kind: transport.KindCommitmentOnly, SourceToken: t.Payload.Finalized, CommitmentData: commitment.Payload, Memo: req.Memo}
		if err := w.trans.SendTokenTransfer(ctx, peerInfo.TransportPubKey, env); err != nil {
			return werr.Wrap(err, "send instant envelope")
		}
		go func() {
			status, err := w.oracle.StateTransitionClient().SubmitTransferCommitment(context.Background(), commitment)
			if err != nil || !status.Accepted() {
				log.WithError(err).WithField("local_id", t.LocalID).Warn("send: instant-mode commitment submission failed (fire-and-forget)")
			}
		}()
	default: // ModeConservative
		status, err := w.oracle.StateTransitionClient().SubmitTransferCommitment(ctx, commitment)
		if err != nil || !status.Accepted() {
			return werr.Wrap(werr.ErrSubmissionRejected, "direct transfer commitment")
		}
		proof, err := w.oracle.WaitForProof(ctx, commitment)
		if err != nil {
			return werr.Wrap(err, "wait for transfer proof")
		}
		env := transport.Envelope{Kind: transport.KindFullyProven, SourceToken: t.Payload.Finalized, TransferTx: proof.Payload, Memo: req.Memo, RecipientAddress: address}
		if err := w.trans.SendTokenTransfer(ctx, peerInfo.TransportPubKey, env); err != nil {
			return werr.Wrap(err, "send fully-proven envelope")
		}
	}

	w.repo.RemoveToken(t.LocalID, req.Recipient, true)
	return nil
}

// buildCommitmentPayload combines the source token and recipient public key
// into an opaque commitment payload. The cryptographic construction of a
// real commitment is the state-transition client's responsibility (out of
// scope here); this concatenation is a deterministic stand-in so the
// payload can round-trip through the external contracts exercised by tests.
func buildCommitmentPayload(sourceToken []byte, recipientKey []byte) []byte {
	out := make([]byte, 0, len(sourceToken)+len(recipientKey)+1)
	out = append(out, sourceToken...)
	out = append(out, ':')
	out = append(out, recipientKey...)
	return out
}

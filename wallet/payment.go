package wallet

import (
	"context"
	"time"

	"github.com/unicitynetwork/token-wallet/internal/werr"
	"github.com/unicitynetwork/token-wallet/transport"
)

// SendPaymentRequest asks a peer to pay coinID/amount, then blocks for their
// response (accept or reject) up to the configured default timeout, or
// until ctx is cancelled (supplemented conversational-flow bookkeeping, see
// SPEC_FULL.md).
func (w *Wallet) SendPaymentRequest(ctx context.Context, pubKey, coinID, amount string, memo *string) (transport.PaymentRequestResponse, error) {
	if w.trans == nil {
		return transport.PaymentRequestResponse{}, werr.ErrNotInitialized
	}

	requestID := newULID()
	wait := make(chan transport.PaymentRequestResponse, 1)
	w.paymentMu.Lock()
	w.paymentWaiters[requestID] = wait
	w.paymentMu.Unlock()

	defer func() {
		w.paymentMu.Lock()
		delete(w.paymentWaiters, requestID)
		w.paymentMu.Unlock()
	}()

	req := transport.PaymentRequest{ID: requestID, CoinID: coinID, Amount: amount, Memo: memo}
	if err := w.trans.SendPaymentRequest(ctx, pubKey, req); err != nil {
		return transport.PaymentRequestResponse{}, werr.Wrap(err, "send payment request")
	}

	timeout := w.cfg.PaymentRequest.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-wait:
		if !ok {
			return transport.PaymentRequestResponse{}, werr.Wrap(werr.ErrPaymentRequestExpired, requestID)
		}
		return resp, nil
	case <-timer.C:
		return transport.PaymentRequestResponse{}, werr.Wrap(werr.ErrPaymentRequestExpired, requestID)
	case <-ctx.Done():
		return transport.PaymentRequestResponse{}, ctx.Err()
	case <-w.destroyed:
		return transport.PaymentRequestResponse{}, werr.ErrNotInitialized
	}
}

// handlePaymentRequestResponse is the transport subscription callback
// delivering a peer's accept/reject decision back to the waiting
// SendPaymentRequest call.
func (w *Wallet) handlePaymentRequestResponse(resp transport.PaymentRequestResponse) {
	w.paymentMu.Lock()
	ch, ok := w.paymentWaiters[resp.RequestID]
	if ok {
		delete(w.paymentWaiters, resp.RequestID)
	}
	w.paymentMu.Unlock()

	if ok {
		ch <- resp
		close(ch)
	}
	w.emit(EventPaymentRequestResponse, resp)
}

// handleIncomingPaymentRequest is the transport subscription callback for a
// peer asking this wallet to pay them. The request is recorded and surfaced
// as an event; the caller decides via AcceptPaymentRequest/
// RejectPaymentRequest.
func (w *Wallet) handleIncomingPaymentRequest(req transport.PaymentRequest) {
	w.paymentMu.Lock()
	w.incomingPayments[req.ID] = req
	w.paymentMu.Unlock()
	w.emit(EventPaymentRequestIncoming, req)
}

// AcceptPaymentRequest pays a previously-received payment request in full
// and notifies the requester.
func (w *Wallet) AcceptPaymentRequest(ctx context.Context, requestID string, mode TransferMode) (TransferResult, error) {
	w.paymentMu.Lock()
	req, ok := w.incomingPayments[requestID]
	if ok {
		delete(w.incomingPayments, requestID)
	}
	w.paymentMu.Unlock()
	if !ok {
		return TransferResult{}, werr.Wrap(werr.ErrPaymentRequestExpired, requestID)
	}

	result, err := w.Send(ctx, SendRequest{CoinID: req.CoinID, Amount: req.Amount, Recipient: req.FromPub, Memo: req.Memo, TransferMode: mode, AddressMode: AddressAuto})
	respErr := w.trans.SendPaymentRequestResponse(ctx, req.FromPub, transport.PaymentRequestResponse{RequestID: requestID, Accepted: err == nil})
	if err != nil {
		return TransferResult{}, err
	}
	if respErr != nil {
		return result, werr.Wrap(respErr, "notify requester of payment")
	}
	w.emit(EventPaymentRequestPaid, result)
	return result, nil
}

// RejectPaymentRequest declines a previously-received payment request.
func (w *Wallet) RejectPaymentRequest(ctx context.Context, requestID string) error {
	w.paymentMu.Lock()
	req, ok := w.incomingPayments[requestID]
	if ok {
		delete(w.incomingPayments, requestID)
	}
	w.paymentMu.Unlock()
	if !ok {
		return werr.Wrap(werr.ErrPaymentRequestExpired, requestID)
	}

	if err := w.trans.SendPaymentRequestResponse(ctx, req.FromPub, transport.PaymentRequestResponse{RequestID: requestID, Accepted: false}); err != nil {
		return werr.Wrap(err, "notify requester of rejection")
	}
	w.emit(EventPaymentRequestRejected, req)
	return nil
}

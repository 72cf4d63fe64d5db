package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/unicitynetwork/token-wallet/internal/testutil"
	"github.com/unicitynetwork/token-wallet/transport"
)

func TestSendPaymentRequestTimesOut(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)
	w.cfg.PaymentRequest.DefaultTimeout = 10 * time.Millisecond

	_, err := w.SendPaymentRequest(context.Background(), "peer-pub", "coin", "10", nil)
	if err == nil {
		t.Fatal("expected a timeout error when no response arrives")
	}
}

func TestSendPaymentRequestReceivesResponse(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	tr.OnPaymentRequest(func(req transport.PaymentRequest) {
		go w.handlePaymentRequestResponse(transport.PaymentRequestResponse{RequestID: req.ID, Accepted: true})
	})

	resp, err := w.SendPaymentRequest(context.Background(), "peer-pub", "coin", "10", nil)
	if err != nil {
		t.Fatalf("SendPaymentRequest: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("expected accepted response")
	}
}

func TestAcceptPaymentRequestPaysAndNotifies(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	sink := &recordingSink{}
	w := newTestWallet(t, o, tr, sink)
	w.repo.AddToken(&Token{LocalID: "t1", CoinID: "coin", Amount: "10", Status: StatusConfirmed, Payload: TokenPayload{Finalized: blobFor("g1", "s1", "coin", "10")}}, true)

	w.handleIncomingPaymentRequest(transport.PaymentRequest{ID: "req-1", CoinID: "coin", Amount: "10", FromPub: directRecipientKey})
	if !sink.has(EventPaymentRequestIncoming) {
		t.Fatal("expected EventPaymentRequestIncoming emitted")
	}

	result, err := w.AcceptPaymentRequest(context.Background(), "req-1", ModeConservative)
	if err != nil {
		t.Fatalf("AcceptPaymentRequest: %v", err)
	}
	if result.Status != "confirmed" {
		t.Fatalf("expected confirmed payment, got %+v", result)
	}
	if !sink.has(EventPaymentRequestPaid) {
		t.Fatal("expected EventPaymentRequestPaid emitted")
	}
}

func TestAcceptPaymentRequestUnknownID(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	w := newTestWallet(t, o, tr, nil)

	if _, err := w.AcceptPaymentRequest(context.Background(), "missing", ModeConservative); err == nil {
		t.Fatal("expected error for unknown payment request id")
	}
}

func TestRejectPaymentRequest(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	sink := &recordingSink{}
	w := newTestWallet(t, o, tr, sink)

	w.handleIncomingPaymentRequest(transport.PaymentRequest{ID: "req-2", CoinID: "coin", Amount: "5", FromPub: directRecipientKey})
	if err := w.RejectPaymentRequest(context.Background(), "req-2"); err != nil {
		t.Fatalf("RejectPaymentRequest: %v", err)
	}
	if !sink.has(EventPaymentRequestRejected) {
		t.Fatal("expected EventPaymentRequestRejected emitted")
	}
	if err := w.RejectPaymentRequest(context.Background(), "req-2"); err == nil {
		t.Fatal("expected second rejection of the same (already consumed) id to fail")
	}
}

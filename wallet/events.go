package wallet

// EventKind enumerates the observable side effects listed in §6.
type EventKind string

const (
	EventTransferConfirmed       EventKind = "transfer:confirmed"
	EventTransferFailed          EventKind = "transfer:failed"
	EventTransferIncoming        EventKind = "transfer:incoming"
	EventPaymentRequestIncoming  EventKind = "payment_request:incoming"
	EventPaymentRequestAccepted  EventKind = "payment_request:accepted"
	EventPaymentRequestRejected  EventKind = "payment_request:rejected"
	EventPaymentRequestPaid      EventKind = "payment_request:paid"
	EventPaymentRequestResponse  EventKind = "payment_request:response"
	EventSyncStarted             EventKind = "sync:started"
	EventSyncCompleted           EventKind = "sync:completed"
	EventSyncProvider            EventKind = "sync:provider"
	EventSyncRemoteUpdate         EventKind = "sync:remote-update"
	EventSyncError                EventKind = "sync:error"
	EventNametagRegistered        EventKind = "nametag:registered"
)

// EventSink is supplied by the caller; the core never assumes a global
// subscriber list (§9 design notes).
type EventSink interface {
	Emit(kind EventKind, payload any)
}

// noopSink discards every event; used when the caller does not wire one.
type noopSink struct{}

func (noopSink) Emit(EventKind, any) {}

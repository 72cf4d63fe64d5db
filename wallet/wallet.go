package wallet

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/internal/config"
	"github.com/unicitynetwork/token-wallet/internal/signing"
	"github.com/unicitynetwork/token-wallet/oracle"
	"github.com/unicitynetwork/token-wallet/storage"
	"github.com/unicitynetwork/token-wallet/transport"
)

var globalLogger = log.New()

// SetLogger installs the package-wide logger used for every component.
// Components log through logrus's standard logger, so l's output,
// formatter, level, hooks and caller reporting are copied onto it.
func SetLogger(l *log.Logger) {
	globalLogger = l
	std := log.StandardLogger()
	std.SetOutput(l.Out)
	std.SetFormatter(l.Formatter)
	std.SetLevel(l.GetLevel())
	std.ReplaceHooks(l.Hooks)
	std.SetReportCaller(l.ReportCaller)
}

// Wallet wires the repository, external collaborators, the background
// proof poller, and multi-provider sync into the single coherent module
// described by the spec. All public methods are safe for concurrent use;
// Repository's internal mutex serializes the actual state mutations so that
// the ordering guarantees of §5 hold regardless of caller goroutine.
type Wallet struct {
	repo    *Repository
	cfg     config.Config
	oracle  oracle.Provider
	trans   transport.Provider
	signer  *signing.Service
	sink    EventSink
	address string

	providers []storage.TokenStorageProvider

	poller *proofPoller

	syncMu       sync.Mutex
	syncInFlight bool
	syncWaiters  []chan struct{}
	debounce     *time.Timer

	pendingMu sync.Mutex
	pendingWG sync.WaitGroup
	pendingDone chan struct{}

	destroyOnce sync.Once
	destroyed   chan struct{}

	paymentMu       sync.Mutex
	paymentWaiters  map[string]chan transport.PaymentRequestResponse
	incomingPayments map[string]transport.PaymentRequest

	legacyMigrateOnce sync.Once
}

// New constructs a Wallet. sink may be nil, in which case events are
// discarded (§9 design notes: no global subscribers inside the core).
func New(cfg config.Config, op oracle.Provider, tp transport.Provider, signer *signing.Service, sink EventSink, providers []storage.TokenStorageProvider, address string) *Wallet {
	if sink == nil {
		sink = noopSink{}
	}
	w := &Wallet{
		repo:           NewRepository(cfg),
		cfg:            cfg,
		oracle:         op,
		trans:          tp,
		signer:         signer,
		sink:           sink,
		address:        address,
		providers:      providers,
		destroyed:        make(chan struct{}),
		paymentWaiters:   make(map[string]chan transport.PaymentRequestResponse),
		incomingPayments: make(map[string]transport.PaymentRequest),
	}
	w.poller = newProofPoller(cfg, op, w.onPollerInvalid)
	if tp != nil {
		tp.OnTokenTransfer(w.handleIncomingEnvelope)
		tp.OnPaymentRequestResponse(w.handlePaymentRequestResponse)
		tp.OnPaymentRequest(w.handleIncomingPaymentRequest)
	}
	return w
}

func (w *Wallet) emit(kind EventKind, payload any) {
	if w.sink != nil {
		w.sink.Emit(kind, payload)
	}
}

// trackBackground registers a background goroutine with the wallet's join
// set so that WaitForPendingOperations can observe its completion (§4.4's
// instant-split executor background task; §9 design notes).
func (w *Wallet) trackBackground(fn func(ctx context.Context)) {
	w.pendingMu.Lock()
	w.pendingWG.Add(1)
	w.pendingMu.Unlock()
	go func() {
		defer w.pendingWG.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-w.destroyed:
				cancel()
			case <-ctx.Done():
			}
		}()
		fn(ctx)
	}()
}

// WaitForPendingOperations blocks until every background send task (instant
// split change-token creation, etc.) has completed or ctx is done.
func (w *Wallet) WaitForPendingOperations(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pendingWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy cancels all outstanding resolvers and polling. Safe to call more
// than once.
func (w *Wallet) Destroy() {
	w.destroyOnce.Do(func() {
		close(w.destroyed)
		w.poller.stop()
		w.paymentMu.Lock()
		for id, ch := range w.paymentWaiters {
			close(ch)
			delete(w.paymentWaiters, id)
		}
		w.paymentMu.Unlock()
	})
}

// Repository exposes the underlying repository for read-mostly callers
// (CLI/UI layers external to this module).
func (w *Wallet) Repository() *Repository { return w.repo }

// RegisterNametag records a minted identity token bound to name, grounded
// on the teacher's idwallet_registration.go registry pattern.
func (w *Wallet) RegisterNametag(name string, sdkBlob []byte) {
	n := Nametag{Name: name, SDKBlob: sdkBlob, CreatedAt: nowMS()}
	w.repo.AddNametag(n)
	w.emit(EventNametagRegistered, n)
}

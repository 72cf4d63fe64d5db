package wallet

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/storage"
)

// startSyncTimer starts a Prometheus histogram observation; call the returned
// func when the sync pass completes.
func startSyncTimer() func() {
	start := time.Now()
	return func() { syncDurationSeconds.Observe(time.Since(start).Seconds()) }
}

// toArchive serializes the repository into the portable format exchanged
// with every storage provider (§4.8). Pending-finalization tokens are
// carried too: their envelope is JSON-encoded into the same sdk_blob slot a
// finalized token would occupy, discriminated by status=="submitted" on
// load.
func (w *Wallet) toArchive(addr string) storage.Archive {
	r := w.repo
	tokens := r.ActiveTokens()
	out := storage.Archive{
		Meta: storage.Meta{Version: 1, Address: addr, FormatVersion: 1, UpdatedAtMS: nowMS()},
	}
	for _, t := range tokens {
		blob := t.Payload.Finalized
		if t.Payload.IsPending() {
			if b, err := json.Marshal(t.Payload.Pending); err == nil {
				blob = b
			} else {
				continue
			}
		}
		out.Tokens = append(out.Tokens, jsonRawTokenFrom(t, blob))
	}
	for _, te := range r.Tombstones() {
		out.Tombstones = append(out.Tombstones, storage.RawTomb(te))
	}
	for genesisID, a := range r.Archives() {
		out.Archived = append(out.Archived, storage.RawArchive{GenesisID: genesisID, History: a.History, TimestampMS: a.TimestampMS})
	}
	for _, f := range r.Forks() {
		out.Forked = append(out.Forked, storage.RawArchive{GenesisID: f.GenesisID, StateHash: f.StateHash, History: f.History, TimestampMS: f.TimestampMS})
	}
	for _, n := range r.Nametags() {
		out.Nametags = append(out.Nametags, storage.RawNametag(n))
	}
	return out
}

func jsonRawTokenFrom(t Token, blob []byte) storage.RawToken {
	return storage.RawToken{
		LocalID: t.LocalID, CoinID: t.CoinID, Symbol: t.Symbol, Name: t.Name,
		Decimals: t.Decimals, IconURL: t.IconURL, Amount: t.Amount,
		Status: string(t.Status), CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
		SDKBlob: blob,
	}
}

// applyArchive merges an archive fetched from a provider into the local
// repository, reconstructing pending-finalization tokens from their
// JSON-encoded envelope. Returns the number of tokens added.
func (w *Wallet) applyArchive(a storage.Archive) int {
	added := 0
	for _, rt := range a.Tokens {
		if _, exists := w.repo.GetToken(rt.LocalID); exists {
			continue
		}
		t := &Token{
			LocalID: rt.LocalID, CoinID: rt.CoinID, Symbol: rt.Symbol, Name: rt.Name,
			Decimals: rt.Decimals, IconURL: rt.IconURL, Amount: rt.Amount,
			Status: Status(rt.Status), CreatedAt: rt.CreatedAt, UpdatedAt: rt.UpdatedAt,
		}
		if rt.Status == string(StatusSubmitted) {
			var pf PendingFinalization
			if err := json.Unmarshal(rt.SDKBlob, &pf); err == nil {
				t.Payload = TokenPayload{Pending: &pf}
				if w.repo.AddToken(t, true) {
					added++
				}
				continue
			}
		}
		t.Payload = TokenPayload{Finalized: rt.SDKBlob}
		if w.repo.AddToken(t, true) {
			added++
		}
	}

	var tombstones []TombstoneEntry
	for _, rt := range a.Tombstones {
		tombstones = append(tombstones, TombstoneEntry(rt))
	}
	w.repo.MergeTombstones(tombstones)

	remoteArchived := make(map[string]ArchivedToken, len(a.Archived))
	for _, ra := range a.Archived {
		remoteArchived[ra.GenesisID] = ArchivedToken{GenesisID: ra.GenesisID, History: ra.History, TimestampMS: ra.TimestampMS}
	}
	w.repo.MergeArchives(remoteArchived)

	for _, rn := range a.Nametags {
		w.repo.AddNametag(Nametag(rn))
	}
	return added
}

// Load restores the repository from the first storage provider holding a
// saved archive (§4.8), then fires a non-blocking finalization sweep for
// anything still pending.
func (w *Wallet) Load(ctx context.Context) error {
	for _, p := range w.providers {
		archive, ok, err := p.Load(ctx)
		if err != nil {
			log.WithError(err).Warn("load: provider failed, trying next")
			continue
		}
		if !ok {
			continue
		}
		added := w.applyArchive(archive)
		log.WithField("tokens_added", added).Info("load: restored from provider")
		break
	}

	w.MigrateLegacyHistory(ctx)

	go w.ResolveUnconfirmed(context.Background())
	return nil
}

// Sync pushes the local archive to every provider and merges back whatever
// each one reports, coalescing concurrent callers onto a single in-flight
// pass (§4.8, §5).
func (w *Wallet) Sync(ctx context.Context) error {
	w.syncMu.Lock()
	if w.syncInFlight {
		wait := make(chan struct{})
		w.syncWaiters = append(w.syncWaiters, wait)
		w.syncMu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.syncInFlight = true
	w.syncMu.Unlock()

	w.emit(EventSyncStarted, nil)
	err := w.runSyncPass(ctx)

	w.syncMu.Lock()
	w.syncInFlight = false
	waiters := w.syncWaiters
	w.syncWaiters = nil
	w.syncMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}

	if err != nil {
		w.emit(EventSyncError, err.Error())
	} else {
		w.emit(EventSyncCompleted, nil)
	}
	return err
}

func (w *Wallet) runSyncPass(ctx context.Context) error {
	defer startSyncTimer()()
	local := w.toArchive(w.address)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, p := range w.providers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := p.Sync(ctx, local)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				log.WithError(err).Warn("sync: provider sync failed")
				return
			}
			if result.Merged != nil {
				added := w.applyArchive(*result.Merged)
				if added > 0 || result.Added > 0 || result.Removed > 0 || result.Conflicts > 0 {
					if err := p.Save(ctx, w.toArchive(w.address)); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						log.WithError(err).Warn("sync: persisting merged state failed")
					}
				}
			}
			w.emit(EventSyncProvider, result)
		}()
	}
	wg.Wait()
	return firstErr
}

// SubscribeProviders wires every provider's out-of-band remote-update
// notification into a debounced sync trigger (§4.8). Returns a function
// that unsubscribes from all of them.
func (w *Wallet) SubscribeProviders() func() {
	var unsubs []func()
	for _, p := range w.providers {
		unsubs = append(unsubs, p.Subscribe(w.onRemoteUpdate))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (w *Wallet) onRemoteUpdate() {
	w.emit(EventSyncRemoteUpdate, nil)
	w.syncMu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.cfg.Sync.DebounceInterval, func() {
		_ = w.Sync(context.Background())
	})
	w.syncMu.Unlock()
}

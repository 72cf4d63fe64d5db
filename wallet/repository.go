package wallet

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/internal/config"
)

// Repository holds and protects the four maps named in §3: active tokens,
// tombstones, archived histories, and forked histories, plus nametags and
// history/outbox bookkeeping. External collaborators never see these maps
// directly — every read returns a defensive copy.
//
// All mutations happen on the owning goroutine's call stack; Repository
// additionally guards itself with a mutex so that the background poller,
// the debounced sync timer and user-invoked operations (which may be
// called from different goroutines) cannot interleave a single mutation.
type Repository struct {
	mu sync.Mutex

	active     map[string]*Token          // local_id -> token
	tombstones map[TokenKey]TombstoneEntry
	archived   map[string]ArchivedToken // genesis_id -> archive
	forked     map[string]ForkedToken   // genesis_id_stateHash -> fork
	nametags   map[string]Nametag

	history []TransactionHistoryEntry
	outbox  []OutboxEntry

	cfg config.Config

	// archiveCache bounds in-memory archive growth with an LRU eviction
	// policy ahead of the hard prune cap, grounded on the teacher's
	// disk-LRU cache (core/storage.go); eviction here only drops the
	// cache's fast-path pointer, never the underlying archived map entry,
	// which is pruned separately by pruneLocked.
	archiveCache *lru.Cache[string, ArchivedToken]
}

// NewRepository constructs an empty repository.
func NewRepository(cfg config.Config) *Repository {
	cache, _ := lru.New[string, ArchivedToken](cfg.Pruning.ArchiveMaxCount)
	return &Repository{
		active:       make(map[string]*Token),
		tombstones:   make(map[TokenKey]TombstoneEntry),
		archived:     make(map[string]ArchivedToken),
		forked:       make(map[string]ForkedToken),
		nametags:     make(map[string]Nametag),
		cfg:          cfg,
		archiveCache: cache,
	}
}

func tokenKey(t *Token) (TokenKey, bool) {
	genesis, ok1 := ExtractGenesisID(NewTextBlob(t.Payload.Finalized))
	if t.Payload.IsPending() {
		genesis = t.Payload.Pending.SplitGroupID
		ok1 = genesis != ""
	}
	state, ok2 := ExtractStateHash(NewTextBlob(t.Payload.Finalized))
	if t.Payload.IsPending() {
		// Pending tokens have no finalized state hash yet; they are keyed
		// solely by genesis/split-group id until finalization completes.
		return TokenKey{GenesisID: genesis}, ok1
	}
	return TokenKey{GenesisID: genesis, StateHash: state}, ok1 && ok2
}

// findByGenesis returns the active token sharing genesis id, if any.
func (r *Repository) findByGenesis(genesisID string) (*Token, bool) {
	for _, t := range r.active {
		k, ok := tokenKey(t)
		if ok && k.GenesisID == genesisID {
			return t, true
		}
	}
	return nil, false
}

// AddToken inserts t into the active set, applying the tombstone/duplicate/
// state-replacement rules of §4.2. Returns false (no mutation) if rejected.
func (r *Repository) AddToken(t *Token, skipHistory bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, keyOK := tokenKey(t)
	if keyOK && key.Defined() {
		if _, tombstoned := r.tombstones[key]; tombstoned {
			log.WithField("genesis_id", key.GenesisID).Debug("add_token: rejected, tombstoned")
			return false
		}
		for _, existing := range r.active {
			ek, ok := tokenKey(existing)
			if ok && ek == key {
				log.WithField("genesis_id", key.GenesisID).Debug("add_token: rejected, exact duplicate")
				return false
			}
		}
	}

	if keyOK && key.GenesisID != "" {
		if existing, found := r.findByGenesis(key.GenesisID); found {
			ek, _ := tokenKey(existing)
			if ek != key {
				if existing.Status == StatusSpent || existing.Status == StatusInvalid {
					delete(r.active, existing.LocalID)
				} else {
					r.archiveLocked(existing)
					delete(r.active, existing.LocalID)
				}
			}
		}
	}

	r.active[t.LocalID] = t
	r.archiveLocked(t)

	if keyOK && key.GenesisID != "" {
		if c, err := ContentID(key.GenesisID); err == nil {
			log.WithField("content_id", c.String()).Debug("add_token: accepted")
		}
	}

	if !skipHistory && t.Amount != "" && t.CoinID != "" {
		r.appendHistoryLocked(TransactionHistoryEntry{
			Type:        HistoryReceived,
			Amount:      t.Amount,
			CoinID:      t.CoinID,
			TimestampMS: nowMS(),
			DedupKey:    "received:" + t.LocalID,
		})
	}
	return true
}

// RemoveToken archives the token, tombstones its key (if extractable), and
// deletes it from the active set, appending a SENT history entry unless
// suppressed (§4.2).
func (r *Repository) RemoveToken(localID string, recipientLabel string, skipHistory bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.active[localID]
	if !ok {
		return
	}
	r.archiveLocked(t)

	key, keyOK := tokenKey(t)
	if keyOK && key.Defined() {
		r.tombstones[key] = TombstoneEntry{TokenID: key.GenesisID, StateHash: key.StateHash, TimestampMS: nowMS()}
	} else {
		log.WithField("local_id", localID).Warn("remove_token: missing genesis/state hash, skipping tombstone")
	}

	delete(r.active, localID)

	if !skipHistory {
		r.appendHistoryLocked(TransactionHistoryEntry{
			Type:        HistorySent,
			Amount:      t.Amount,
			CoinID:      t.CoinID,
			TimestampMS: nowMS(),
			PeerLabel:   recipientLabel,
			DedupKey:    "sent:" + localID,
		})
	}
}

// ArchiveToken stores t's history, replacing an existing archive when t is
// an incremental update of it, or forking when it diverges in a committed
// position (§4.2).
func (r *Repository) ArchiveToken(t *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archiveLocked(t)
}

func (r *Repository) archiveLocked(t *Token) {
	key, ok := tokenKey(t)
	if !ok || key.GenesisID == "" {
		return
	}
	incoming := ArchivedToken{GenesisID: key.GenesisID, History: [][]byte{t.Payload.Finalized}, TimestampMS: nowMS()}

	existing, hasExisting := r.archived[key.GenesisID]
	switch {
	case !hasExisting:
		r.archived[key.GenesisID] = incoming
		r.archiveCache.Add(key.GenesisID, incoming)
	case isIncrementalUpdate(existing, incoming):
		r.archived[key.GenesisID] = incoming
		r.archiveCache.Add(key.GenesisID, incoming)
	default:
		fork := ForkedToken{GenesisID: key.GenesisID, StateHash: key.StateHash, History: incoming.History, TimestampMS: nowMS()}
		r.forked[fork.Key()] = fork
	}
	r.pruneLocked()
}

// isIncrementalUpdate reports whether incoming shares existing's committed
// prefix and only differs in an uncommitted tail (§3 glossary). For the
// open question in §9, the existing side's final entry (the possibly
// uncommitted tail) is left out of the comparison, so it may differ; every
// earlier entry must match exactly — see DESIGN.md.
func isIncrementalUpdate(existing, incoming ArchivedToken) bool {
	if len(incoming.History) < len(existing.History) {
		return false
	}
	for i, tx := range existing.History {
		if i == len(existing.History)-1 {
			// The existing tail is allowed to differ only if it was never
			// committed; we have no commitment marker on this opaque
			// history slice, so treat equality as the only safe replace
			// condition for the shared prefix up to (but excluding) the
			// final, possibly-uncommitted entry.
			continue
		}
		if string(tx) != string(incoming.History[i]) {
			return false
		}
	}
	return true
}

// MergeTombstones unions remote tombstones into the local set (deduped by
// (token_id, state_hash)) and deletes any active token whose key matches,
// returning the count removed (§4.2).
func (r *Repository) MergeTombstones(remote []TombstoneEntry) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, te := range remote {
		key := te.Key()
		if !key.Defined() {
			continue
		}
		if _, existed := r.tombstones[key]; !existed {
			r.tombstones[key] = te
		}
		for localID, t := range r.active {
			if k, ok := tokenKey(t); ok && k == key {
				delete(r.active, localID)
				removed++
			}
		}
	}
	r.pruneLocked()
	return removed
}

// MergeArchives merges a remote archive map into the local one, inserting
// missing entries, replacing incremental updates, and forking irreconcilable
// divergences. Returns the count merged (inserted, replaced or forked).
func (r *Repository) MergeArchives(remote map[string]ArchivedToken) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := 0
	for genesisID, incoming := range remote {
		if incoming.TimestampMS == 0 {
			incoming.TimestampMS = nowMS()
		}
		existing, hasExisting := r.archived[genesisID]
		switch {
		case !hasExisting:
			r.archived[genesisID] = incoming
			r.archiveCache.Add(genesisID, incoming)
			merged++
		case isIncrementalUpdate(existing, incoming):
			r.archived[genesisID] = incoming
			r.archiveCache.Add(genesisID, incoming)
			merged++
		case isIncrementalUpdate(incoming, existing):
			// Local is ahead; nothing to do.
		default:
			fork := ForkedToken{GenesisID: genesisID, History: incoming.History, TimestampMS: incoming.TimestampMS}
			r.forked[fork.Key()] = fork
			merged++
		}
	}
	r.pruneLocked()
	return merged
}

// pruneLocked enforces the age/count caps named in §4.2. Caller must hold mu.
func (r *Repository) pruneLocked() {
	cutoff := time.Now().Add(-r.cfg.Pruning.TombstoneMaxAge).UnixMilli()
	for k, te := range r.tombstones {
		if te.TimestampMS < cutoff {
			delete(r.tombstones, k)
		}
	}
	if max := r.cfg.Pruning.TombstoneMaxCount; max > 0 && len(r.tombstones) > max {
		type kv struct {
			k TokenKey
			t int64
		}
		all := make([]kv, 0, len(r.tombstones))
		for k, te := range r.tombstones {
			all = append(all, kv{k, te.TimestampMS})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].t < all[j].t })
		for _, e := range all[:len(all)-max] {
			delete(r.tombstones, e.k)
		}
	}

	if max := r.cfg.Pruning.ArchiveMaxCount; max > 0 && len(r.archived) > max {
		type kv struct {
			k string
			t int64
		}
		all := make([]kv, 0, len(r.archived))
		for k, a := range r.archived {
			all = append(all, kv{k, a.TimestampMS})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].t < all[j].t })
		for _, e := range all[:len(all)-max] {
			delete(r.archived, e.k)
			r.archiveCache.Remove(e.k)
		}
	}
	if max := r.cfg.Pruning.ForkMaxCount; max > 0 && len(r.forked) > max {
		type kv struct {
			k string
			t int64
		}
		all := make([]kv, 0, len(r.forked))
		for k, f := range r.forked {
			all = append(all, kv{k, f.TimestampMS})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].t < all[j].t })
		for _, e := range all[:len(all)-max] {
			delete(r.forked, e.k)
		}
	}
}

func (r *Repository) appendHistoryLocked(e TransactionHistoryEntry) {
	if e.ID == "" {
		e.ID = newULID()
	}
	for i, existing := range r.history {
		if existing.DedupKey != "" && existing.DedupKey == e.DedupKey {
			r.history[i] = e
			return
		}
	}
	r.history = append(r.history, e)
}

// AppendHistory is the public entry point used by components outside the
// repository's own mutation paths (send/receive/finalize).
func (r *Repository) AppendHistory(e TransactionHistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendHistoryLocked(e)
}

// History returns the user-facing log, newest first.
func (r *Repository) History() []TransactionHistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransactionHistoryEntry, len(r.history))
	copy(out, r.history)
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMS > out[j].TimestampMS })
	return out
}

// ActiveTokens returns a defensive copy of every active token.
func (r *Repository) ActiveTokens() []Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Token, 0, len(r.active))
	for _, t := range r.active {
		out = append(out, *t)
	}
	return out
}

// GetToken returns a defensive copy of the active token by local id.
func (r *Repository) GetToken(localID string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[localID]
	if !ok {
		return Token{}, false
	}
	return *t, true
}

// UpdateToken applies fn to the token under the lock and stamps UpdatedAt,
// used by the send/finalize state machines to transition status. It changes
// the in-memory repository only; nothing is saved to a storage provider.
func (r *Repository) UpdateToken(localID string, fn func(t *Token)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.active[localID]
	if !ok {
		return false
	}
	fn(t)
	t.UpdatedAt = nowMS()
	return true
}

// Tombstones returns a defensive copy of the tombstone set.
func (r *Repository) Tombstones() []TombstoneEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TombstoneEntry, 0, len(r.tombstones))
	for _, t := range r.tombstones {
		out = append(out, t)
	}
	return out
}

// IsTombstoned reports whether key has been tombstoned.
func (r *Repository) IsTombstoned(key TokenKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tombstones[key]
	return ok
}

// Archives returns a defensive copy of the archive map.
func (r *Repository) Archives() map[string]ArchivedToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ArchivedToken, len(r.archived))
	for k, v := range r.archived {
		out[k] = v
	}
	return out
}

// Forks returns a defensive copy of the fork map.
func (r *Repository) Forks() map[string]ForkedToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ForkedToken, len(r.forked))
	for k, v := range r.forked {
		out[k] = v
	}
	return out
}

// AddNametag registers a nametag token, emitting no event itself (the
// caller wraps this with an event emission — see wallet.go RegisterNametag).
func (r *Repository) AddNametag(n Nametag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nametags[n.Name] = n
}

// Nametags returns a defensive copy of every held nametag.
func (r *Repository) Nametags() []Nametag {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Nametag, 0, len(r.nametags))
	for _, n := range r.nametags {
		out = append(out, n)
	}
	return out
}

// FindNametagByProxyAddress resolves the nametag token whose proxy address
// (as computed by resolveFn) equals addr.
func (r *Repository) FindNametagByProxyAddress(addr string, resolveFn func(Nametag) string) (Nametag, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nametags {
		if resolveFn(n) == addr {
			return n, true
		}
	}
	return Nametag{}, false
}

// PushOutbox appends an in-flight send entry.
func (r *Repository) PushOutbox(e OutboxEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbox = append(r.outbox, e)
}

// ClearOutbox removes the outbox entry for the given transfer id.
func (r *Repository) ClearOutbox(transferID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.outbox {
		if e.TransferResult.TransferID == transferID {
			r.outbox = append(r.outbox[:i], r.outbox[i+1:]...)
			return
		}
	}
}

// Outbox returns a defensive copy of the in-flight send log.
func (r *Repository) Outbox() []OutboxEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutboxEntry, len(r.outbox))
	copy(out, r.outbox)
	return out
}

// UnconfirmedTokens returns active tokens with status=submitted carrying a
// pending-finalization envelope, the scan input for C6.
func (r *Repository) UnconfirmedTokens() []*Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Token
	for _, t := range r.active {
		if t.Status == StatusSubmitted && t.Payload.IsPending() {
			out = append(out, t)
		}
	}
	return out
}

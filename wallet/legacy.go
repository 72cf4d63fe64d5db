package wallet

import (
	"context"
	"encoding/json"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/unicitynetwork/token-wallet/storage"
)

const legacyHistoryKey = "legacy_history_flat"

// legacyFlatEntry is the shape of the single flat history list carried over
// from the pre-repository wallet generation this module supersedes (see
// original_source for the source format).
type legacyFlatEntry struct {
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	CoinID    string `json:"coin_id"`
	Timestamp int64  `json:"timestamp"`
	Peer      string `json:"peer,omitempty"`
}

// MigrateLegacyHistory imports a flat legacy history log into the
// structured transaction log exactly once per wallet lifetime. Any provider
// that also implements storage.KV is consulted; providers that don't are
// skipped silently since the legacy format predates the provider
// abstraction entirely.
func (w *Wallet) MigrateLegacyHistory(ctx context.Context) {
	w.legacyMigrateOnce.Do(func() {
		for _, p := range w.providers {
			kv, ok := any(p).(storage.KV)
			if !ok {
				continue
			}
			raw, found, err := kv.Get(ctx, legacyHistoryKey)
			if err != nil || !found {
				continue
			}
			var entries []legacyFlatEntry
			if err := json.Unmarshal([]byte(raw), &entries); err != nil {
				log.WithError(err).Warn("migrate_legacy_history: malformed legacy payload, skipping")
				continue
			}
			for i, e := range entries {
				w.repo.AppendHistory(TransactionHistoryEntry{
					Type:        HistoryType(e.Type),
					Amount:      e.Amount,
					CoinID:      e.CoinID,
					TimestampMS: e.Timestamp,
					PeerLabel:   e.Peer,
					DedupKey:    "legacy:" + legacyHistoryKey + ":" + strconv.Itoa(i),
				})
			}
			log.WithField("count", len(entries)).Info("migrate_legacy_history: imported legacy entries")
			return
		}
	})
}

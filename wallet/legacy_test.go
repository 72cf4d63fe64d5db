package wallet

import (
	"context"
	"testing"

	"github.com/unicitynetwork/token-wallet/internal/testutil"
	"github.com/unicitynetwork/token-wallet/storage"
)

// plainArchiveProvider implements storage.TokenStorageProvider but
// deliberately not storage.KV, to exercise the "provider doesn't support the
// legacy key-value form" skip path.
type plainArchiveProvider struct{}

func (plainArchiveProvider) Save(ctx context.Context, archive storage.Archive) error { return nil }
func (plainArchiveProvider) Load(ctx context.Context) (storage.Archive, bool, error) {
	return storage.Archive{}, false, nil
}
func (plainArchiveProvider) Sync(ctx context.Context, local storage.Archive) (storage.SyncResult, error) {
	return storage.SyncResult{Success: true, Merged: &local}, nil
}
func (plainArchiveProvider) Subscribe(cb func()) func() { return func() {} }

func TestMigrateLegacyHistoryImportsFlatEntries(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	kv := testutil.NewFakeStorage()
	ctx := context.Background()
	kv.Set(ctx, legacyHistoryKey, `[{"type":"SENT","amount":"5","coin_id":"coin","timestamp":100},{"type":"RECEIVED","amount":"3","coin_id":"coin","timestamp":200,"peer":"bob"}]`)

	w := newTestWallet(t, o, tr, nil, kv)
	w.MigrateLegacyHistory(ctx)

	hist := w.repo.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 imported history entries, got %d", len(hist))
	}
}

func TestMigrateLegacyHistoryRunsOnlyOnce(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	kv := testutil.NewFakeStorage()
	ctx := context.Background()
	kv.Set(ctx, legacyHistoryKey, `[{"type":"SENT","amount":"5","coin_id":"coin","timestamp":100}]`)

	w := newTestWallet(t, o, tr, nil, kv)
	w.MigrateLegacyHistory(ctx)
	w.MigrateLegacyHistory(ctx)

	if len(w.repo.History()) != 1 {
		t.Fatalf("expected migration to run exactly once, got %d history entries", len(w.repo.History()))
	}
}

func TestMigrateLegacyHistorySkipsProvidersWithoutKV(t *testing.T) {
	o := testutil.NewFakeOracle()
	tr := testutil.NewFakeTransport()
	plain := &plainArchiveProvider{}
	w := newTestWallet(t, o, tr, nil, plain)

	w.MigrateLegacyHistory(context.Background())
	if len(w.repo.History()) != 0 {
		t.Fatalf("expected no history imported from a non-KV provider, got %d", len(w.repo.History()))
	}
}

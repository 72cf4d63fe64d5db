package wallet

import "github.com/google/uuid"

// newULID mints a wallet-assigned opaque identifier. Despite the name this
// uses UUIDv4 (google/uuid) rather than a true ULID — kept for continuity
// with callers that just need a stable, collision-resistant local id.
func newULID() string { return uuid.NewString() }

// deterministicLocalID derives a stable local_id for a V5 split bundle from
// its split-group id, so that re-delivery (e.g. via a re-publishing relay)
// deduplicates onto the same active-set entry (§4.5).
func deterministicLocalID(splitGroupID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("split-bundle:"+splitGroupID)).String()
}

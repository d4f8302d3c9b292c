package audit

import "context"

// Signer provides non-repudiation over the record serialization.
// *signing.Keyring satisfies this interface.
//
// Sign runs inside the storage critical section while the tenant's chain
// head is locked, so every other writer to that tenant waits on it. It must
// be local and fast; a signer backed by a remote KMS or HSM would stall the
// tenant's whole chain for the length of each round trip.
type Signer interface {
	Sign(ctx context.Context, data []byte, keyID string) ([]byte, error)
	Verify(ctx context.Context, data, signature []byte, keyID string) (bool, error)
}

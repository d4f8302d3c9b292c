package audit

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gosuda/auditchain/internal/domain"
)

// AlgorithmSHA256 is the only algorithm the chain is built with.
const AlgorithmSHA256 = "sha256"

// Hasher computes a digest of data with the named algorithm.
type Hasher interface {
	Hash(data []byte, algorithm string) ([]byte, error)
}

// HashFunc is a pure digest function registered under an algorithm name.
type HashFunc func(data []byte) []byte

// HasherRegistry maps algorithm names to digest functions.
type HasherRegistry struct {
	mu    sync.RWMutex
	funcs map[string]HashFunc
}

// NewHasherRegistry returns a registry with sha256 and sha512 registered.
func NewHasherRegistry() *HasherRegistry {
	r := &HasherRegistry{funcs: make(map[string]HashFunc)}
	r.Register(AlgorithmSHA256, func(data []byte) []byte {
		sum := sha256.Sum256(data)
		return sum[:]
	})
	r.Register("sha512", func(data []byte) []byte {
		sum := sha512.Sum512(data)
		return sum[:]
	})
	return r
}

func (r *HasherRegistry) Register(algorithm string, fn HashFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[algorithm] = fn
}

func (r *HasherRegistry) Hash(data []byte, algorithm string) ([]byte, error) {
	r.mu.RLock()
	fn, ok := r.funcs[algorithm]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("audit.HasherRegistry.Hash(%q): %w", algorithm, ErrUnknownAlgorithm)
	}
	return fn(data), nil
}

// Available returns registered algorithm names in sorted order.
func (r *HasherRegistry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.funcs {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}

// ComputeRecordHash serializes r and returns the hex SHA-256 digest that
// belongs in r.RecordHash.
func ComputeRecordHash(h Hasher, r *domain.AuditRecord) (string, error) {
	payload, err := Serialize(r)
	if err != nil {
		return "", err
	}
	return hashPayload(h, payload)
}

func hashPayload(h Hasher, payload []byte) (string, error) {
	sum, err := h.Hash(payload, AlgorithmSHA256)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

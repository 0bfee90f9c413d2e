// Package registry holds known fraud signatures keyed by DNA hash. The
// registry is append-only; signatures are never updated or removed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/dnaguard/internal/digest"
)

// ErrNotFound is returned when no signature exists for a DNA hash.
var ErrNotFound = errors.New("registry: signature not found")

// ErrInvalidDNAHash is returned for hashes that are not 64 lowercase hex chars.
var ErrInvalidDNAHash = errors.New("registry: dna hash must be 64 lowercase hex characters")

// ErrInvalidID is returned when a caller-supplied signature id is not a UUID.
var ErrInvalidID = errors.New("registry: invalid signature id")

// ErrDuplicateID is returned when a signature id is already stored.
var ErrDuplicateID = errors.New("registry: signature id already exists")

// Signature is a flagged DNA hash with its risk labels.
type Signature struct {
	ID      string    `json:"id"`
	DNAHash string    `json:"dnaHash"`
	Tags    []string  `json:"tags"`
	Source  string    `json:"source,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// Registry is implemented by every backend.
type Registry interface {
	// Lookup returns the earliest signature inserted for dnaHash.
	Lookup(ctx context.Context, dnaHash string) (Signature, error)
	// Insert stores sig, assigning an ID and AddedAt when unset.
	Insert(ctx context.Context, sig Signature) (Signature, error)
	// List returns every signature in insertion order.
	List(ctx context.Context) ([]Signature, error)
}

// Pinger is implemented by backends with a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clock returns the current time.
type Clock func() time.Time

// ValidateDNAHash checks the shape of a DNA hash.
func ValidateDNAHash(s string) error {
	if !digest.IsHex(s) {
		return ErrInvalidDNAHash
	}
	return nil
}

// prepare validates sig and fills the generated fields.
func prepare(sig Signature, now Clock) (Signature, error) {
	if err := ValidateDNAHash(sig.DNAHash); err != nil {
		return Signature{}, err
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	} else {
		id, err := uuid.Parse(sig.ID)
		if err != nil {
			return Signature{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		sig.ID = id.String()
	}
	if sig.AddedAt.IsZero() {
		sig.AddedAt = now()
	}
	sig.AddedAt = sig.AddedAt.UTC()
	sig.Tags = dedupeAndTrim(sig.Tags)
	sig.Source = strings.TrimSpace(sig.Source)
	return sig, nil
}

// dedupeAndTrim drops empty and repeated tags, keeping first-seen order.
func dedupeAndTrim(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func cloneSignature(s Signature) Signature {
	s.Tags = append([]string(nil), s.Tags...)
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return s
}

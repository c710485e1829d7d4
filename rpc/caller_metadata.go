package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// expirySkew tolerates small clock differences between client and server.
const expirySkew = 5 * time.Second

// callerMetadataParams lets a client make a mutating request single-use. The
// optional propertyId pins the request to one listing so it cannot be
// replayed against a recreated store.
type callerMetadataParams struct {
	Nonce      *uint64 `json:"nonce,omitempty"`
	ExpiresAt  *int64  `json:"expiresAt,omitempty"`
	TTL        *int64  `json:"ttl,omitempty"`
	PropertyID string  `json:"propertyId,omitempty"`
}

func callerKeyFromAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

// replayGuard remembers the highest nonce seen per caller and property until
// the request that carried it expires.
type replayGuard struct {
	maxTTL time.Duration

	mu   sync.Mutex
	seen map[string]seenNonce
}

type seenNonce struct {
	nonce   uint64
	expires time.Time
}

func newReplayGuard(maxTTL time.Duration) *replayGuard {
	return &replayGuard{maxTTL: maxTTL, seen: make(map[string]seenNonce)}
}

// deadline turns the expiresAt or ttl fields into an absolute time. The zero
// time means the request carried neither.
func (g *replayGuard) deadline(now time.Time, meta callerMetadataParams) (time.Time, error) {
	var at time.Time
	switch {
	case meta.ExpiresAt != nil && meta.TTL != nil:
		return at, errors.New("provide at most one of expiresAt or ttl")
	case meta.ExpiresAt != nil:
		if *meta.ExpiresAt <= 0 {
			return at, errors.New("expiresAt must be positive")
		}
		at = time.Unix(*meta.ExpiresAt, 0)
	case meta.TTL != nil:
		secs := *meta.TTL
		if secs <= 0 {
			return at, errors.New("ttl must be positive seconds")
		}
		if g.maxTTL > 0 && secs > int64(g.maxTTL/time.Second) {
			return at, fmt.Errorf("ttl exceeds maximum of %d seconds", int64(g.maxTTL/time.Second))
		}
		if secs > int64((1<<63-1)/int64(time.Second)) {
			return at, errors.New("ttl exceeds supported range")
		}
		at = now.Add(time.Duration(secs) * time.Second)
	default:
		return at, nil
	}
	if g.maxTTL > 0 && at.After(now.Add(g.maxTTL)) {
		return time.Time{}, fmt.Errorf("expiry exceeds maximum ttl of %s", g.maxTTL)
	}
	if at.Before(now.Add(-expirySkew)) {
		return time.Time{}, errors.New("expiry must be in the future")
	}
	return at, nil
}

// admit records nonce for key, rejecting values that do not advance past the
// last live nonce.
func (g *replayGuard) admit(key string, nonce uint64, expires, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.seen[key]; ok && !now.After(prev.expires) && nonce <= prev.nonce {
		return fmt.Errorf("nonce must be greater than %d", prev.nonce)
	}
	g.seen[key] = seenNonce{nonce: nonce, expires: expires}
	for k, entry := range g.seen {
		if now.After(entry.expires) {
			delete(g.seen, k)
		}
	}
	return nil
}

func (s *Server) validateCallerMetadata(actorKey string, meta callerMetadataParams) error {
	now := s.clockNow()
	property, err := s.boundPropertyID(meta.PropertyID)
	if err != nil {
		return err
	}
	expires, err := s.replay.deadline(now, meta)
	if err != nil {
		return err
	}
	if meta.Nonce == nil {
		return nil
	}
	if *meta.Nonce == 0 {
		return errors.New("nonce must be greater than zero")
	}
	if expires.IsZero() {
		return errors.New("expiresAt or ttl required when nonce is provided")
	}
	return s.replay.admit(actorKey+"|"+property, *meta.Nonce, expires, now)
}

// boundPropertyID checks a client supplied property id against the stored
// listing and returns its canonical form.
func (s *Server) boundPropertyID(input string) (string, error) {
	want := strings.ToLower(strings.TrimSpace(input))
	if want == "" {
		return "", nil
	}
	current, err := s.engine.Listing()
	if err != nil {
		return "", errors.New("propertyId given but no listing exists")
	}
	if have := current.PropertyID.String(); have != want {
		return "", fmt.Errorf("propertyId mismatch: expected %s got %s", have, input)
	}
	return want, nil
}

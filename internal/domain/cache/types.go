// Package cache contains the domain types of the Hierarchical Cache Core:
// entries, hierarchical keys, tags, and the port interfaces the cache
// engine drives (L1 store, L2 store, and the per-principal generation
// counter store).
package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the resource category embedded in a hierarchical cache key.
type Kind string

const (
	KindResource   Kind = "resource"
	KindGeneration Kind = "generation"
	KindProject    Kind = "project"
	KindTeam       Kind = "team"
	KindSession    Kind = "session"
	KindProfile    Kind = "profile"
	KindConfig     Kind = "config"
)

// Key is a parsed hierarchical cache key of the form
// auth:user:<uid>:gen:<n>:<kind>:<rid>:op:<op>.
type Key struct {
	UserID string
	Gen    uint64
	Kind   Kind
	RID    string
	Op     string
}

// String renders the canonical colon-delimited key form.
func (k Key) String() string {
	return fmt.Sprintf("auth:user:%s:gen:%d:%s:%s:op:%s", k.UserID, k.Gen, k.Kind, k.RID, k.Op)
}

// BuildKey constructs a hierarchical cache key, embedding the principal's
// current generation counter so that a later generation bump makes the
// key's entry unreachable (spec §3 invariant).
func BuildKey(userID string, gen uint64, kind Kind, rid, op string) Key {
	return Key{UserID: userID, Gen: gen, Kind: kind, RID: rid, Op: op}
}

// ParseKey parses a canonical key string back into its components. Used
// by pattern invalidation and diagnostics.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 9 || parts[0] != "auth" || parts[1] != "user" || parts[3] != "gen" || parts[7] != "op" {
		return Key{}, fmt.Errorf("cache: malformed key %q", s)
	}
	gen, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("cache: malformed generation in key %q: %w", s, err)
	}
	return Key{
		UserID: parts[2],
		Gen:    gen,
		Kind:   Kind(parts[5]),
		RID:    parts[6],
		Op:     parts[8],
	}, nil
}

// Tag identifies a dependency an entry can be invalidated through.
// Canonical forms: user:<uid>, resource:<rid>, generation:<gid>,
// project:<pid>, team:<tid>.
type Tag string

func UserTag(uid string) Tag       { return Tag("user:" + uid) }
func ResourceTag(rid string) Tag   { return Tag("resource:" + rid) }
func GenerationTag(gid string) Tag { return Tag("generation:" + gid) }
func ProjectTag(pid string) Tag    { return Tag("project:" + pid) }
func TeamTag(tid string) Tag       { return Tag("team:" + tid) }

// PredictiveTag marks an entry populated by the warming planner's
// speculative prefetch rather than a triggered warm-up or a real miss,
// so a later hit against it can be credited to warming_hit_rate.
func PredictiveTag() Tag { return Tag("source:predictive") }

// Entry is a single cache entry: value, owning principal, resource, the
// embedded generation, timestamps, an access counter, tags, and whether
// the value was stored compressed.
type Entry struct {
	Key         Key
	Value       []byte
	PrincipalID string
	ResourceID  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount uint64
	LastAccess  time.Time
	Tags        []Tag
	Compressed  bool
}

// IsLive reports whether the entry has not yet expired as of now. Tag
// tombstoning is tracked by the store, not the entry itself.
func (e *Entry) IsLive(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Touch records an access: bumps the counter and last-access time.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccess = now
}

// HasTag reports whether the entry carries tag t.
func (e *Entry) HasTag(t Tag) bool {
	for _, tag := range e.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// Stats summarizes an entry for observability and TTL-manager analytics.
type Stats struct {
	Key         string
	Size        int
	Age         time.Duration
	AccessCount uint64
	LastAccess  time.Duration
}

// Stat computes an entry's Stats as of now.
func (e *Entry) Stat(now time.Time) Stats {
	return Stats{
		Key:         e.Key.String(),
		Size:        len(e.Value),
		Age:         now.Sub(e.CreatedAt),
		AccessCount: e.AccessCount,
		LastAccess:  now.Sub(e.LastAccess),
	}
}

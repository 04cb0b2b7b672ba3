package filtering

import (
	"context"
	"strings"
	"time"

	"github.com/mozilla-services/keyexchange-relay/internal/cache"
)

// membershipKey is the companion set key the admin view reads, generalizing
// the original blacklist.py's single "blacklist" key holding the full
// member list.
const membershipKey = "blacklist"

const maxCASRetries = 10

// Blacklist is a TTL-bounded set of blocked source addresses backed by the
// shared cache, grounded on the teacher's mutex-guarded blacklist map
// generalized to a cache-backed set so multiple relay instances share
// state.
type Blacklist struct {
	cache cache.Cache
}

// NewBlacklist wraps c.
func NewBlacklist(c cache.Cache) *Blacklist {
	return &Blacklist{cache: c}
}

func entryKey(addr string) string { return membershipKey + ":" + addr }

// Contains reports whether addr currently has a live TTL entry.
func (b *Blacklist) Contains(ctx context.Context, addr string) (bool, error) {
	_, found, err := b.cache.Get(ctx, entryKey(addr))
	return found, err
}

// Add blacklists addr for ttl, best-effort reconciling the membership set
// used by the administrative view via gets/cas with bounded retries.
func (b *Blacklist) Add(ctx context.Context, addr string, ttl time.Duration) error {
	if _, err := b.cache.Set(ctx, entryKey(addr), []byte("1"), ttl); err != nil {
		return err
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		members, token, found, err := b.cache.Gets(ctx, membershipKey)
		if err != nil {
			return err
		}
		set := splitMembers(members)
		if !found {
			token = ""
		}
		if _, ok := set[addr]; ok {
			return nil
		}
		set[addr] = struct{}{}

		err = b.cache.CAS(ctx, membershipKey, joinMembers(set), token, 0)
		if err == nil {
			return nil
		}
		if err != cache.ErrCASConflict {
			return err
		}
	}
	return cache.ErrCASConflict
}

// Remove clears addr's TTL entry and removes it from the membership set
// (the administrative "unblock" action).
func (b *Blacklist) Remove(ctx context.Context, addr string) error {
	if _, err := b.cache.Delete(ctx, entryKey(addr)); err != nil {
		return err
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		members, token, found, err := b.cache.Gets(ctx, membershipKey)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		set := splitMembers(members)
		if _, ok := set[addr]; !ok {
			return nil
		}
		delete(set, addr)

		err = b.cache.CAS(ctx, membershipKey, joinMembers(set), token, 0)
		if err == nil {
			return nil
		}
		if err != cache.ErrCASConflict {
			return err
		}
	}
	return cache.ErrCASConflict
}

// Members lists the blacklist's membership set, pruning entries whose TTL
// has expired (the set is eventually consistent: stale entries linger
// until the next administrative listing prunes them).
func (b *Blacklist) Members(ctx context.Context) ([]string, error) {
	members, _, found, err := b.cache.Gets(ctx, membershipKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	live := make([]string, 0)
	pruned := false
	for addr := range splitMembers(members) {
		ok, err := b.Contains(ctx, addr)
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, addr)
		} else {
			pruned = true
		}
	}

	if pruned {
		set := make(map[string]struct{}, len(live))
		for _, addr := range live {
			set[addr] = struct{}{}
		}
		_, _ = b.cache.Set(ctx, membershipKey, joinMembers(set), 0)
	}
	return live, nil
}

func splitMembers(raw []byte) map[string]struct{} {
	set := make(map[string]struct{})
	if len(raw) == 0 {
		return set
	}
	for _, addr := range strings.Split(string(raw), ",") {
		if addr != "" {
			set[addr] = struct{}{}
		}
	}
	return set
}

func joinMembers(set map[string]struct{}) []byte {
	addrs := make([]string, 0, len(set))
	for addr := range set {
		addrs = append(addrs, addr)
	}
	return []byte(strings.Join(addrs, ","))
}

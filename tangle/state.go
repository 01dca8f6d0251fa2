package tangle

import (
	"sort"
	"time"

	"github.com/tcoin-network/tcoind/params"
)

// State tracks wallet balances and the bounded LRU of known-invalid message
// hashes, grounded on
// original_source/tcoin/tangle/tangle.py: TangleState. Its methods are not
// safe for concurrent use; callers hold the owning Tangle's lock.
type State struct {
	wallets        map[string]int64
	invalidMsgPool map[string]time.Time
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{
		wallets:        map[string]int64{},
		invalidMsgPool: map[string]time.Time{},
	}
}

// Balance implements message.Ledger.
func (s *State) Balance(address string) int64 {
	return s.wallets[address]
}

// SetBalance implements message.Ledger. A zero balance deletes the entry,
// matching the Python source's explicit del on a zeroed wallet.
func (s *State) SetBalance(address string, balance int64) {
	if balance == 0 {
		delete(s.wallets, address)
		return
	}
	s.wallets[address] = balance
}

// AddInvalidMessage records hash as known-invalid, refreshing its access
// time if already present.
func (s *State) AddInvalidMessage(hash string) {
	s.invalidMsgPool[hash] = time.Now()
}

// InInvalidPool reports whether hash is a known-invalid message. A hit
// refreshes its last-access time; every call also purges entries that have
// aged out or that exceed the pool's size cap, matching
// TangleState.in_invalid_pool.
func (s *State) InInvalidPool(hash string) bool {
	_, inPool := s.invalidMsgPool[hash]
	if inPool {
		s.AddInvalidMessage(hash)
	}

	s.purgeInvalidPool()

	return inPool
}

func (s *State) purgeInvalidPool() {
	now := time.Now()

	for h, accessed := range s.invalidMsgPool {
		if now.Sub(accessed) > params.InvalidPoolPurgeTime {
			delete(s.invalidMsgPool, h)
		}
	}

	if len(s.invalidMsgPool) <= params.InvalidPoolSize {
		return
	}

	type entry struct {
		hash     string
		accessed time.Time
	}
	entries := make([]entry, 0, len(s.invalidMsgPool))
	for h, accessed := range s.invalidMsgPool {
		entries = append(entries, entry{h, accessed})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].accessed.Before(entries[j].accessed)
	})

	for _, e := range entries[:len(entries)-params.InvalidPoolSize] {
		delete(s.invalidMsgPool, e.hash)
	}
}

// InvalidPoolSize reports the current number of entries in the
// invalid-message pool.
func (s *State) InvalidPoolSize() int {
	return len(s.invalidMsgPool)
}

// Clone returns a deep copy, used when composing branch-local state deltas.
func (s *State) Clone() *State {
	clone := NewState()
	for k, v := range s.wallets {
		clone.wallets[k] = v
	}
	for k, v := range s.invalidMsgPool {
		clone.invalidMsgPool[k] = v
	}
	return clone
}

// Merge combines other into a new State: wallet balances are added
// (add=true) or subtracted (add=false) element-wise, grounded on
// TangleState.merge / add_dict_states. The invalid-message pool is not
// merged: the result holds s's invalid-pool entries unchanged, and
// other's entries are not carried over.
func (s *State) Merge(other *State, add bool) *State {
	merged := NewState()

	keys := map[string]struct{}{}
	for k := range s.wallets {
		keys[k] = struct{}{}
	}
	for k := range other.wallets {
		keys[k] = struct{}{}
	}

	for k := range keys {
		v := s.wallets[k]
		if add {
			v += other.wallets[k]
		} else {
			v -= other.wallets[k]
		}
		if v != 0 {
			merged.wallets[k] = v
		}
	}

	// Invalid-pool entries are carried through unmodified from the base;
	// branch deltas don't meaningfully contribute timestamps to merge.
	for k, v := range s.invalidMsgPool {
		merged.invalidMsgPool[k] = v
	}

	return merged
}

package policy

import (
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// WatchedSet is the mutable set of recipient addresses under watch. Entries
// are stored lowercased; lookups are case-insensitive. Safe for concurrent
// use by the observer, the queue listener, and the admin API.
type WatchedSet struct {
	mu    sync.RWMutex
	addrs map[string]struct{}
}

// NewWatchedSet returns an empty set.
func NewWatchedSet() *WatchedSet {
	return &WatchedSet{addrs: make(map[string]struct{})}
}

// Add inserts an address, reporting whether it was new. Malformed addresses
// are rejected.
func (s *WatchedSet) Add(addr string) (bool, error) {
	if !ValidAddress(addr) {
		return false, errors.Errorf("invalid watch address %q", addr)
	}
	key := strings.ToLower(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addrs[key]; ok {
		return false, nil
	}
	s.addrs[key] = struct{}{}
	return true, nil
}

// Remove deletes an address, reporting whether it was present.
func (s *WatchedSet) Remove(addr string) bool {
	key := strings.ToLower(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addrs[key]; !ok {
		return false
	}
	delete(s.addrs, key)
	return true
}

// Contains reports whether the address is watched.
func (s *WatchedSet) Contains(addr string) bool {
	key := strings.ToLower(addr)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.addrs[key]
	return ok
}

// Len returns the number of watched addresses.
func (s *WatchedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addrs)
}

// Addresses returns the watched addresses in stable order.
func (s *WatchedSet) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.addrs))
	for addr := range s.addrs {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Merge adds every valid address from addrs and returns how many were new.
// Malformed entries are logged and skipped so one typo in a config file
// cannot take the rest of the list down with it.
func (s *WatchedSet) Merge(addrs []string) int {
	added := 0
	for _, addr := range addrs {
		ok, err := s.Add(addr)
		if err != nil {
			log.WithError(err).Warn("Skipping invalid watch address")
			continue
		}
		if ok {
			added++
		}
	}
	return added
}

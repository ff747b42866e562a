package sshd

import "sync"

// BanList is an in-memory set of banned hosts. Bans last for the lifetime of
// the process; persistent bans belong in an operator tool, not here.
type BanList struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
}

// NewBanList creates an empty BanList.
func NewBanList() *BanList {
	return &BanList{hosts: make(map[string]struct{})}
}

// Ban adds a host to the list.
func (b *BanList) Ban(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts[host] = struct{}{}
}

// Banned reports whether a host is on the list.
func (b *BanList) Banned(host string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hosts[host]
	return ok
}

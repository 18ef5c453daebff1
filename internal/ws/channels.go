package ws

import (
	"sort"
	"sync"
)

// channelSet is the subscriber registry behind room and personal channels.
// It keeps both directions so a closing connection can be dropped from every
// channel without scanning all of them.
type channelSet struct {
	mu     sync.RWMutex
	subs   map[string]map[string]struct{} // channel -> conn ids
	byConn map[string]map[string]struct{} // conn id -> channels
}

func newChannelSet() *channelSet {
	return &channelSet{
		subs:   make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (cs *channelSet) add(connID, channel string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.subs[channel] == nil {
		cs.subs[channel] = make(map[string]struct{})
	}
	cs.subs[channel][connID] = struct{}{}
	if cs.byConn[connID] == nil {
		cs.byConn[connID] = make(map[string]struct{})
	}
	cs.byConn[connID][channel] = struct{}{}
}

func (cs *channelSet) remove(connID, channel string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.removeLocked(connID, channel)
}

func (cs *channelSet) removeLocked(connID, channel string) {
	if set, ok := cs.subs[channel]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(cs.subs, channel)
		}
	}
	if set, ok := cs.byConn[connID]; ok {
		delete(set, channel)
		if len(set) == 0 {
			delete(cs.byConn, connID)
		}
	}
}

// drop removes connID from every channel.
func (cs *channelSet) drop(connID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for channel := range cs.byConn[connID] {
		cs.removeLocked(connID, channel)
	}
}

// members returns the subscribers of channel.
func (cs *channelSet) members(channel string) []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]string, 0, len(cs.subs[channel]))
	for id := range cs.subs[channel] {
		out = append(out, id)
	}
	return out
}

// channelsOf returns the sorted channels connID is subscribed to.
func (cs *channelSet) channelsOf(connID string) []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]string, 0, len(cs.byConn[connID]))
	for ch := range cs.byConn[connID] {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// snapshot maps each channel to its sorted subscribers.
func (cs *channelSet) snapshot() map[string][]string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string][]string, len(cs.subs))
	for ch, set := range cs.subs {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[ch] = ids
	}
	return out
}

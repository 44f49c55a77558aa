package facts

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dmitrymomot/unitctl/pkg/params"
)

type memAction struct {
	id     int64
	action *Action
}

type memMatch struct {
	id        int64
	cond      params.Params
	actionID  int64
	hosts     []int64
	listeners []int64
}

// MemoryStore keeps facts in process memory. Useful for tests and for
// one-shot runs that rebuild facts from declarative files.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	actions map[string]*memAction
	matches map[int64]*memMatch

	hosts       map[string]int64
	hostNames   map[int64]string
	listeners   map[string]int64
	socketNames map[int64]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions:     make(map[string]*memAction),
		matches:     make(map[int64]*memMatch),
		hosts:       make(map[string]int64),
		hostNames:   make(map[int64]string),
		listeners:   make(map[string]int64),
		socketNames: make(map[int64]string),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateAction(_ context.Context, a *Action) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := a.Key()
	if existing, ok := s.actions[key]; ok {
		return existing.id, nil
	}
	ma := &memAction{id: s.id(), action: a}
	s.actions[key] = ma
	return ma.id, nil
}

func (s *MemoryStore) FindAction(_ context.Context, a *Action) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if existing, ok := s.actions[a.Key()]; ok {
		return existing.id, nil
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) findMatch(cond params.Params, actionID int64) *memMatch {
	key := cond.Canonical()
	for _, m := range s.matches {
		if m.actionID == actionID && m.cond.Canonical() == key {
			return m
		}
	}
	return nil
}

func (s *MemoryStore) CreateMatch(_ context.Context, cond params.Params, actionID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.findMatch(cond, actionID); m != nil {
		return m.id, nil
	}
	m := &memMatch{id: s.id(), cond: cond.Clone(), actionID: actionID}
	s.matches[m.id] = m
	return m.id, nil
}

func (s *MemoryStore) FindMatch(_ context.Context, cond params.Params, actionID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m := s.findMatch(cond, actionID); m != nil {
		return m.id, nil
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) CreateHost(_ context.Context, domain string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.hosts[domain]; ok {
		return id, nil
	}
	id := s.id()
	s.hosts[domain] = id
	s.hostNames[id] = domain
	return id, nil
}

func (s *MemoryStore) FindHost(_ context.Context, domain string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.hosts[domain]; ok {
		return id, nil
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) CreateListener(_ context.Context, socket string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.listeners[socket]; ok {
		return id, nil
	}
	id := s.id()
	s.listeners[socket] = id
	s.socketNames[id] = socket
	return id, nil
}

func (s *MemoryStore) FindListener(_ context.Context, socket string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.listeners[socket]; ok {
		return id, nil
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) LinkHost(_ context.Context, matchID, hostID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.hostNames[hostID]; !ok {
		return ErrNotFound
	}
	if !slices.Contains(m.hosts, hostID) {
		m.hosts = append(m.hosts, hostID)
	}
	return nil
}

func (s *MemoryStore) UnlinkHost(_ context.Context, matchID, hostID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	m.hosts = slices.DeleteFunc(m.hosts, func(id int64) bool { return id == hostID })
	s.pruneHost(hostID)
	return nil
}

func (s *MemoryStore) LinkListener(_ context.Context, matchID, listenerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.socketNames[listenerID]; !ok {
		return ErrNotFound
	}
	if !slices.Contains(m.listeners, listenerID) {
		m.listeners = append(m.listeners, listenerID)
	}
	return nil
}

func (s *MemoryStore) UnlinkListener(_ context.Context, matchID, listenerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	m.listeners = slices.DeleteFunc(m.listeners, func(id int64) bool { return id == listenerID })
	s.pruneListener(listenerID)
	return nil
}

func (s *MemoryStore) Hosts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.hostNames))
	for id := range s.hostNames {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.hostNames[id]
	}
	return out, nil
}

func (s *MemoryStore) ListenerMatches(_ context.Context) ([]ListenerMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ListenerMatch
	for _, m := range s.sortedMatches() {
		for _, lid := range m.listeners {
			out = append(out, ListenerMatch{Listener: s.socketNames[lid], MatchID: m.id})
		}
	}
	return out, nil
}

func (s *MemoryStore) Fact(_ context.Context, matchID int64) (Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[matchID]
	if !ok {
		return Fact{}, ErrNotFound
	}
	return s.fact(m), nil
}

func (s *MemoryStore) Facts(_ context.Context) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedMatches()
	out := make([]Fact, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, s.fact(m))
	}
	return out, nil
}

func (s *MemoryStore) DeleteMatch(_ context.Context, matchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	delete(s.matches, matchID)

	for _, id := range m.hosts {
		s.pruneHost(id)
	}
	for _, id := range m.listeners {
		s.pruneListener(id)
	}
	if m.actionID != 0 {
		s.pruneAction(m.actionID)
	}
	return nil
}

func (s *MemoryStore) sortedMatches() []*memMatch {
	out := make([]*memMatch, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *memMatch) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (s *MemoryStore) fact(m *memMatch) Fact {
	f := Fact{
		ID:    m.id,
		Match: Match{Params: m.cond.Clone()},
	}
	for _, id := range m.hosts {
		f.Match.Hosts = append(f.Match.Hosts, s.hostNames[id])
	}
	for _, id := range m.listeners {
		f.Listeners = append(f.Listeners, s.socketNames[id])
	}
	if m.actionID != 0 {
		for _, a := range s.actions {
			if a.id == m.actionID {
				f.Action = a.action
				break
			}
		}
	}
	return f
}

func (s *MemoryStore) pruneHost(id int64) {
	for _, m := range s.matches {
		if slices.Contains(m.hosts, id) {
			return
		}
	}
	delete(s.hosts, s.hostNames[id])
	delete(s.hostNames, id)
}

func (s *MemoryStore) pruneListener(id int64) {
	for _, m := range s.matches {
		if slices.Contains(m.listeners, id) {
			return
		}
	}
	delete(s.listeners, s.socketNames[id])
	delete(s.socketNames, id)
}

func (s *MemoryStore) pruneAction(id int64) {
	for _, m := range s.matches {
		if m.actionID == id {
			return
		}
	}
	for key, a := range s.actions {
		if a.id == id {
			delete(s.actions, key)
			return
		}
	}
}

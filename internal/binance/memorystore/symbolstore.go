package memorystore

import (
	"sort"
	"strings"
	"sync"
)

// MemorySymbolStore collects discovered symbols, ignoring repeats.
type MemorySymbolStore struct {
	mu      sync.Mutex
	symbols map[string]struct{}
}

func NewSymbolStore() *MemorySymbolStore {
	return &MemorySymbolStore{
		symbols: make(map[string]struct{}),
	}
}

func (s *MemorySymbolStore) Add(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[strings.ToUpper(symbol)] = struct{}{}
}

// StartWorker drains ch into the store. The returned channel closes once ch
// is closed and drained.
func (s *MemorySymbolStore) StartWorker(ch <-chan string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for symbol := range ch {
			s.Add(symbol)
		}
	}()
	return done
}

// GetAll returns the symbols in lexical order.
func (s *MemorySymbolStore) GetAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

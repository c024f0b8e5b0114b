package memorystore

import (
	"sort"
	"sync"

	"klinecollector/pkg/kline"
)

// MemoryCandleStore buffers candles per stream while archive units of the
// same stream arrive concurrently. Candles are keyed by open time, so a
// candle delivered twice (overlapping archives, backfill) is stored once;
// the later one wins.
type MemoryCandleStore struct {
	globalMu sync.RWMutex
	data     map[kline.StreamKey]*streamCandleStore
}

type streamCandleStore struct {
	mu      sync.Mutex
	candles map[int64]kline.Candle // by open time, Unix µs
}

func NewCandleStore() *MemoryCandleStore {
	return &MemoryCandleStore{
		data: make(map[kline.StreamKey]*streamCandleStore),
	}
}

func (s *MemoryCandleStore) stream(key kline.StreamKey) *streamCandleStore {
	// Fast path: lock per-stream store only
	s.globalMu.RLock()
	store, ok := s.data[key]
	s.globalMu.RUnlock()
	if ok {
		return store
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if store, ok = s.data[key]; !ok {
		store = &streamCandleStore{candles: make(map[int64]kline.Candle)}
		s.data[key] = store
	}
	return store
}

// Add stores candles under their own stream key.
func (s *MemoryCandleStore) Add(candles ...kline.Candle) {
	for _, c := range candles {
		store := s.stream(c.Key())
		store.mu.Lock()
		store.candles[c.OpenTime.UnixMicro()] = c
		store.mu.Unlock()
	}
}

// Get returns a stream's candles ordered by open time.
func (s *MemoryCandleStore) Get(key kline.StreamKey) []kline.Candle {
	s.globalMu.RLock()
	store, ok := s.data[key]
	s.globalMu.RUnlock()
	if !ok {
		return nil
	}

	store.mu.Lock()
	out := make([]kline.Candle, 0, len(store.candles))
	for _, c := range store.candles {
		out = append(out, c)
	}
	store.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

// Delete drops a stream's buffer.
func (s *MemoryCandleStore) Delete(key kline.StreamKey) {
	s.globalMu.Lock()
	delete(s.data, key)
	s.globalMu.Unlock()
}

// CountAll returns the total number of candles buffered across all streams.
func (s *MemoryCandleStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, store := range s.data {
		store.mu.Lock()
		total += len(store.candles)
		store.mu.Unlock()
	}
	return total
}

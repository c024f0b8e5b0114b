// Package memory is an in-process stand-in for the analytical store. It
// keeps every inserted row like an append-only table and answers FINAL
// style reads the way a merged ReplacingMergeTree would: one row per
// identity, the highest version winning.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"klinecollector/pkg/kline"
)

type identity struct {
	market   kline.Market
	symbol   string
	interval kline.Interval
	open     int64 // Unix µs
}

func identityOf(c kline.Candle) identity {
	return identity{
		market:   c.Instrument.Market,
		symbol:   c.Instrument.Symbol,
		interval: c.Interval,
		open:     c.OpenTime.UnixMicro(),
	}
}

type Store struct {
	mu       sync.Mutex
	inserted int
	rows     map[identity]kline.VersionedCandle
}

func NewStore() *Store {
	return &Store{rows: make(map[identity]kline.VersionedCandle)}
}

// Load appends the rows and reports them all as accepted.
func (s *Store) Load(_ context.Context, candles []kline.VersionedCandle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		s.inserted++
		id := identityOf(c.Candle)
		if cur, ok := s.rows[id]; ok && cur.Version > c.Version {
			continue
		}
		s.rows[id] = c
	}
	return len(candles), nil
}

// Inserted is the number of physical rows written, duplicates included.
func (s *Store) Inserted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted
}

// Count is the deduplicated row count over every stream.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// CountFinal counts deduplicated rows of one stream in [start, end).
func (s *Store) CountFinal(_ context.Context, key kline.StreamKey, start, end time.Time) (uint64, error) {
	return uint64(len(s.Stream(key, start, end))), nil
}

// Stream returns the deduplicated rows of one stream in [start, end),
// ordered by open time.
func (s *Store) Stream(key kline.StreamKey, start, end time.Time) []kline.VersionedCandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []kline.VersionedCandle
	for id, c := range s.rows {
		if id.market != key.Market || id.symbol != key.Symbol || id.interval != key.Interval {
			continue
		}
		if c.OpenTime.Before(start) || !c.OpenTime.Before(end) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

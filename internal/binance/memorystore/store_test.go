package memorystore

import (
	"sync"
	"testing"
	"time"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/kline/klinetest"
)

// go test -v --run TestCandleStoreConcurrentAdd
func TestCandleStoreConcurrentAdd(t *testing.T) {
	store := NewCandleStore()
	tf := kline.NewCatalog().MustLookup(kline.Interval1h)
	btc := kline.Instrument{Symbol: "BTCUSDT", Market: kline.Spot}
	eth := kline.Instrument{Symbol: "ETHUSDT", Market: kline.Spot}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for day := 0; day < 10; day++ {
		wg.Add(2)
		open := start.AddDate(0, 0, day)
		go func() {
			defer wg.Done()
			store.Add(klinetest.Series(btc, tf, open, 24)...)
		}()
		go func() {
			defer wg.Done()
			// overlapping delivery of the same day
			store.Add(klinetest.Series(btc, tf, open, 24)...)
			store.Add(klinetest.Series(eth, tf, open, 24)...)
		}()
	}
	wg.Wait()

	key := kline.StreamKey{Instrument: btc, Interval: tf.Interval}
	got := store.Get(key)
	if len(got) != 240 {
		t.Fatalf("btc candles = %d, want 240", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].OpenTime.After(got[i-1].OpenTime) {
			t.Fatalf("not ordered at %d", i)
		}
	}
	if store.CountAll() != 480 {
		t.Errorf("count = %d, want 480", store.CountAll())
	}

	store.Delete(key)
	if store.Get(key) != nil || store.CountAll() != 240 {
		t.Errorf("after delete count = %d", store.CountAll())
	}
}

// go test -v --run TestSymbolStoreWorker
func TestSymbolStoreWorker(t *testing.T) {
	store := NewSymbolStore()
	ch := make(chan string, 4)
	done := store.StartWorker(ch)
	for _, s := range []string{"ethusdt", "BTCUSDT", "ETHUSDT"} {
		ch <- s
	}
	close(ch)
	<-done

	got := store.GetAll()
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("symbols = %v", got)
	}
}

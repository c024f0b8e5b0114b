package kline

import (
	"strings"
	"testing"
)

// go test -v --run TestParseMarket
func TestParseMarket(t *testing.T) {
	for _, m := range Markets() {
		got, err := ParseMarket(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMarket(%q) = %v, %v", m.String(), got, err)
		}
	}
	if got, err := ParseMarket(" Futures/UM "); err != nil || got != USDMFutures {
		t.Errorf("archive path form = %v, %v", got, err)
	}

	_, err := ParseMarket("options")
	if err == nil || !strings.Contains(err.Error(), "spot, um, cm") {
		t.Errorf("error = %v, want the valid names listed", err)
	}
}

// Package version derives the content version the analytical store uses to
// pick a winner among duplicate rows.
package version

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"klinecollector/pkg/kline"
)

// fieldSep keeps adjacent fields from running together ("1","23" vs "12","3").
const fieldSep = 0x1f

// Of returns the version of c: the first eight bytes, big endian, of a
// SHA-256 over the candle's identity and content. It depends on nothing but
// those fields, so identical rows always get identical versions. Source and
// funding rate are not part of the content.
func Of(c kline.Candle) uint64 {
	h := sha256.New()
	buf := make([]byte, 0, 256)

	buf = append(buf, c.Instrument.Market.String()...)
	buf = append(buf, fieldSep)
	buf = append(buf, c.Instrument.Symbol...)
	buf = append(buf, fieldSep)
	buf = append(buf, string(c.Interval)...)
	buf = append(buf, fieldSep)
	buf = strconv.AppendInt(buf, c.OpenTime.UnixMicro(), 10)
	buf = append(buf, fieldSep)
	buf = strconv.AppendInt(buf, c.CloseTime.UnixMicro(), 10)

	for _, d := range []string{
		c.Open.String(),
		c.High.String(),
		c.Low.String(),
		c.Close.String(),
		c.Volume.String(),
		c.QuoteVolume.String(),
	} {
		buf = append(buf, fieldSep)
		buf = append(buf, d...)
	}
	buf = append(buf, fieldSep)
	buf = strconv.AppendInt(buf, c.Trades, 10)
	buf = append(buf, fieldSep)
	buf = append(buf, c.TakerBuyBase.String()...)
	buf = append(buf, fieldSep)
	buf = append(buf, c.TakerBuyQuote.String()...)

	h.Write(buf)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Apply versions every candle.
func Apply(candles []kline.Candle) []kline.VersionedCandle {
	out := make([]kline.VersionedCandle, len(candles))
	for i, c := range candles {
		out[i] = kline.VersionedCandle{Candle: c, Version: Of(c)}
	}
	return out
}

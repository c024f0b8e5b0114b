package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseKlineRows converts a klines response body into raw string rows.
// The API returns mixed JSON numbers and strings, e.g.
//
//	[[1499040000000,"0.01634790","0.80000000","0.01575800","0.01577100","148976.11427815",
//	  1499644799999,"2434.19055334",308,"1756.87402397","28.46694368","0"]]
//
// Numbers are kept in their literal form so no precision is lost before the
// row normalizer sees them.
func ParseKlineRows(body []byte) ([][]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	out := make([][]string, 0, len(raw))
	for i, row := range raw {
		fields := make([]string, len(row))
		for j, v := range row {
			switch x := v.(type) {
			case json.Number:
				fields[j] = x.String()
			case string:
				fields[j] = x
			default:
				return nil, fmt.Errorf("row %d field %d: unexpected %T", i, j, v)
			}
		}
		out = append(out, fields)
	}
	return out, nil
}

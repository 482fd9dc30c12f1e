// Package normalizer turns opaque frame payloads into quote records. The
// upstream message schema is undocumented and varies per message, so
// extraction is heuristic: walk every object in the payload and keep the ones
// that look like index quotes.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/guregu/null/v6"

	"github.com/pnthang/market-collector/pkg/models"
)

// Ordered alias groups per field. First matching key wins; the order is part
// of the extraction contract and must not be reshuffled.
var (
	codeAliases    = []string{"code", "symbol", "indexCode"}
	priceAliases   = []string{"last", "lastPrice", "price"}
	changeAliases  = []string{"change", "chg"}
	percentAliases = []string{"percent", "percentChange", "chgPercent"}
	timeAliases    = []string{"time", "timestamp", "t"}
)

// Normalize extracts every quote-shaped object from a raw frame payload.
// It never fails: malformed payloads and unusable candidates yield an empty
// result. Duplicate codes across sibling nodes are all emitted; the cache
// write step is the dedup point.
func Normalize(payload []byte) []models.QuoteRecord {
	root, ok := decode(payload)
	if !ok {
		return nil
	}

	var records []models.QuoteRecord

	// Explicit worklist instead of recursion: frame nesting depth is
	// attacker-controlled.
	stack := []any{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n := node.(type) {
		case map[string]any:
			if rec, ok := extract(n); ok {
				records = append(records, rec)
			}
			for _, v := range n {
				stack = append(stack, v)
			}
		case []any:
			// Push in reverse so siblings pop in document order.
			for i := len(n) - 1; i >= 0; i-- {
				stack = append(stack, n[i])
			}
		}
	}
	return records
}

// decode parses the payload as JSON, tolerating one extra layer of string
// quoting added by the frame transport.
func decode(payload []byte) (any, bool) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		trimmed := bytes.Trim(bytes.TrimSpace(payload), `"`)
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, false
		}
	}
	if s, ok := v.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return nil, false
		}
		v = inner
	}
	return v, true
}

// extract tests one object for the quote shape. A record needs a code alias
// and a numerically coercible price alias; everything else is best-effort.
func extract(m map[string]any) (models.QuoteRecord, bool) {
	code, ok := firstCode(m)
	if !ok {
		return models.QuoteRecord{}, false
	}
	rawPrice, ok := firstValue(m, priceAliases)
	if !ok {
		return models.QuoteRecord{}, false
	}
	price, ok := toFloat(rawPrice)
	if !ok {
		// Unparseable price invalidates this candidate only, not the walk.
		return models.QuoteRecord{}, false
	}

	rec := models.QuoteRecord{Code: code, Price: price}
	if v, ok := firstValue(m, changeAliases); ok {
		if f, ok := toFloat(v); ok {
			rec.Change = null.FloatFrom(f)
		}
	}
	if v, ok := firstValue(m, percentAliases); ok {
		if f, ok := toFloat(v); ok {
			rec.ChangePercent = null.FloatFrom(f)
		}
	}
	if v, ok := firstValue(m, timeAliases); ok {
		rec.ObservedAt = asString(v)
	}
	return rec, true
}

func firstValue(m map[string]any, aliases []string) (any, bool) {
	for _, k := range aliases {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstCode(m map[string]any) (string, bool) {
	v, ok := firstValue(m, codeAliases)
	if !ok {
		return "", false
	}
	switch c := v.(type) {
	case string:
		return c, c != ""
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

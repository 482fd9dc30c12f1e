package groupfetch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/guregu/null/v6"

	"github.com/pnthang/market-collector/pkg/models"
)

// Key synonyms seen across payload variants.
var (
	metaKeys   = []string{"group", "meta"}
	listKeys   = []string{"data", "items", "constituents"}
	symbolKeys = []string{"symbol", "code", "s"}
	nameKeys   = []string{"name", "companyName", "n"}
)

// ParseGroup maps a raw group payload onto metadata and constituents. The
// payload shape varies, so lookups go through the same key-synonym approach
// the frame normalizer uses.
func ParseGroup(group string, raw json.RawMessage) (models.IndexMeta, []models.Constituent, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return models.IndexMeta{}, nil, fmt.Errorf("decode group payload: %w", err)
	}

	code := strings.ToUpper(group)
	meta := models.IndexMeta{
		Code:   code,
		Name:   code,
		Source: "vnboard",
	}
	for _, k := range metaKeys {
		m, ok := root[k].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := stringValue(m, nameKeys); ok {
			meta.Name = name
		}
		if desc, ok := m["description"].(string); ok {
			meta.Description = desc
		}
		break
	}

	items := findItems(root)
	var constituents []models.Constituent
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		symbol, ok := stringValue(m, symbolKeys)
		if !ok {
			continue
		}
		c := models.Constituent{
			IndexCode: code,
			Symbol:    symbol,
		}
		if name, ok := stringValue(m, nameKeys); ok {
			c.Name = name
		}
		c.Weight = floatValue(m, "weight")
		c.Shares = floatValue(m, "shares")
		c.MarketCap = floatValue(m, "marketCap", "mktCap", "market_cap")
		c.Price = floatValue(m, "price", "last", "lastPrice")
		constituents = append(constituents, c)
	}

	return meta, constituents, nil
}

// findItems locates the constituent list, looking one level deep as well
// because some payload variants nest it under data.items.
func findItems(root map[string]any) []any {
	for _, k := range listKeys {
		switch v := root[k].(type) {
		case []any:
			return v
		case map[string]any:
			for _, inner := range listKeys {
				if list, ok := v[inner].([]any); ok {
					return list
				}
			}
		}
	}
	return nil
}

func stringValue(m map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func floatValue(m map[string]any, keys ...string) null.Float {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return null.FloatFrom(f)
		}
	}
	return null.Float{}
}

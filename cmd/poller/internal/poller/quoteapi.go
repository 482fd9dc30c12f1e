package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/pnthang/market-collector/pkg/models"
)

// YahooClient fetches batch quotes from the public quote endpoint. Requests
// are rate limited and retried with backoff on 429 and 5xx responses by the
// underlying client.
type YahooClient struct {
	http    *retryablehttp.Client
	baseURL string
	limiter *rate.Limiter
}

func NewYahooClient(client *retryablehttp.Client, baseURL string, requestsPerSec float64) *YahooClient {
	return &YahooClient{
		http:    client,
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string   `json:"symbol"`
			RegularMarketPrice         *float64 `json:"regularMarketPrice"`
			RegularMarketChange        *float64 `json:"regularMarketChange"`
			RegularMarketChangePercent *float64 `json:"regularMarketChangePercent"`
			RegularMarketTime          int64    `json:"regularMarketTime"`
		} `json:"result"`
	} `json:"quoteResponse"`
}

func (y *YahooClient) FetchQuotes(ctx context.Context, symbols []string) ([]models.QuoteRecord, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := y.baseURL + "?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("quote request returned status %d", resp.StatusCode)
	}

	var decoded quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}

	var records []models.QuoteRecord
	for _, r := range decoded.QuoteResponse.Result {
		if r.Symbol == "" || r.RegularMarketPrice == nil {
			continue
		}
		rec := models.QuoteRecord{
			Code:  r.Symbol,
			Price: *r.RegularMarketPrice,
		}
		if r.RegularMarketChange != nil {
			rec.Change = null.FloatFrom(*r.RegularMarketChange)
		}
		if r.RegularMarketChangePercent != nil {
			rec.ChangePercent = null.FloatFrom(*r.RegularMarketChangePercent)
		}
		if r.RegularMarketTime > 0 {
			rec.ObservedAt = strconv.FormatInt(r.RegularMarketTime, 10)
		}
		records = append(records, rec)
	}
	return records, nil
}

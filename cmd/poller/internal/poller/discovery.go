package poller

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
)

// PageDiscoverer scrapes quote links out of the world-indices listing page.
// Used only when the tracked-symbol table is empty.
type PageDiscoverer struct {
	http *retryablehttp.Client
	url  string
}

func NewPageDiscoverer(client *retryablehttp.Client, url string) *PageDiscoverer {
	return &PageDiscoverer{http: client, url: url}
}

func (d *PageDiscoverer) Discover(ctx context.Context) ([]string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse discovery page: %w", err)
	}

	seen := make(map[string]bool)
	var symbols []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		sym := symbolFromQuoteLink(href)
		if sym != "" && !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	})
	return symbols, nil
}

// symbolFromQuoteLink extracts the symbol from hrefs like /quote/%5EGSPC/
// or /quote/^DJI?p=^DJI.
func symbolFromQuoteLink(href string) string {
	idx := strings.Index(href, "/quote/")
	if idx < 0 {
		return ""
	}
	sym := href[idx+len("/quote/"):]
	if cut := strings.IndexAny(sym, "/?"); cut >= 0 {
		sym = sym[:cut]
	}
	if un, err := url.PathUnescape(sym); err == nil {
		sym = un
	}
	return strings.TrimSpace(sym)
}

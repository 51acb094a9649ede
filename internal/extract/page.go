package extract

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/docquer/docquer/internal/apperr"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes     = 5 << 20
)

// Page is the visible text of a fetched web page.
type Page struct {
	URL   string
	Title string
	Text  string
}

// PageFetcher downloads web pages and strips them to their visible text.
type PageFetcher struct {
	httpClient *http.Client
}

// NewPageFetcher returns a PageFetcher whose requests time out after timeout.
func NewPageFetcher(timeout time.Duration) *PageFetcher {
	return &PageFetcher{httpClient: &http.Client{Timeout: timeout}}
}

// NormalizeURL trims raw and prepends https:// when it has no scheme.
// URLs without a host are rejected with InvalidInput.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.New(apperr.InvalidInput, "url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.New(apperr.InvalidInput, "unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", apperr.New(apperr.InvalidInput, "invalid url %q: missing host", raw)
	}
	return u.String(), nil
}

// Fetch downloads rawURL and returns its visible text: script, style and
// noscript elements are dropped and the remaining non-empty text nodes are
// trimmed and joined with newlines.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, apperr.Wrap(apperr.InvalidInput, err, "building request for %s", u)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Page{}, apperr.Wrap(apperr.ServiceUnavailable, err, "fetching %s", u)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, apperr.New(apperr.ServiceUnavailable, "fetching %s: status %d", u, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Page{}, apperr.Wrap(apperr.InvalidInput, err, "parsing %s", u)
	}

	title, text := visibleText(doc)
	return Page{URL: u, Title: title, Text: text}, nil
}

func visibleText(doc *html.Node) (title, text string) {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				lines = append(lines, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, strings.Join(lines, "\n")
}

// LinkName returns a display name for a fetched page: its title, or the
// host when the page has none.
func (p Page) LinkName() string {
	if p.Title != "" {
		return p.Title
	}
	if u, err := url.Parse(p.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return p.URL
}

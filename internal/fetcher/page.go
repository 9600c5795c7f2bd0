package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/horizonte-ai/atlas/internal/resilience"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (compatible; AtlasBot/1.0; +https://atlas.horizonte.ai/bot)"
	defaultMaxBodySize = 2 << 20 // 2 MiB
)

// Page is a fetched web page with its body decoded to UTF-8.
type Page struct {
	URL         string // final URL after redirects
	Body        string
	StatusCode  int
	ContentType string
}

// HTTPError reports a non-retryable HTTP failure status (4xx other than
// 408/429). Callers inspect StatusCode to classify the failure.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetcher: HTTP %d from %s", e.StatusCode, e.URL)
}

// PageOptions configures the page fetcher.
type PageOptions struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64

	// HostRate and HostBurst bound requests per host; HostRate is the
	// starting point the adaptive limiter tunes from. Company sites are
	// third parties we have no agreement with; stay polite.
	HostRate  rate.Limit
	HostBurst int

	Retry resilience.RetryConfig
}

// PageFetcher downloads web pages with one self-tuning rate limiter per
// host, bounded body reads, and UTF-8 decoding of legacy charsets.
type PageFetcher struct {
	client *http.Client
	opts   PageOptions

	mu       sync.Mutex
	limiters map[string]*adaptiveLimiter
}

// NewPageFetcher creates a PageFetcher with the given options.
func NewPageFetcher(opts PageOptions) *PageFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.HostRate == 0 {
		opts.HostRate = 2
	}
	if opts.HostBurst == 0 {
		opts.HostBurst = 4
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &PageFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*adaptiveLimiter),
	}
}

func (f *PageFetcher) limiterFor(host string) *adaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = newAdaptiveLimiter(host, f.opts.HostRate, f.opts.HostBurst)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch downloads a single URL. Transient failures (timeouts, 5xx, resets)
// are retried with backoff; 429 surfaces as a RateLimitError and other 4xx
// as an HTTPError, neither retried.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	if u.Host == "" {
		return nil, eris.Errorf("fetcher: url %s has no host", rawURL)
	}

	cfg := f.opts.Retry
	cfg.OnRetry = resilience.RetryLogger("fetcher", u.Host)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Page, error) {
		return f.fetchOnce(ctx, rawURL, u.Host)
	})
}

// FetchSite fetches a company homepage. Bare domains are tried over https
// first, then plain http; many small-business sites still lack TLS.
func (f *PageFetcher) FetchSite(ctx context.Context, site string) (*Page, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, eris.New("fetcher: empty site")
	}
	if strings.Contains(site, "://") {
		return f.Fetch(ctx, site)
	}

	page, err := f.Fetch(ctx, "https://"+site)
	if err == nil {
		return page, nil
	}

	// The server answered over https; switching schemes won't help.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) || resilience.IsRateLimited(err) {
		return nil, err
	}

	zap.L().Debug("fetcher: https failed, retrying over http",
		zap.String("site", site),
		zap.Error(err),
	)
	return f.Fetch(ctx, "http://"+site)
}

func (f *PageFetcher) fetchOnce(ctx context.Context, rawURL, host string) (*Page, error) {
	lim := f.limiterFor(host)
	if err := lim.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.onRateLimit()
		return nil, &resilience.RateLimitError{Service: host}
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("fetcher: status %d from %s", resp.StatusCode, rawURL),
			resp.StatusCode,
		)
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	lim.onSuccess()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodySize))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := decodeToUTF8(raw, contentType)
	if err != nil {
		zap.L().Debug("fetcher: charset decode failed, keeping raw bytes",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		body = string(raw)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:         finalURL,
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
	}, nil
}

// decodeToUTF8 converts a page body to UTF-8 using the charset from the
// Content-Type header, falling back to a <meta charset> probe. Brazilian
// small-business sites still serve ISO-8859-1 often enough to matter.
func decodeToUTF8(raw []byte, contentType string) (string, error) {
	name := charsetFromContentType(contentType)
	if name == "" {
		name = charsetFromMeta(raw)
	}
	if name == "" || strings.EqualFold(name, "utf-8") {
		return string(raw), nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: unsupported charset %q", name)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: decode charset %q", name)
	}
	return string(decoded), nil
}

func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([A-Za-z0-9._-]+)`)

// charsetFromMeta probes the first KiB of the document for a charset
// declaration. The tag itself is ASCII in every encoding we care about.
func charsetFromMeta(raw []byte) string {
	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	if m := metaCharsetRe.FindSubmatch(head); len(m) > 1 {
		return string(m[1])
	}
	return ""
}

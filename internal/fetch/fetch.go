package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/devicelist/internal/cache"
)

// DefaultTimeout bounds a single page request.
const DefaultTimeout = 30 * time.Second

// ErrEmptyBody is returned when the server answers 2xx with no content.
var ErrEmptyBody = errors.New("received empty response from page")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to fetch page: HTTP %d", e.Code)
}

// Client wraps http.Client and provides timeouts and limited retry on transient errors.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request. Zero means DefaultTimeout.
	PerRequestTimeout time.Duration
	// Optional on-disk cache for HTTP GET bodies and headers.
	Cache *cache.HTTPCache
	// If true, skip conditional revalidation but still save the latest response.
	BypassCache bool
	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// Limiter paces outgoing requests when set.
	Limiter *rate.Limiter
	// MaxConcurrent limits concurrent in-flight requests per client instance.
	// Zero means unlimited.
	MaxConcurrent int

	sem     chan struct{}
	semOnce sync.Once
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{CheckRedirect: c.checkRedirectFunc()}
}

// Get fetches url and returns the body decoded to UTF-8 with its content type.
// A cached copy is revalidated with If-None-Match / If-Modified-Since and
// served on 304.
func (c *Client) Get(ctx context.Context, url string) ([]byte, string, error) {
	var etag, lastMod string
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, url); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := c.tryOnce(ctx, url, etag, lastMod)
		if err == nil {
			return c.finish(ctx, url, res)
		}
		lastErr = err
		if !isTransient(err) || i == attempts-1 {
			break
		}
		log.Debug().Err(err).Str("url", url).Int("attempt", i+1).Msg("retrying fetch")
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
	return nil, "", lastErr
}

type response struct {
	status       int
	body         []byte
	contentType  string
	etag         string
	lastModified string
}

func (c *Client) finish(ctx context.Context, url string, res response) ([]byte, string, error) {
	if res.status == http.StatusNotModified {
		if c.Cache == nil {
			return nil, "", errors.New("not modified but no cache configured")
		}
		meta, err := c.Cache.LoadMeta(ctx, url)
		if err != nil {
			return nil, "", fmt.Errorf("load cached meta: %w", err)
		}
		body, err := c.Cache.LoadBody(ctx, url)
		if err != nil {
			return nil, "", fmt.Errorf("load cached body: %w", err)
		}
		log.Debug().Str("url", url).Msg("page not modified; served from cache")
		return body, meta.ContentType, nil
	}
	if len(res.body) == 0 {
		return nil, "", ErrEmptyBody
	}
	if c.Cache != nil {
		if err := c.Cache.Save(ctx, url, res.contentType, res.etag, res.lastModified, res.body); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("http cache save failed")
		}
	}
	return res.body, res.contentType, nil
}

func (c *Client) tryOnce(ctx context.Context, rawURL string, etag string, lastMod string) (response, error) {
	if err := c.wait(ctx); err != nil {
		return response{}, err
	}
	c.acquire()
	defer c.release()

	timeout := c.PerRequestTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return response{}, fmt.Errorf("new request: %w", err)
	}
	// Reject non-HTTP(S) schemes early
	if !isHTTPScheme(req.URL) {
		return response{}, fmt.Errorf("unsupported URL scheme: %q", req.URL.String())
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	res := response{
		status:       resp.StatusCode,
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	if resp.StatusCode == http.StatusNotModified {
		return res, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	if !isAllowedHTMLContentType(res.contentType) {
		return res, fmt.Errorf("unsupported content type: %s", res.contentType)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return res, fmt.Errorf("read body: %w", err)
	}
	if len(raw) == 0 {
		return res, nil
	}
	r, err := charset.NewReader(bytes.NewReader(raw), res.contentType)
	if err != nil {
		return res, fmt.Errorf("decode charset: %w", err)
	}
	if res.body, err = io.ReadAll(r); err != nil {
		return res, fmt.Errorf("decode body: %w", err)
	}
	res.contentType = utf8ContentType(res.contentType)
	return res, nil
}

// utf8ContentType relabels ct for a body that has been decoded to UTF-8.
func utf8ContentType(ct string) string {
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || mediaType == "" {
		return "text/html; charset=utf-8"
	}
	params["charset"] = "utf-8"
	return mime.FormatMediaType(mediaType, params)
}

// isTransient treats HTTP 5xx and per-request deadlines as worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 500 && se.Code <= 599
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		// Only allow http/https during redirects
		if !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func isAllowedHTMLContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	// an absent header is accepted; the parser copes with anything
	return ct == "" || strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

func (c *Client) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

func (c *Client) acquire() {
	if c.MaxConcurrent <= 0 {
		return
	}
	c.semOnce.Do(func() {
		c.sem = make(chan struct{}, c.MaxConcurrent)
	})
	c.sem <- struct{}{}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.sem == nil {
		return
	}
	<-c.sem
}

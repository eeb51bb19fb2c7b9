package corroborate

import (
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

	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/logger"

	"codeberg.org/readeck/go-readability/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	ErrUnsupportedScheme  = errors.New("unsupported url scheme")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// Fetcher loads corroboration pages as plain-text documents. Requests to
// the same host are spaced by a politeness limiter and each request is
// bounded by a timeout. Successful fetches are cached for the lifetime of
// the fetcher.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	limit    rate.Limit
	maxBytes int64
	parallel int

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	cacheMu sync.RWMutex
	cache   map[string]string
	group   singleflight.Group
}

type NewFetcherParams struct {
	Client  *http.Client
	Timeout time.Duration
	// RequestsPerSecond is the per-host request rate.
	RequestsPerSecond float64
	MaxBytes          int64
	Parallel          int
}

func NewFetcher(params NewFetcherParams) *Fetcher {
	if params.Client == nil {
		params.Client = http.DefaultClient
	}
	if params.Timeout <= 0 {
		params.Timeout = 15 * time.Second
	}
	if params.RequestsPerSecond <= 0 {
		params.RequestsPerSecond = 1
	}
	if params.MaxBytes <= 0 {
		params.MaxBytes = 5 << 20
	}
	if params.Parallel <= 0 {
		params.Parallel = 4
	}
	return &Fetcher{
		client:   params.Client,
		timeout:  params.Timeout,
		limit:    rate.Limit(params.RequestsPerSecond),
		maxBytes: params.MaxBytes,
		parallel: params.Parallel,
		limiters: make(map[string]*rate.Limiter),
		cache:    make(map[string]string),
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.limitersMu.Lock()
	defer f.limitersMu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.limit, 1)
		f.limiters[host] = l
	}
	return l
}

// Fetch returns the readable text of rawURL as a document whose source is
// the URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (common.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return common.Document{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return common.Document{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	key := u.String()

	f.cacheMu.RLock()
	if text, ok := f.cache[key]; ok {
		f.cacheMu.RUnlock()
		return common.Document{Source: key, Text: text}, nil
	}
	f.cacheMu.RUnlock()

	result, err, _ := f.group.Do(key, func() (any, error) {
		f.cacheMu.RLock()
		if text, ok := f.cache[key]; ok {
			f.cacheMu.RUnlock()
			return text, nil
		}
		f.cacheMu.RUnlock()

		if err := f.limiter(u.Host).Wait(ctx); err != nil {
			return "", err
		}
		text, err := f.get(ctx, u)
		if err != nil {
			return "", err
		}

		f.cacheMu.Lock()
		f.cache[key] = text
		f.cacheMu.Unlock()
		return text, nil
	})
	if err != nil {
		return common.Document{}, err
	}
	return common.Document{Source: key, Text: result.(string)}, nil
}

func (f *Fetcher) get(ctx context.Context, u *url.URL) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch url: status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		article, err := readability.FromReader(body, u)
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}
		var b strings.Builder
		if err := article.RenderText(&b); err != nil {
			return "", fmt.Errorf("render article text: %w", err)
		}
		return strings.TrimSpace(b.String()), nil
	case strings.HasPrefix(mediaType, "text/") || mediaType == "":
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, mediaType)
	}
}

// FetchAll fetches urls concurrently and returns the documents that could
// be loaded, in input order. Failures are logged and skipped.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []common.Document {
	docs := make([]*common.Document, len(urls))

	var eg errgroup.Group
	eg.SetLimit(f.parallel)
	for i, raw := range urls {
		eg.Go(func() error {
			doc, err := f.Fetch(ctx, raw)
			if err != nil {
				logger.Warn("[Corroborate] Skipping url", "url", raw, "err", err)
				return nil
			}
			if doc.Text == "" {
				logger.Debug("[Corroborate] Empty page", "url", raw)
				return nil
			}
			docs[i] = &doc
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]common.Document, 0, len(urls))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

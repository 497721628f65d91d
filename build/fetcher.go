package build

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	syncx "github.com/ije/gox/sync"
	"github.com/postjs/compiler/internal/fetch"
	"github.com/postjs/compiler/internal/importmap"
)

// RemoteSource is the fetched source of a remote module.
type RemoteSource struct {
	URL         string
	ContentType string
	Content     []byte
	Digest      string
}

// Fetcher downloads remote module sources. Every url is requested at most once per process,
// except for the urls to revalidate (loopback origins by default) which are requested every time.
type Fetcher struct {
	importMap  *importmap.ImportMap
	userAgent  string
	timeout    time.Duration
	warnAfter  time.Duration
	salt       string
	revalidate func(u *url.URL) bool
	fetchLock  syncx.KeyedMutex
	lock       sync.RWMutex
	resolved   map[string]*RemoteSource
}

type FetcherOptions struct {
	ImportMap *importmap.ImportMap
	UserAgent string
	// Timeout of a request, zero means no timeout.
	Timeout time.Duration
	// WarnAfter logs a warning when a request is still running after the duration.
	WarnAfter time.Duration
	Salt      string
	// Revalidate reports whether the url is requested every time, defaults to loopback origins.
	Revalidate func(u *url.URL) bool
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "postjs/" + VERSION
	}
	if opts.WarnAfter == 0 {
		opts.WarnAfter = 10 * time.Second
	}
	if opts.Revalidate == nil {
		opts.Revalidate = isLoopback
	}
	return &Fetcher{
		importMap:  opts.ImportMap,
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		warnAfter:  opts.WarnAfter,
		salt:       opts.Salt,
		revalidate: opts.Revalidate,
		resolved:   map[string]*RemoteSource{},
	}
}

// Resolved returns the source fetched earlier in this process.
func (f *Fetcher) Resolved(rawURL string) (*RemoteSource, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	src, ok := f.resolved[rawURL]
	return src, ok
}

// Fetch returns the source of the remote module.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*RemoteSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	revalidate := f.revalidate(u)

	if !revalidate {
		if src, ok := f.Resolved(rawURL); ok {
			return src, nil
		}
	}

	unlock := f.fetchLock.Lock(rawURL)
	defer unlock()

	// fetched by another caller while waiting for the lock
	if !revalidate {
		if src, ok := f.Resolved(rawURL); ok {
			return src, nil
		}
	}

	src, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	f.lock.Lock()
	f.resolved[rawURL] = src
	f.lock.Unlock()
	return src, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*RemoteSource, error) {
	requestURL := rawURL
	if mapped, ok := f.importMap.Resolve(rawURL, ""); ok && isRemoteURL(mapped) {
		requestURL = mapped
	}
	u, err := url.Parse(requestURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	start := time.Now()
	timer := time.AfterFunc(f.warnAfter, func() {
		log.Warnf("fetching %s is taking longer than %v", requestURL, f.warnAfter)
	})
	defer timer.Stop()

	client, recycle := fetch.NewClient(f.userAgent, f.timeout)
	defer recycle()

	resp, err := client.Fetch(ctx, u, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode, Err: err}
	}
	if len(content) > maxSourceSize {
		return nil, &SourceTooLargeError{Path: rawURL, Size: max(resp.ContentLength, int64(len(content)))}
	}

	log.Debugf("fetched %s in %v", requestURL, time.Since(start))
	return &RemoteSource{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		Content:     content,
		Digest:      SourceDigest(content, f.salt),
	}, nil
}

// Revalidate reports whether the remote module is fetched again on every compile.
func (f *Fetcher) Revalidate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && f.revalidate(u)
}

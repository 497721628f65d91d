package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
)

var clientPool = sync.Pool{
	New: func() any {
		return &FetchClient{Client: &http.Client{}}
	},
}

// FetchClient is a pooled HTTP client for remote modules.
type FetchClient struct {
	*http.Client
	userAgent string
}

// NewClient takes a client from the pool, a zero timeout means no timeout.
// Call recycle to return the client once the response body is closed.
func NewClient(userAgent string, timeout time.Duration) (client *FetchClient, recycle func()) {
	client = clientPool.Get().(*FetchClient)
	client.userAgent = userAgent
	client.Timeout = timeout
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("stopped after 5 redirects")
		}
		return nil
	}
	return client, func() { clientPool.Put(client) }
}

// Fetch sends a GET request for the url.
func (c *FetchClient) Fetch(ctx context.Context, u *url.URL, header http.Header) (resp *http.Response, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.Do(req)
}

// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/fault"
)

// bound stored response bodies; anything larger is not worth holding
// in a bucket and is served without caching
const maximumBodySize = 16 * 1024 * 1024

// Fetcher - the network primitive behind every strategy
//
// a Fetch either yields a complete response snapshot or an error;
// transport failures and timeouts surface as errors, HTTP error
// statuses surface as snapshots
type Fetcher interface {
	Fetch(ctx context.Context, method string, requestPath string, header http.Header) (*bucket.CachedResponse, error)
}

// HTTPFetcher - upstream origin access over HTTP
type HTTPFetcher struct {
	origin  *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher - create the upstream fetcher
func NewHTTPFetcher(origin string, requestsPerSecond float64, burst int, timeout time.Duration) (*HTTPFetcher, error) {
	u, err := url.Parse(origin)
	if nil != err {
		return nil, fault.InvalidUpstreamOrigin
	}
	if ("http" != u.Scheme && "https" != u.Scheme) || "" == u.Host {
		return nil, fault.InvalidUpstreamOrigin
	}

	return &HTTPFetcher{
		origin: u,
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}, nil
}

// Fetch - perform one upstream request and snapshot the response
//
// a relative requestPath is resolved against the configured origin;
// an absolute URL is dialled as given so pass-through traffic reaches
// its own origin
func (f *HTTPFetcher) Fetch(ctx context.Context, method string, requestPath string, header http.Header) (*bucket.CachedResponse, error) {

	if err := f.limiter.Wait(ctx); nil != err {
		return nil, fault.RateLimiting
	}

	parsed, err := url.Parse(requestPath)
	if nil != err {
		return nil, err
	}

	target := parsed
	if !parsed.IsAbs() {
		u := *f.origin
		u.Path = parsed.Path
		u.RawQuery = parsed.RawQuery
		target = &u
	}

	request, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if nil != err {
		return nil, err
	}
	for name, values := range header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}

	response, err := f.client.Do(request)
	if nil != err {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maximumBodySize+1))
	if nil != err {
		return nil, err
	}
	if len(body) > maximumBodySize {
		return nil, fault.NotCacheable
	}

	snapshot := &bucket.CachedResponse{
		Status:   response.StatusCode,
		Header:   flattenHeader(response.Header),
		Body:     body,
		StoredAt: time.Now().UnixMilli(),
	}
	return snapshot, nil
}

// keep the single representative value per header; duplicate headers
// do not matter for the asset classes served through the buckets
func flattenHeader(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for name := range header {
		flat[name] = header.Get(name)
	}
	return flat
}

// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/fault"
)

// Handle - entry point for every intercepted request
func Handle(w http.ResponseWriter, r *http.Request) {
	response := respond(r)
	writeSnapshot(w, r, response)
}

// respond - classify once, run exactly one strategy; always yields a
// response snapshot, never an error
func respond(r *http.Request) *bucket.CachedResponse {
	strategy := Classify(r)
	requestKey := bucket.Key(r.Method, r.URL.RequestURI())

	switch strategy {
	case CacheFirst:
		return cacheFirst(r, requestKey)
	case NetworkFirst:
		return networkFirst(r, requestKey)
	case PassThrough:
		return passThrough(r)
	default:
		return staleWhileRevalidate(r, requestKey)
	}
}

// cache-first: styles, scripts and images
//
// cached entry wins outright; a miss goes to the network and feeds
// the dynamic bucket; network failure degrades to the fallback icon
// for images and a synthetic unavailability response otherwise
func cacheFirst(r *http.Request, requestKey string) *bucket.CachedResponse {
	static, dynamic := buckets()

	if cached := lookup(requestKey, dynamic, static); nil != cached {
		return cached
	}

	response, err := fetch(r)
	if networkOK(response, err) {
		store(dynamic, requestKey, r.Method, response)
		return response
	}

	if isImage(r) {
		if icon := fallbackIcon(static); nil != icon {
			return icon
		}
	}
	return offlineResponse()
}

// network-first: api paths
//
// fresh data when the network allows, the last good copy when it
// does not
func networkFirst(r *http.Request, requestKey string) *bucket.CachedResponse {
	static, dynamic := buckets()

	response, err := fetch(r)
	if networkOK(response, err) {
		store(dynamic, requestKey, r.Method, response)
		return response
	}

	if cached := lookup(requestKey, dynamic, static); nil != cached {
		return cached
	}
	return offlineResponse()
}

// stale-while-revalidate: navigations and everything unclassified
//
// a cached copy is returned immediately while the dynamic bucket is
// refreshed in the background for the next request; with no cached
// copy the caller waits on the network, and an offline navigation
// still resolves to the app shell (known route) or the offline
// fallback document
func staleWhileRevalidate(r *http.Request, requestKey string) *bucket.CachedResponse {
	static, dynamic := buckets()

	if cached := lookup(requestKey, dynamic, static); nil != cached {
		revalidate(r, requestKey, dynamic)
		return cached
	}

	response, err := fetch(r)
	if networkOK(response, err) {
		store(dynamic, requestKey, r.Method, response)
		return response
	}

	if isNavigation(r) {
		return offlineNavigation(r, static)
	}
	return offlineResponse()
}

// pass-through: cross-origin traffic, proxied untouched and never
// cached
func passThrough(r *http.Request) *bucket.CachedResponse {
	response, err := fetch(r)
	if nil != err {
		globalData.log.Warnf("pass-through failed: %q  error: %s", r.URL, err)
		return badGatewayResponse()
	}
	return response
}

// substitute a document for a failed offline navigation: the app
// shell for known client-side routes, the offline page for anything
// else
func offlineNavigation(r *http.Request, static *bucket.Bucket) *bucket.CachedResponse {
	globalData.RLock()
	knownRoute := globalData.routes[r.URL.Path]
	appShell := globalData.appShell
	offlinePage := globalData.offlinePage
	globalData.RUnlock()

	if nil != static {
		if knownRoute {
			if shell, err := static.Get(bucket.Key(http.MethodGet, appShell)); nil == err {
				return shell
			}
		}
		if page, err := static.Get(bucket.Key(http.MethodGet, offlinePage)); nil == err {
			return page
		}
	}
	return offlineResponse()
}

// refresh the dynamic bucket in the background; concurrent refreshes
// for the same key collapse into one network request and the result
// is only visible to subsequent requests
func revalidate(r *http.Request, requestKey string, dynamic *bucket.Bucket) {
	method := r.Method
	requestPath := r.URL.RequestURI()
	header := r.Header.Clone()

	go func() {
		_, _, _ = globalData.revalidations.Do(requestKey, func() (interface{}, error) {
			globalData.RLock()
			upstream := globalData.upstream
			globalData.RUnlock()
			if nil == upstream {
				return nil, fault.NotInitialised
			}

			response, err := upstream.Fetch(context.Background(), method, requestPath, header)
			if !networkOK(response, err) {
				return nil, err
			}
			store(dynamic, requestKey, method, response)
			return nil, nil
		})
	}()
}

// first hit wins: dynamic before static
func lookup(requestKey string, pools ...*bucket.Bucket) *bucket.CachedResponse {
	for _, b := range pools {
		if nil == b {
			continue
		}
		if cached, err := b.Get(requestKey); nil == err {
			return cached
		}
	}
	return nil
}

// fetch via the configured upstream using the caller's context; an
// absolute request URL keeps its own origin
func fetch(r *http.Request) (*bucket.CachedResponse, error) {
	globalData.RLock()
	upstream := globalData.upstream
	globalData.RUnlock()
	if nil == upstream {
		return nil, fault.NotInitialised
	}

	target := r.URL.RequestURI()
	if r.URL.IsAbs() {
		target = r.URL.String()
	}
	return upstream.Fetch(r.Context(), r.Method, target, r.Header)
}

// a response only counts as a network success when the transport
// succeeded and the origin itself was not failing
func networkOK(response *bucket.CachedResponse, err error) bool {
	return nil == err && nil != response && response.Status < http.StatusInternalServerError
}

// cache a successful GET response; write failures are logged and the
// in-flight response is returned regardless
func store(b *bucket.Bucket, requestKey string, method string, response *bucket.CachedResponse) {
	if nil == b || http.MethodGet != method {
		return
	}
	if err := b.Put(requestKey, response); nil != err {
		globalData.log.Errorf("cache write failed: %q  error: %s", requestKey, err)
	}
}

func fallbackIcon(static *bucket.Bucket) *bucket.CachedResponse {
	globalData.RLock()
	iconPath := globalData.fallbackIcon
	globalData.RUnlock()

	if nil == static || "" == iconPath {
		return nil
	}
	icon, err := static.Get(bucket.Key(http.MethodGet, iconPath))
	if nil != err {
		return nil
	}
	return icon
}

func isImage(r *http.Request) bool {
	if "image" == r.Header.Get("Sec-Fetch-Dest") {
		return true
	}
	switch strings.ToLower(pathExtension(r.URL.Path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico":
		return true
	}
	return false
}

func pathExtension(p string) string {
	dot := strings.LastIndexByte(p, '.')
	slash := strings.LastIndexByte(p, '/')
	if dot < 0 || dot < slash {
		return ""
	}
	return p[dot:]
}

// write a snapshot back to the client
func writeSnapshot(w http.ResponseWriter, r *http.Request, response *bucket.CachedResponse) {
	for name, value := range response.Header {
		w.Header().Set(name, value)
	}

	// worker and manifest files must never be cached by the browser
	// and the worker scope must cover the whole application
	switch r.URL.Path {
	case "/sw.js":
		w.Header().Set("Service-Worker-Allowed", "/")
		w.Header().Set("Cache-Control", "no-cache")
	case "/manifest.json", "/manifest.webmanifest":
		w.Header().Set("Cache-Control", "no-cache")
	}

	w.WriteHeader(response.Status)
	if http.MethodHead != r.Method {
		_, _ = w.Write(response.Body)
	}
}

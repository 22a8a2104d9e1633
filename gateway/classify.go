// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"net/http"
	"path"
	"strings"
)

// Strategy - the closed set of caching strategies
type Strategy int

const (
	CacheFirst Strategy = iota
	NetworkFirst
	StaleWhileRevalidate
	PassThrough
)

// String - strategy name for logging
func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case PassThrough:
		return "pass-through"
	default:
		return "*unknown*"
	}
}

// subresource extensions handled cache-first when the browser does
// not say what the destination is
var cacheFirstExtensions = map[string]bool{
	".css":  true,
	".js":   true,
	".mjs":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
	".ico":  true,
}

// Classify - assign exactly one strategy to a request
//
// the rules are evaluated in a fixed order before any strategy code
// runs:
//  1. cross-origin          → pass-through (never cached)
//  2. navigation            → stale-while-revalidate
//  3. api path prefix       → network-first
//  4. style/script/image    → cache-first
//  5. everything else       → stale-while-revalidate
//
// navigation outranks the api prefix so a document request for an
// api-prefixed path still resolves to a page or the offline fallback
// instead of an api error body
func Classify(r *http.Request) Strategy {
	globalData.RLock()
	apiPrefix := globalData.apiPrefix
	globalData.RUnlock()

	if isCrossOrigin(r) {
		return PassThrough
	}

	if isNavigation(r) {
		return StaleWhileRevalidate
	}

	if "" != apiPrefix && strings.HasPrefix(r.URL.Path, apiPrefix) {
		return NetworkFirst
	}

	switch r.Header.Get("Sec-Fetch-Dest") {
	case "style", "script", "image":
		return CacheFirst
	case "":
		if cacheFirstExtensions[strings.ToLower(path.Ext(r.URL.Path))] {
			return CacheFirst
		}
	}

	return StaleWhileRevalidate
}

// a request for a different origin than the pages themselves; these
// are proxied untouched to avoid polluting the buckets with
// third-party, potentially credentialed responses
func isCrossOrigin(r *http.Request) bool {
	if !r.URL.IsAbs() {
		return false
	}
	return !strings.EqualFold(r.URL.Host, r.Host)
}

// the browser asking for an HTML document
func isNavigation(r *http.Request) bool {
	if "navigate" == r.Header.Get("Sec-Fetch-Mode") {
		return true
	}
	return http.MethodGet == r.Method &&
		strings.Contains(r.Header.Get("Accept"), "text/html")
}

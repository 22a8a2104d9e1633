// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package gateway - request interception and strategy routing
//
// every request the pages issue passes through here; an ordered
// classifier assigns exactly one caching strategy per request and the
// strategy consults the cache buckets, falling back to the network
// and finally to synthetic offline responses
//
// a request never escapes as an error page: navigations resolve to
// the live page, the cached app shell or the offline fallback
// document; subresources degrade to a fallback icon or a plain
// unavailability response
package gateway

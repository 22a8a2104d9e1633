// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"net/http"
	"time"

	"github.com/upi2qr/upi2qrd/bucket"
)

// offlineResponse - deterministic placeholder when neither cache nor
// network can serve a request
func offlineResponse() *bucket.CachedResponse {
	return synthetic(http.StatusServiceUnavailable, "Not available offline")
}

// badGatewayResponse - pass-through transport failure
func badGatewayResponse() *bucket.CachedResponse {
	return synthetic(http.StatusBadGateway, "upstream unreachable")
}

func synthetic(status int, message string) *bucket.CachedResponse {
	return &bucket.CachedResponse{
		Status: status,
		Header: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
		Body:     []byte(message),
		StoredAt: time.Now().UnixMilli(),
	}
}

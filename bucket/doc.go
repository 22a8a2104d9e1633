// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bucket - named versioned cache buckets
//
// a bucket maps a request identity (method + path) to a stored
// response snapshot; two buckets exist at steady state: a static
// bucket seeded once at install time and a dynamic bucket populated
// lazily from successful network responses
//
// bucket names embed the deployment version token; on activation of
// a new version every bucket carrying the application prefix that is
// not one of the two current names is swept away
package bucket

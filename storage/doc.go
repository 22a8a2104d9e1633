// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package storage - maintain the on-disk data store
//
// two LevelDB databases are held under the data directory:
//
//	cache.leveldb - cache bucket registry and response entries
//	queue.leveldb - pending payment records and control values
//
// each pool is identified by a single prefix byte prepended to every
// key so that multiple pools can share one database; every operation
// against a pool is a single atomic keyed read or write
package storage

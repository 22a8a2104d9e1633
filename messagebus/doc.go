// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package messagebus - signals between the host pages and the worker
//
// the host page can ask a waiting worker version to take over
// immediately and can poke the payment sync; the worker announces
// activation and restored connectivity so pages can react without
// polling
package messagebus

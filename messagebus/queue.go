// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package messagebus

// internal constants
const (
	queueSize = 100
)

// Signal - the closed set of signals carried by the bus
type Signal int

const (
	// SignalSkipWaiting - host page asks the waiting worker version
	// to activate without waiting for all pages to close
	SignalSkipWaiting Signal = iota

	// SignalActivated - worker announces it has taken control of
	// already-open pages
	SignalActivated

	// SignalOnline - worker detected restored connectivity
	SignalOnline

	// SignalSyncRequested - host page requests an immediate
	// payment sync attempt
	SignalSyncRequested
)

// Message - one signal with its originator tag
type Message struct {
	From   string
	Signal Signal
}

var (
	// for queueing signals
	queue = make(chan Message, queueSize)
)

// Send - queue a signal
//
// the bus is advisory: when the queue is full the signal is dropped
// rather than blocking a request handler
func Send(from string, signal Signal) bool {
	select {
	case queue <- Message{From: from, Signal: signal}:
		return true
	default:
		return false
	}
}

// Chan - channel to read from
func Chan() <-chan Message {
	return queue
}

// String - signal name for logging
func (s Signal) String() string {
	switch s {
	case SignalSkipWaiting:
		return "skip-waiting"
	case SignalActivated:
		return "activated"
	case SignalOnline:
		return "online"
	case SignalSyncRequested:
		return "sync-requested"
	default:
		return "*unknown*"
	}
}

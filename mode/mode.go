// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mode - worker lifecycle state
//
// tracks the install/activate state machine of the currently running
// worker version; transitions are driven by the lifecycle package
package mode

import (
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/fault"
)

// Mode - type to hold the mode
type Mode int

// all possible modes
const (
	Stopped Mode = iota
	Installing
	Installed
	Activating
	Active
	Redundant
	maximum
)

var globalData struct {
	sync.RWMutex
	log     *logger.L
	mode    Mode
	version string

	// set once during initialise
	initialised bool
}

// Initialise - set up the mode system
//
// the worker always starts in Installing; the deployment version
// token is fixed for the lifetime of this worker
func Initialise(versionToken string) error {
	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	if "" == versionToken {
		return fault.InvalidVersionToken
	}

	globalData.log = logger.New("mode")
	globalData.log.Info("starting…")

	globalData.version = versionToken
	globalData.mode = Installing

	// all data initialised
	globalData.initialised = true

	return nil
}

// Finalise - shutdown mode handling
func Finalise() error {

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	Set(Stopped)

	// finally...
	globalData.initialised = false

	globalData.log.Info("finished")
	globalData.log.Flush()

	return nil
}

// Set - change mode
func Set(mode Mode) {

	if mode >= Stopped && mode < maximum {
		globalData.Lock()
		globalData.mode = mode
		globalData.Unlock()

		globalData.log.Infof("set: %s", mode)
	} else {
		globalData.log.Errorf("ignore invalid set: %d", mode)
	}
}

// Is - detect mode
func Is(mode Mode) bool {
	globalData.RLock()
	defer globalData.RUnlock()
	return mode == globalData.mode
}

// IsNot - detect mode
func IsNot(mode Mode) bool {
	globalData.RLock()
	defer globalData.RUnlock()
	return mode != globalData.mode
}

// SetVersion - replace the deployment version token
//
// used when a newer deployment takes over the running worker
func SetVersion(versionToken string) {

	if "" == versionToken {
		globalData.log.Error("ignore empty version token")
		return
	}

	globalData.Lock()
	globalData.version = versionToken
	globalData.Unlock()

	globalData.log.Infof("version: %s", versionToken)
}

// Version - deployment version token of this worker
func Version() string {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.version
}

// String - current mode represented as a string
func String() string {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.mode.String()
}

// String - mode value represented as a string
func (m Mode) String() string {
	switch m {
	case Stopped:
		return "Stopped"
	case Installing:
		return "Installing"
	case Installed:
		return "Installed"
	case Activating:
		return "Activating"
	case Active:
		return "Active"
	case Redundant:
		return "Redundant"
	default:
		return "*Unknown*"
	}
}

// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package lifecycle - install and activate deployments
//
// a deployment is identified by a version token; installing a
// deployment precaches every manifest entry into a fresh static
// bucket, activating it makes the version's bucket pair live in the
// gateway and sweeps every superseded bucket
package lifecycle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/background"
	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/gateway"
	"github.com/upi2qr/upi2qrd/messagebus"
	"github.com/upi2qr/upi2qrd/mode"
)

// timeout for fetching one manifest entry during install
const installFetchTimeout = 30 * time.Second

// Configuration - lifecycle setup
type Configuration struct {
	Prefix      string   // bucket ownership prefix
	Version     string   // deployment version token
	Manifest    []string // paths precached into the static bucket
	SkipWaiting bool     // activate immediately after install
	WatchFile   string   // optional version file watched for deployments
	Upstream    gateway.Fetcher
}

// globals for background process
type globalDataType struct {
	sync.RWMutex

	log      *logger.L
	upstream gateway.Fetcher

	prefix      string
	manifest    []string
	skipWaiting bool

	// current deployment
	version string
	static  *bucket.Bucket

	// serialises overlapping deployments
	deploying sync.Mutex

	background *background.T

	// set once during initialise
	initialised bool
}

var globalData globalDataType

// Initialise - setup the lifecycle controller
//
// nothing is installed here; the caller drives Install and Activate
// so a failed install can abort startup cleanly
func Initialise(configuration *Configuration) error {
	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	if nil == configuration || nil == configuration.Upstream {
		return fault.MissingParameters
	}
	if "" == configuration.Prefix {
		return fault.InvalidBucketPrefix
	}
	if "" == configuration.Version {
		return fault.InvalidVersionToken
	}
	if 0 == len(configuration.Manifest) {
		return fault.InvalidManifest
	}

	globalData.log = logger.New("lifecycle")
	globalData.log.Info("starting…")

	globalData.upstream = configuration.Upstream
	globalData.prefix = configuration.Prefix
	globalData.manifest = configuration.Manifest
	globalData.skipWaiting = configuration.SkipWaiting
	globalData.version = configuration.Version

	if "" != configuration.WatchFile {
		watcher, err := newDeploymentWatcher(configuration.WatchFile, logger.New("lifecycle-watcher"))
		if nil != err {
			return err
		}
		globalData.background = background.Start(background.Processes{watcher}, nil)
	}

	globalData.initialised = true

	return nil
}

// Finalise - stop all background tasks
func Finalise() error {

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.log.Flush()

	globalData.background.Stop()

	globalData.Lock()
	globalData.static = nil
	globalData.upstream = nil
	globalData.background = nil
	globalData.initialised = false
	globalData.Unlock()

	globalData.log.Info("finished")
	globalData.log.Flush()

	return nil
}

// Version - version token of the current deployment
func Version() string {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.version
}

// Install - precache the manifest for the configured version
//
// with skip_waiting set a successful install activates immediately
func Install() error {
	globalData.deploying.Lock()
	defer globalData.deploying.Unlock()

	globalData.RLock()
	version := globalData.version
	skipWaiting := globalData.skipWaiting
	globalData.RUnlock()

	if err := install(version); nil != err {
		return err
	}
	if skipWaiting {
		return activate(version)
	}
	return nil
}

// Activate - make the installed version live
func Activate() error {
	globalData.deploying.Lock()
	defer globalData.deploying.Unlock()

	globalData.RLock()
	version := globalData.version
	globalData.RUnlock()

	return activate(version)
}

// Update - install and activate a newer deployment
//
// a failed install leaves the running version untouched and active
func Update(newVersion string) error {
	if "" == newVersion {
		return fault.InvalidVersionToken
	}

	globalData.deploying.Lock()
	defer globalData.deploying.Unlock()

	globalData.RLock()
	current := globalData.version
	globalData.RUnlock()

	if newVersion == current {
		globalData.log.Infof("version already current: %s", newVersion)
		return nil
	}

	globalData.log.Infof("update: %q to %q", current, newVersion)

	// the running deployment is superseded from this point
	mode.Set(mode.Redundant)

	if err := install(newVersion); nil != err {
		mode.Set(mode.Active)
		return err
	}
	if err := activate(newVersion); nil != err {
		abandonDeployment(current, newVersion)
		mode.Set(mode.Active)
		return err
	}

	mode.SetVersion(newVersion)
	return nil
}

// put the previous deployment back after a failed takeover: drop the
// buckets of the version that never went live and reattach the
// running version's static bucket, otherwise a later activation
// would sweep against mismatched names
func abandonDeployment(current string, failed string) {
	log := globalData.log

	globalData.RLock()
	prefix := globalData.prefix
	globalData.RUnlock()

	for _, name := range []string{
		bucket.StaticName(prefix, failed),
		bucket.DynamicName(prefix, failed),
	} {
		if err := bucket.Delete(name); nil != err {
			log.Errorf("abandoned bucket delete failed: %s  error: %s", name, err)
		}
	}

	static, err := bucket.Open(bucket.StaticName(prefix, current))
	if nil != err {
		log.Errorf("static bucket reopen failed: %s  error: %s", current, err)
		static = nil
	}
	globalData.Lock()
	globalData.static = static
	globalData.Unlock()
}

// seed a fresh static bucket with the whole manifest
//
// any failure deletes the partial bucket so a bucket for a version
// only ever exists fully populated
func install(version string) error {
	log := globalData.log

	globalData.RLock()
	prefix := globalData.prefix
	manifest := globalData.manifest
	upstream := globalData.upstream
	globalData.RUnlock()

	mode.Set(mode.Installing)

	staticName := bucket.StaticName(prefix, version)
	static, err := bucket.Open(staticName)
	if nil != err {
		return err
	}

	log.Infof("install: %s  entries: %d", staticName, len(manifest))

	for _, entry := range manifest {
		if err := precache(upstream, static, entry); nil != err {
			log.Errorf("install aborted: %s  entry: %q  error: %s", staticName, entry, err)
			if err := bucket.Delete(staticName); nil != err {
				log.Errorf("partial bucket delete failed: %s  error: %s", staticName, err)
			}
			return fault.InstallIncomplete
		}
	}

	globalData.Lock()
	globalData.static = static
	globalData.Unlock()

	mode.Set(mode.Installed)
	return nil
}

// fetch one manifest entry and write it through to the bucket
func precache(upstream gateway.Fetcher, static *bucket.Bucket, entry string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installFetchTimeout)
	defer cancel()

	response, err := upstream.Fetch(ctx, "GET", entry, nil)
	if nil != err {
		return err
	}
	return static.Put(bucket.Key("GET", entry), response)
}

// attach the version's bucket pair to the gateway and sweep every
// bucket the prefix owns that is not part of this version
func activate(version string) error {
	log := globalData.log

	globalData.RLock()
	prefix := globalData.prefix
	static := globalData.static
	globalData.RUnlock()

	if nil == static {
		return fault.InstallIncomplete
	}

	mode.Set(mode.Activating)

	staticName := bucket.StaticName(prefix, version)
	dynamicName := bucket.DynamicName(prefix, version)

	dynamic, err := bucket.Open(dynamicName)
	if nil != err {
		return err
	}

	if err := gateway.SetBuckets(static, dynamic); nil != err {
		return err
	}

	globalData.Lock()
	globalData.version = version
	globalData.Unlock()

	// superseded buckets go only after the new pair is live; a
	// failed activation must leave the previous deployment intact
	deleted, err := bucket.SweepExcept(prefix, staticName, dynamicName)
	if nil != err {
		log.Errorf("activation sweep failed: %s", err)
	} else if len(deleted) > 0 {
		log.Infof("activation sweep removed: %s", strings.Join(deleted, ", "))
	}

	// claim the pages: they switch to this version immediately
	messagebus.Send("lifecycle", messagebus.SignalActivated)

	mode.Set(mode.Active)
	log.Infof("active: %s", version)
	return nil
}

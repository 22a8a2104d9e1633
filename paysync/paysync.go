// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package paysync - replay queued payments when connectivity allows
//
// payments created while offline sit in the persistent queue; a
// background drain hands them to the processor one by one in
// insertion order, removing only the records the processor accepted
package paysync

import (
	"context"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/background"
	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/gateway"
	"github.com/upi2qr/upi2qrd/messagebus"
	"github.com/upi2qr/upi2qrd/queue"
	"github.com/upi2qr/upi2qrd/storage"
)

// SyncTag - the only registration tag the coordinator accepts
const SyncTag = "sync-payments"

const (
	defaultSyncInterval   = 5 * time.Minute
	defaultProbeInterval  = 30 * time.Second
	defaultBackoffBase    = 30 * time.Second
	defaultBackoffMaximum = time.Hour

	processTimeout = 30 * time.Second
	probeTimeout   = 5 * time.Second

	// shifting past this would overflow anyway
	maximumBackoffShift = 20
)

// survives a crash between registration and drain
var syncPendingKey = []byte("payments:sync-pending")

// Processor - hands one queued payment to the upstream service
type Processor interface {
	Process(ctx context.Context, payment queue.PendingPayment) error
}

// Configuration - coordinator setup
type Configuration struct {
	Processor      Processor
	Upstream       gateway.Fetcher // connectivity probe target, nil disables probing
	SyncInterval   time.Duration
	ProbeInterval  time.Duration
	BackoffBase    time.Duration
	BackoffMaximum time.Duration
}

type attemptRecord struct {
	count   int
	lastTry time.Time
}

// globals for background process
type globalDataType struct {
	sync.RWMutex

	log       *logger.L
	processor Processor
	upstream  gateway.Fetcher

	syncInterval   time.Duration
	probeInterval  time.Duration
	backoffBase    time.Duration
	backoffMaximum time.Duration

	nudge chan struct{}

	// failed delivery bookkeeping, reset on success and on restart
	attempts map[uint64]attemptRecord

	// only one drain at a time
	draining sync.Mutex

	background *background.T

	// set once during initialise
	initialised bool
}

var globalData globalDataType

// Initialise - start the sync coordinator background processes
func Initialise(configuration *Configuration) error {
	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	if nil == configuration || nil == configuration.Processor {
		return fault.MissingParameters
	}

	globalData.log = logger.New("paysync")
	globalData.log.Info("starting…")

	globalData.processor = configuration.Processor
	globalData.upstream = configuration.Upstream
	globalData.syncInterval = defaulted(configuration.SyncInterval, defaultSyncInterval)
	globalData.probeInterval = defaulted(configuration.ProbeInterval, defaultProbeInterval)
	globalData.backoffBase = defaulted(configuration.BackoffBase, defaultBackoffBase)
	globalData.backoffMaximum = defaulted(configuration.BackoffMaximum, defaultBackoffMaximum)

	globalData.nudge = make(chan struct{}, 1)
	globalData.attempts = make(map[uint64]attemptRecord)

	// a registration that never drained survives a restart
	if storage.Pool.Control.Has(syncPendingKey) {
		globalData.log.Info("pending sync survived restart")
		globalData.nudge <- struct{}{}
	}

	processes := background.Processes{&drainer{}}
	if nil != globalData.upstream {
		processes = append(processes, &prober{})
	}
	globalData.background = background.Start(processes, nil)

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
	globalData.processor = nil
	globalData.upstream = nil
	globalData.background = nil
	globalData.attempts = nil
	globalData.initialised = false
	globalData.Unlock()

	globalData.log.Info("finished")
	globalData.log.Flush()

	return nil
}

func defaulted(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// QueuePayment - persist a payment and register it for replay
//
// the record is durable before registration so a crash in between
// loses the nudge but never the payment
func QueuePayment(payment queue.PendingPayment) (uint64, error) {
	globalData.RLock()
	initialised := globalData.initialised
	globalData.RUnlock()
	if !initialised {
		return 0, fault.NotInitialised
	}

	id, err := queue.Add(payment)
	if nil != err {
		return 0, err
	}
	if err := Register(SyncTag); nil != err {
		globalData.log.Errorf("register after add failed: %s", err)
	}
	return id, nil
}

// Register - request a drain of the payment queue
//
// sets the durable pending flag first, then nudges the drain; a
// nudge while a drain is already requested is absorbed
func Register(tag string) error {
	if SyncTag != tag {
		return fault.SyncRegistrationInvalid
	}

	globalData.RLock()
	defer globalData.RUnlock()
	if !globalData.initialised {
		return fault.NotInitialised
	}

	storage.Pool.Control.Put(syncPendingKey, []byte{1})

	select {
	case globalData.nudge <- struct{}{}:
	default:
	}
	return nil
}

// drainer - background drain of the payment queue
type drainer struct{}

func (d *drainer) Run(args interface{}, shutdown <-chan struct{}) {
	log := globalData.log
	log.Info("drain: starting…")

	ticker := time.NewTicker(globalData.syncInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-globalData.nudge:
			drain(log)
		case <-ticker.C:
			drain(log)
		}
	}

	log.Info("drain: shutting down…")
	log.Flush()
}

// one pass over the queue in insertion order
//
// a failing record is skipped and retried on a later pass; it never
// blocks the records behind it and it is never dropped
func drain(log *logger.L) {
	globalData.draining.Lock()
	defer globalData.draining.Unlock()

	globalData.RLock()
	processor := globalData.processor
	globalData.RUnlock()
	if nil == processor {
		return
	}

	records, err := queue.All()
	if nil != err {
		log.Errorf("drain: queue read error: %s", err)
		return
	}

	for _, payment := range records {
		if !ripe(payment.ID) {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		err := processor.Process(ctx, payment)
		cancel()

		if nil != err {
			log.Warnf("drain: payment: %d failed: %s", payment.ID, err)
			recordFailure(payment.ID)
			continue
		}

		if err := queue.Remove(payment.ID); nil != err {
			log.Errorf("drain: remove: %d error: %s", payment.ID, err)
			continue
		}
		clearFailure(payment.ID)
		log.Infof("drain: payment: %d delivered", payment.ID)
	}

	if 0 == queue.Len() {
		storage.Pool.Control.Delete(syncPendingKey)
	}
}

// a record is ripe when its backoff window has elapsed
func ripe(id uint64) bool {
	globalData.RLock()
	defer globalData.RUnlock()

	attempt, ok := globalData.attempts[id]
	if !ok {
		return true
	}

	shift := attempt.count
	if shift > maximumBackoffShift {
		shift = maximumBackoffShift
	}
	delay := globalData.backoffBase << uint(shift)
	if delay > globalData.backoffMaximum || delay <= 0 {
		delay = globalData.backoffMaximum
	}
	return time.Since(attempt.lastTry) >= delay
}

func recordFailure(id uint64) {
	globalData.Lock()
	attempt := globalData.attempts[id]
	attempt.count++
	attempt.lastTry = time.Now()
	globalData.attempts[id] = attempt
	globalData.Unlock()
}

func clearFailure(id uint64) {
	globalData.Lock()
	delete(globalData.attempts, id)
	globalData.Unlock()
}

// prober - detects connectivity restoration
//
// while the upstream is unreachable the queue only grows; the first
// successful probe after a failure announces the restoration and
// triggers a drain
type prober struct{}

func (p *prober) Run(args interface{}, shutdown <-chan struct{}) {
	log := globalData.log
	log.Info("probe: starting…")

	ticker := time.NewTicker(globalData.probeInterval)
	defer ticker.Stop()

	online := true

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-ticker.C:
			reachable := probe()
			if reachable && !online {
				log.Info("probe: connectivity restored")
				messagebus.Send("paysync", messagebus.SignalOnline)
				select {
				case globalData.nudge <- struct{}{}:
				default:
				}
			}
			online = reachable
		}
	}

	log.Info("probe: shutting down…")
	log.Flush()
}

func probe() bool {
	globalData.RLock()
	upstream := globalData.upstream
	globalData.RUnlock()
	if nil == upstream {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	response, err := upstream.Fetch(ctx, "HEAD", "/", nil)
	return nil == err && nil != response && response.Status < 500
}

// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package queue - durable store of payments awaiting connectivity
//
// records are keyed by an auto-assigned big endian id so iteration
// order is insertion order; records are never mutated in place, only
// inserted and deleted
package queue

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"
	"github.com/fxamacker/cbor/v2"

	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/storage"
)

// PendingPayment - a payment initiated while offline
//
// Amount is free text and may be empty; IntendedApp and IntendedURL
// carry the user's chosen UPI application and the prepared deep link
// verbatim for replay
type PendingPayment struct {
	ID          uint64 `cbor:"1,keyasint" json:"id"`
	Name        string `cbor:"2,keyasint" json:"name"`
	UpiID       string `cbor:"3,keyasint" json:"upiId"`
	Amount      string `cbor:"4,keyasint,omitempty" json:"amount,omitempty"`
	Timestamp   int64  `cbor:"5,keyasint" json:"timestamp"` // epoch milliseconds
	IntendedApp string `cbor:"6,keyasint,omitempty" json:"intendedApp,omitempty"`
	IntendedURL string `cbor:"7,keyasint,omitempty" json:"intendedUrl,omitempty"`
}

// Control pool key for the id counter
var nextIDKey = []byte("payments:next-id")

var globalData struct {
	sync.Mutex

	log *logger.L

	// set once during initialise
	initialised bool
}

// Initialise - set up the pending payment store
func Initialise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("queue")
	globalData.log.Info("starting…")

	globalData.initialised = true

	return nil
}

// Finalise - shut down the pending payment store
func Finalise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.initialised = false

	return nil
}

// Add - insert a payment record and assign its id
//
// a zero Timestamp is stamped with the current time; the stored
// record is returned unmodified on later reads
func Add(payment PendingPayment) (uint64, error) {
	if "" == payment.Name || "" == payment.UpiID {
		return 0, fault.InvalidPaymentRecord
	}

	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return 0, fault.NotInitialised
	}

	if 0 == payment.Timestamp {
		payment.Timestamp = time.Now().UnixMilli()
	}

	// counter increment and record insert are two single-key writes;
	// the mutex makes id assignment unique, a crash between the two
	// only burns an id
	id, _ := storage.Pool.Control.GetN(nextIDKey)
	id += 1
	storage.Pool.Control.PutN(nextIDKey, id)

	payment.ID = id

	data, err := cbor.Marshal(payment)
	if nil != err {
		return 0, err
	}

	storage.Pool.Payments.Put(idKey(id), data)

	globalData.log.Infof("queued payment: %d  payee: %q", id, payment.Name)

	return id, nil
}

// All - every pending record in insertion order
func All() ([]PendingPayment, error) {
	globalData.Lock()
	initialised := globalData.initialised
	globalData.Unlock()
	if !initialised {
		return nil, fault.NotInitialised
	}

	payments := []PendingPayment{}
	var scanError error

	storage.Pool.Payments.Range(nil, func(key []byte, value []byte) bool {
		payment := PendingPayment{}
		if err := cbor.Unmarshal(value, &payment); nil != err {
			scanError = fault.StorageCorruption
			return false
		}
		payments = append(payments, payment)
		return true
	})

	return payments, scanError
}

// Get - read a single record
func Get(id uint64) (PendingPayment, error) {
	payment := PendingPayment{}

	data := storage.Pool.Payments.Get(idKey(id))
	if nil == data {
		return payment, fault.RecordNotFound
	}
	if err := cbor.Unmarshal(data, &payment); nil != err {
		return payment, fault.StorageCorruption
	}
	return payment, nil
}

// Remove - delete a processed record
func Remove(id uint64) error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}
	if !storage.Pool.Payments.Has(idKey(id)) {
		return fault.RecordNotFound
	}

	storage.Pool.Payments.Delete(idKey(id))
	globalData.log.Infof("removed payment: %d", id)
	return nil
}

// Len - number of pending records
func Len() int {
	count := 0
	storage.Pool.Payments.Range(nil, func(key []byte, value []byte) bool {
		count += 1
		return true
	})
	return count
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

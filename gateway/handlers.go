// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/upi2qr/upi2qrd/messagebus"
	"github.com/upi2qr/upi2qrd/queue"
)

// host-page API: the counterparts of the worker messaging and the
// IndexedDB helpers the pages used in the original application

type paymentRequest struct {
	Name        string `json:"name"`
	UpiID       string `json:"upiId"`
	Amount      string `json:"amount"`
	IntendedApp string `json:"intendedApp"`
	IntendedURL string `json:"intendedUrl"`
}

type paymentReply struct {
	ID uint64 `json:"id"`
}

type messageRequest struct {
	Signal string `json:"signal"`
}

// StatusHandler - report worker mode, buckets and queue depth
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	if http.MethodGet != r.Method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	globalData.RLock()
	status := globalData.status
	globalData.RUnlock()

	report := map[string]interface{}{}
	if nil != status {
		report = status()
	}
	sendJSON(w, http.StatusOK, report)
}

// PaymentsHandler - queue an offline payment or list the pending ones
func PaymentsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {

	case http.MethodPost:
		request := paymentRequest{}
		if err := json.NewDecoder(r.Body).Decode(&request); nil != err {
			http.Error(w, "invalid payment", http.StatusBadRequest)
			return
		}

		globalData.RLock()
		queuePayment := globalData.queuePayment
		globalData.RUnlock()
		if nil == queuePayment {
			http.Error(w, "payments unavailable", http.StatusServiceUnavailable)
			return
		}

		id, err := queuePayment(queue.PendingPayment{
			Name:        request.Name,
			UpiID:       request.UpiID,
			Amount:      request.Amount,
			IntendedApp: request.IntendedApp,
			IntendedURL: request.IntendedURL,
		})
		if nil != err {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendJSON(w, http.StatusCreated, paymentReply{ID: id})

	case http.MethodGet:
		payments, err := queue.All()
		if nil != err {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		sendJSON(w, http.StatusOK, payments)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// MessageHandler - host page → worker signals
func MessageHandler(w http.ResponseWriter, r *http.Request) {
	if http.MethodPost != r.Method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	request := messageRequest{}
	if err := json.NewDecoder(r.Body).Decode(&request); nil != err {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}

	var signal messagebus.Signal
	switch request.Signal {
	case "skip-waiting":
		signal = messagebus.SignalSkipWaiting
	case "sync":
		signal = messagebus.SignalSyncRequested
	default:
		http.Error(w, "unknown signal", http.StatusBadRequest)
		return
	}

	messagebus.Send("page", signal)
	w.WriteHeader(http.StatusAccepted)
}

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

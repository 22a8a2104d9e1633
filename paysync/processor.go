// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package paysync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/queue"
)

const submitTimeout = 30 * time.Second

// HTTPProcessor - delivers queued payments to the origin's payment
// endpoint as JSON
type HTTPProcessor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProcessor - processor posting to origin + submitPath
func NewHTTPProcessor(origin string, submitPath string) (*HTTPProcessor, error) {
	u, err := url.Parse(origin)
	if nil != err {
		return nil, fault.InvalidUpstreamOrigin
	}
	if ("http" != u.Scheme && "https" != u.Scheme) || "" == u.Host {
		return nil, fault.InvalidUpstreamOrigin
	}
	if "" == submitPath || '/' != submitPath[0] {
		return nil, fault.MissingParameters
	}

	return &HTTPProcessor{
		endpoint: u.Scheme + "://" + u.Host + submitPath,
		client: &http.Client{
			Timeout: submitTimeout,
		},
	}, nil
}

// wire form of one replayed payment
type submittedPayment struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	UpiID       string `json:"upiId"`
	Amount      string `json:"amount,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	IntendedApp string `json:"intendedApp,omitempty"`
	IntendedURL string `json:"intendedUrl,omitempty"`
}

// Process - submit one payment; any non-2xx answer counts as a
// failed delivery and the record stays queued
func (p *HTTPProcessor) Process(ctx context.Context, payment queue.PendingPayment) error {
	body, err := json.Marshal(submittedPayment{
		ID:          payment.ID,
		Name:        payment.Name,
		UpiID:       payment.UpiID,
		Amount:      payment.Amount,
		Timestamp:   payment.Timestamp,
		IntendedApp: payment.IntendedApp,
		IntendedURL: payment.IntendedURL,
	})
	if nil != err {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if nil != err {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.client.Do(request)
	if nil != err {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("payment submit status: %d", response.StatusCode)
	}
	return nil
}

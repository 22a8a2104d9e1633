// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucket

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/upi2qr/upi2qrd/fault"
)

// compress stored bodies only above this size; small bodies gain
// nothing and icons/QR bitmaps are usually pre-compressed anyway
const compressionThreshold = 512

// CachedResponse - snapshot of a successful network response
type CachedResponse struct {
	Status   int               `cbor:"1,keyasint"`
	Header   map[string]string `cbor:"2,keyasint"`
	Body     []byte            `cbor:"3,keyasint"`
	StoredAt int64             `cbor:"4,keyasint"` // epoch milliseconds
}

// on-disk form; Body is zstd compressed when Compressed is set
type storedEntry struct {
	Status     int               `cbor:"1,keyasint"`
	Header     map[string]string `cbor:"2,keyasint"`
	Body       []byte            `cbor:"3,keyasint"`
	StoredAt   int64             `cbor:"4,keyasint"`
	Compressed bool              `cbor:"5,keyasint"`
}

var encMode cbor.EncMode
var decMode cbor.DecMode

var zstdEncoder *zstd.Encoder
var zstdDecoder *zstd.Decoder

func init() {
	var err error

	// deterministic encoding: identical snapshots produce identical bytes
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if nil != err {
		panic("bucket: CBOR encoder initialisation failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if nil != err {
		panic("bucket: CBOR decoder initialisation failed: " + err.Error())
	}

	// EncodeAll/DecodeAll are safe for concurrent use
	zstdEncoder, err = zstd.NewWriter(nil)
	if nil != err {
		panic("bucket: zstd encoder initialisation failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if nil != err {
		panic("bucket: zstd decoder initialisation failed: " + err.Error())
	}
}

// ContentType - convenience header accessor
func (r *CachedResponse) ContentType() string {
	return r.Header["Content-Type"]
}

// pack a response snapshot for storage
func encodeEntry(response *CachedResponse) ([]byte, error) {

	entry := storedEntry{
		Status:   response.Status,
		Header:   response.Header,
		Body:     response.Body,
		StoredAt: response.StoredAt,
	}

	if len(response.Body) >= compressionThreshold {
		compressed := zstdEncoder.EncodeAll(response.Body, nil)
		if len(compressed) < len(response.Body) {
			entry.Body = compressed
			entry.Compressed = true
		}
	}

	return encMode.Marshal(entry)
}

// unpack a stored entry back to a response snapshot
func decodeEntry(data []byte) (*CachedResponse, error) {

	entry := storedEntry{}
	if err := decMode.Unmarshal(data, &entry); nil != err {
		return nil, fault.StorageCorruption
	}

	body := entry.Body
	if entry.Compressed {
		decompressed, err := zstdDecoder.DecodeAll(entry.Body, nil)
		if nil != err {
			return nil, fault.StorageCorruption
		}
		body = decompressed
	}

	return &CachedResponse{
		Status:   entry.Status,
		Header:   entry.Header,
		Body:     body,
		StoredAt: entry.StoredAt,
	}, nil
}

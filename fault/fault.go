// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

// error base
type GenericError string

// to allow for different classes of errors
type ExistsError GenericError
type InvalidError GenericError
type NotFoundError GenericError
type ProcessError GenericError

// common errors - keep in alphabetic order
var (
	AlreadyInitialised      = ExistsError("already initialised")
	BucketAlreadyExists     = ExistsError("bucket already exists")
	CertificateFileExists   = ExistsError("certificate file already exists")
	KeyFileExists           = ExistsError("key file already exists")
	BucketNotFound          = NotFoundError("bucket not found")
	EntryNotFound           = NotFoundError("entry not found")
	RecordNotFound          = NotFoundError("record not found")
	InvalidBucketName       = InvalidError("invalid bucket name")
	InvalidBucketPrefix     = InvalidError("invalid bucket prefix")
	InvalidDataDirectory    = InvalidError("invalid data directory")
	InvalidListenAddress    = InvalidError("invalid listen address")
	InvalidManifest         = InvalidError("invalid manifest")
	InvalidPaymentRecord    = InvalidError("invalid payment record")
	InvalidSyncTag          = InvalidError("invalid sync tag")
	InvalidUpstreamOrigin   = InvalidError("invalid upstream origin")
	InvalidVersionToken     = InvalidError("invalid version token")
	MissingParameters       = InvalidError("missing parameters")
	NotCacheable            = InvalidError("response is not cacheable")
	NotInitialised          = ProcessError("not initialised")
	DatabaseDowngrade       = ProcessError("database downgrade not allowed")
	InstallIncomplete       = ProcessError("install incomplete")
	NetworkUnavailable      = ProcessError("network unavailable")
	RateLimiting            = ProcessError("rate limiting in effect")
	StorageCorruption       = ProcessError("storage record is corrupt")
	SyncRegistrationInvalid = ProcessError("sync registration is invalid")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ExistsError) Error() string   { return string(e) }
func (e InvalidError) Error() string  { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ProcessError) Error() string  { return string(e) }

// determine the class of an error
func IsErrExists(e error) bool   { _, ok := e.(ExistsError); return ok }
func IsErrInvalid(e error) bool  { _, ok := e.(InvalidError); return ok }
func IsErrNotFound(e error) bool { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool  { _, ok := e.(ProcessError); return ok }

// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/fault"
)

// exported storage pools
//
// note all must be exported (i.e. initial capital) or initialisation will panic
type pools struct {
	Entries  *PoolHandle `prefix:"E" database:"cache"`
	Buckets  *PoolHandle `prefix:"B" database:"cache"`
	Payments *PoolHandle `prefix:"P" database:"queue"`
	Control  *PoolHandle `prefix:"C" database:"queue"`
}

// Pool - the set of exported pools
var Pool pools

// for database version
var versionKey = []byte{0x00, 'V', 'E', 'R', 'S', 'I', 'O', 'N'}

const (
	currentCacheDBVersion = 0x100
	currentQueueDBVersion = 0x100
)

// holds the database handles
var poolData struct {
	sync.RWMutex
	dbCache *leveldb.DB
	dbQueue *leveldb.DB
}

// Initialise - open up the database connections
//
// this must be called before any pool is accessed
func Initialise(directory string) error {
	poolData.Lock()
	defer poolData.Unlock()

	if nil != poolData.dbCache {
		return fault.AlreadyInitialised
	}

	ok := false
	defer func() {
		if !ok {
			dbClose()
		}
	}()

	cacheDatabase := filepath.Join(directory, "cache.leveldb")
	queueDatabase := filepath.Join(directory, "queue.leveldb")

	db, cacheVersion, err := getDB(cacheDatabase)
	if nil != err {
		return err
	}
	poolData.dbCache = db

	// ensure no database downgrade
	if cacheVersion > currentCacheDBVersion {
		logger.Criticalf("cache database version: %d > current version: %d", cacheVersion, currentCacheDBVersion)
		return fault.DatabaseDowngrade
	}

	db, queueVersion, err := getDB(queueDatabase)
	if nil != err {
		return err
	}
	poolData.dbQueue = db

	// ensure no database downgrade
	if queueVersion > currentQueueDBVersion {
		logger.Criticalf("queue database version: %d > current version: %d", queueVersion, currentQueueDBVersion)
		return fault.DatabaseDowngrade
	}

	// tag fresh databases with the current version
	if 0 == cacheVersion {
		if err := putVersion(poolData.dbCache, currentCacheDBVersion); nil != err {
			return err
		}
	}
	if 0 == queueVersion {
		if err := putVersion(poolData.dbQueue, currentQueueDBVersion); nil != err {
			return err
		}
	}

	// this will be a struct type
	poolType := reflect.TypeOf(Pool)

	// get write access by using pointer + Elem()
	poolValue := reflect.ValueOf(&Pool).Elem()

	// scan each field
	for i := 0; i < poolType.NumField(); i += 1 {

		fieldInfo := poolType.Field(i)

		prefixTag := fieldInfo.Tag.Get("prefix")
		if 1 != len(prefixTag) {
			return fmt.Errorf("pool: %v has invalid prefix: %q", fieldInfo, prefixTag)
		}

		prefix := prefixTag[0]
		limit := []byte(nil)
		if prefix < 255 {
			limit = []byte{prefix + 1}
		}

		var database *leveldb.DB
		switch dbName := fieldInfo.Tag.Get("database"); dbName {
		case "cache":
			database = poolData.dbCache
		case "queue":
			database = poolData.dbQueue
		default:
			return fmt.Errorf("pool: %v has invalid database: %q", fieldInfo, dbName)
		}

		p := &PoolHandle{
			prefix:   prefix,
			limit:    limit,
			database: database,
		}

		newPool := reflect.ValueOf(p)
		poolValue.Field(i).Set(newPool)
	}

	ok = true // prevent db close
	return nil
}

func dbClose() {
	if nil != poolData.dbQueue {
		poolData.dbQueue.Close()
		poolData.dbQueue = nil
	}
	if nil != poolData.dbCache {
		poolData.dbCache.Close()
		poolData.dbCache = nil
	}
}

// Finalise - close the database connections
func Finalise() {
	poolData.Lock()
	dbClose()

	// invalidate the pool handles so a use after Finalise panics
	// via the nil database check rather than crashing leveldb
	poolValue := reflect.ValueOf(&Pool).Elem()
	for i := 0; i < poolValue.NumField(); i += 1 {
		poolValue.Field(i).Set(reflect.Zero(poolValue.Field(i).Type()))
	}
	poolData.Unlock()
}

// return:
//
//	database handle
//	version number
func getDB(name string) (*leveldb.DB, int, error) {
	opt := &ldb_opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: false,
	}

	db, err := leveldb.OpenFile(name, opt)
	if nil != err {
		return nil, 0, err
	}

	versionValue, err := db.Get(versionKey, nil)
	if leveldb.ErrNotFound == err {
		return db, 0, nil
	} else if nil != err {
		db.Close()
		return nil, 0, err
	}

	if 4 != len(versionValue) {
		db.Close()
		return nil, 0, fmt.Errorf("incompatible database version length: expected: %d  actual: %d", 4, len(versionValue))
	}

	version := int(binary.BigEndian.Uint32(versionValue))
	return db, version, nil
}

func putVersion(db *leveldb.DB, version int) error {
	currentVersion := make([]byte, 4)
	binary.BigEndian.PutUint32(currentVersion, uint32(version))

	return db.Put(versionKey, currentVersion, nil)
}

// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/canonical/sqlscript/internal/script"
)

// scriptIDCount and dbIDCount are used to generate unique IDs.
var scriptIDCount int64
var dbIDCount int64

type dbID = int64
type scriptID = int64

// statementCache caches the sql.Stmt objects prepared for each Script. The
// SQL text of a script depends on its conditional blocks, so a Script can
// correspond to several sql.Stmt values on each database. The cache is
// indexed by the Script ID, the DB ID and the SQL text.
//
// The cache closes sql.Stmt objects with a finalizer on the Script.
// Similarly a finalizer is set on DB objects to close all statements
// prepared on the DB, close the DB, and remove references to the DB from the
// cache.
//
// The mutex must be locked when accessing either the scriptDBCache or the
// dbScriptCache.
type statementCache struct {
	scriptDBCache map[scriptID]map[dbID]map[string]*sql.Stmt
	dbScriptCache map[dbID]map[scriptID]bool
	mutex         sync.RWMutex
}

// stmtCache stores the driver prepared statements of all scripts.
var stmtCache = &statementCache{
	scriptDBCache: map[scriptID]map[dbID]map[string]*sql.Stmt{},
	dbScriptCache: map[dbID]map[scriptID]bool{},
}

// newScript returns a new Script and allocates it in the cache. The
// finalizer set on the Script closes every sql.Stmt prepared for it.
func (sc *statementCache) newScript(cs *script.Script) *Script {
	cacheID := atomic.AddInt64(&scriptIDCount, 1)
	s := &Script{s: cs, cacheID: cacheID}
	sc.mutex.Lock()
	sc.scriptDBCache[cacheID] = map[dbID]map[string]*sql.Stmt{}
	sc.mutex.Unlock()
	runtime.SetFinalizer(s, sc.scriptFinalizer)
	return s
}

// newDB returns a new DB and allocates it in the cache. The finalizer set on
// the DB removes it from the cache, closes all sql.Stmt values prepared upon
// it and then closes the sql.DB.
func (sc *statementCache) newDB(sqldb *sql.DB, cfg config) *DB {
	cacheID := atomic.AddInt64(&dbIDCount, 1)
	sc.mutex.Lock()
	sc.dbScriptCache[cacheID] = map[scriptID]bool{}
	sc.mutex.Unlock()
	db := &DB{sqldb: sqldb, cacheID: cacheID, cfg: cfg}
	runtime.SetFinalizer(db, sc.dbFinalizer)
	return db
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a
// sql.DB or sql.Conn.
type prepareSubstrate interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// lookupStmt returns the statement prepared for the SQL text of s on db.
func (sc *statementCache) lookupStmt(db *DB, s *Script, query string) (*sql.Stmt, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	stmt, ok := sc.scriptDBCache[s.cacheID][db.cacheID][query]
	return stmt, ok
}

// prepareStmt returns the statement prepared for the SQL text of s on db,
// preparing it on ps if it is not in the cache yet. ps must be associated
// with db.
func (sc *statementCache) prepareStmt(ctx context.Context, db *DB, ps prepareSubstrate, s *Script, query string) (*sql.Stmt, error) {
	if stmt, ok := sc.lookupStmt(db, s, query); ok {
		return stmt, nil
	}
	stmt, err := ps.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	// Check if a statement has been inserted by someone else since we last
	// checked.
	byQuery, ok := sc.scriptDBCache[s.cacheID][db.cacheID]
	if !ok {
		byQuery = map[string]*sql.Stmt{}
		sc.scriptDBCache[s.cacheID][db.cacheID] = byQuery
	}
	if alt, ok := byQuery[query]; ok {
		stmt.Close()
		return alt, nil
	}
	byQuery[query] = stmt
	sc.dbScriptCache[db.cacheID][s.cacheID] = true
	return stmt, nil
}

// scriptFinalizer removes a Script from the cache and closes its statements.
func (sc *statementCache) scriptFinalizer(s *Script) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for dbCacheID, byQuery := range sc.scriptDBCache[s.cacheID] {
		for _, stmt := range byQuery {
			stmt.Close()
		}
		delete(sc.dbScriptCache[dbCacheID], s.cacheID)
	}
	delete(sc.scriptDBCache, s.cacheID)
}

// dbFinalizer closes and removes from the cache all sql.Stmt values prepared
// on the database, removes the database from the cache, then closes the
// sql.DB.
func (sc *statementCache) dbFinalizer(db *DB) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for scriptCacheID := range sc.dbScriptCache[db.cacheID] {
		dbCache := sc.scriptDBCache[scriptCacheID]
		for _, stmt := range dbCache[db.cacheID] {
			stmt.Close()
		}
		delete(dbCache, db.cacheID)
	}
	delete(sc.dbScriptCache, db.cacheID)
	db.sqldb.Close()
}

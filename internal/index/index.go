// Package index maintains an optional sqlite side-index of runtime history:
// one row per finished connection and one per region import run. It is a
// secondary record for operators; the server runs identically without it,
// and when its queue falls behind, writes are dropped rather than ever
// stalling a connection goroutine.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Session is one connection's summary, recorded at close.
type Session struct {
	Remote         string
	Name           string
	UUID           string
	Protocol       int32
	PhaseReached   string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	CloseClass     string
}

// ImportRun is one region-file import, recorded when it finishes.
type ImportRun struct {
	Dim        string
	Path       string
	Imported   int
	Warnings   int
	StartedAt  time.Time
	FinishedAt time.Time
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqImportRun
)

type req struct {
	kind    reqKind
	session Session
	run     ImportRun
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropSessionTotal uint64
	DropImportTotal  uint64
}

// Index is safe for concurrent use; all writes funnel through one goroutine.
type Index struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSession atomic.Uint64
	dropImport  atomic.Uint64
}

func Open(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty index path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	ix := &Index{
		db: db,
		// Sized for connection churn bursts; overflow drops, never blocks.
		ch: make(chan req, 4096),
	}
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ix.loop()
	}()
	return ix, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only workload; NORMAL durability is enough for a
	// secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote TEXT NOT NULL,
			name TEXT,
			uuid TEXT,
			protocol INTEGER NOT NULL,
			phase_reached TEXT NOT NULL,
			connected_at TEXT NOT NULL,
			disconnected_at TEXT NOT NULL,
			close_class TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_connected ON sessions(connected_at);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_close_class ON sessions(close_class);`,
		`CREATE TABLE IF NOT EXISTS import_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dim TEXT NOT NULL,
			path TEXT NOT NULL,
			imported INTEGER NOT NULL,
			warnings INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits, and closes the database.
func (ix *Index) Close() error {
	var err error
	ix.once.Do(func() {
		ix.closed.Store(true)
		close(ix.ch)
		ix.wg.Wait()
		err = ix.db.Close()
	})
	return err
}

// RecordSession enqueues one session row. Nil receiver and closed index are
// no-ops so call sites need no guards.
func (ix *Index) RecordSession(s Session) {
	if ix == nil || ix.closed.Load() {
		return
	}
	select {
	case ix.ch <- req{kind: reqSession, session: s}:
	default:
		ix.dropSession.Add(1)
	}
}

// RecordImportRun enqueues one import-run row.
func (ix *Index) RecordImportRun(r ImportRun) {
	if ix == nil || ix.closed.Load() {
		return
	}
	select {
	case ix.ch <- req{kind: reqImportRun, run: r}:
	default:
		ix.dropImport.Add(1)
	}
}

func (ix *Index) Stats() Stats {
	if ix == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(ix.ch),
		QueueCapacity:    cap(ix.ch),
		DropSessionTotal: ix.dropSession.Load(),
		DropImportTotal:  ix.dropImport.Load(),
	}
}

func (ix *Index) loop() {
	insertSession, _ := ix.db.Prepare(`INSERT INTO sessions(remote,name,uuid,protocol,phase_reached,connected_at,disconnected_at,close_class) VALUES(?,?,?,?,?,?,?,?)`)
	insertRun, _ := ix.db.Prepare(`INSERT INTO import_runs(dim,path,imported,warnings,started_at,finished_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertSession != nil {
			_ = insertSession.Close()
		}
		if insertRun != nil {
			_ = insertRun.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 64
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := ix.db.Begin()
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
	}

	ts := func(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

	for r := range ix.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSession:
			s := r.session
			if insertSession != nil {
				if _, err := tx.Stmt(insertSession).Exec(
					s.Remote, s.Name, s.UUID, s.Protocol, s.PhaseReached,
					ts(s.ConnectedAt), ts(s.DisconnectedAt), s.CloseClass,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqImportRun:
			run := r.run
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(
					run.Dim, run.Path, run.Imported, run.Warnings,
					ts(run.StartedAt), ts(run.FinishedAt),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}

package cml

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"anima/internal/logging"
)

// Archive persists the causal graph beyond the process lifetime in SQLite.
// The in-memory arena stays authoritative; the archive is written from
// periodic exports and read back at boot or for offline analysis.
type Archive struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewArchive opens (or creates) the archive database at path.
func NewArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryDebug("archive: busy_timeout pragma failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryDebug("archive: journal_mode pragma failed: %v", err)
	}

	a := &Archive{db: db, dbPath: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initialize() error {
	nodesTable := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		timestamp REAL NOT NULL,
		content TEXT,
		source TEXT,
		confidence REAL,
		metadata TEXT,
		causes TEXT,
		effects TEXT,
		regret_level REAL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
	CREATE INDEX IF NOT EXISTS idx_nodes_timestamp ON nodes(timestamp);
	`

	edgesTable := `
	CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		from_node TEXT NOT NULL,
		to_node TEXT NOT NULL,
		confidence REAL,
		latency_ms REAL,
		context TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_node);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_node);
	`

	for _, table := range []string{nodesTable, edgesTable} {
		if _, err := a.db.Exec(table); err != nil {
			return fmt.Errorf("create archive table: %w", err)
		}
	}
	return nil
}

// Store upserts an export into the archive inside one transaction.
func (a *Archive) Store(ex Export) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	nodeStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO nodes
		(id, type, timestamp, content, source, confidence, metadata, causes, effects, regret_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer nodeStmt.Close()

	for _, n := range ex.Nodes {
		metaJSON, _ := json.Marshal(n.Metadata)
		causesJSON, _ := json.Marshal(n.Causes)
		effectsJSON, _ := json.Marshal(n.Effects)
		var regret any
		if n.RegretLevel != nil {
			regret = *n.RegretLevel
		}
		if _, err := nodeStmt.Exec(
			n.ID, n.Type.String(), n.Timestamp, n.Content, n.Source, n.Confidence,
			string(metaJSON), string(causesJSON), string(effectsJSON), regret,
		); err != nil {
			return fmt.Errorf("archive node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO edges
		(id, from_node, to_node, confidence, latency_ms, context)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for _, e := range ex.Edges {
		ctxJSON, _ := json.Marshal(e.Context)
		if _, err := edgeStmt.Exec(
			e.ID, e.From, e.To, e.Confidence, e.LatencyMS, string(ctxJSON),
		); err != nil {
			return fmt.Errorf("archive edge %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive transaction: %w", err)
	}
	logging.MemoryDebug("archived %d node(s), %d edge(s)", len(ex.Nodes), len(ex.Edges))
	return nil
}

// Load reads the whole archive back as an export, nodes ordered by
// timestamp.
func (a *Archive) Load() (Export, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ex := Export{Version: exportVersion}

	rows, err := a.db.Query(`
		SELECT id, type, timestamp, content, source, confidence, metadata, causes, effects, regret_level
		FROM nodes ORDER BY timestamp, id`)
	if err != nil {
		return ex, fmt.Errorf("query archived nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n Node
		var typeName, metaJSON, causesJSON, effectsJSON string
		var regret sql.NullFloat64
		if err := rows.Scan(&n.ID, &typeName, &n.Timestamp, &n.Content, &n.Source,
			&n.Confidence, &metaJSON, &causesJSON, &effectsJSON, &regret); err != nil {
			return ex, fmt.Errorf("scan archived node: %w", err)
		}
		t, err := ParseNodeType(typeName)
		if err != nil {
			return ex, err
		}
		n.Type = t
		json.Unmarshal([]byte(metaJSON), &n.Metadata)
		json.Unmarshal([]byte(causesJSON), &n.Causes)
		json.Unmarshal([]byte(effectsJSON), &n.Effects)
		if regret.Valid {
			r := regret.Float64
			n.RegretLevel = &r
		}
		ex.Nodes = append(ex.Nodes, &n)
	}
	if err := rows.Err(); err != nil {
		return ex, err
	}

	edgeRows, err := a.db.Query(`
		SELECT id, from_node, to_node, confidence, latency_ms, context
		FROM edges ORDER BY id`)
	if err != nil {
		return ex, fmt.Errorf("query archived edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e Edge
		var ctxJSON string
		if err := edgeRows.Scan(&e.ID, &e.From, &e.To, &e.Confidence, &e.LatencyMS, &ctxJSON); err != nil {
			return ex, fmt.Errorf("scan archived edge: %w", err)
		}
		json.Unmarshal([]byte(ctxJSON), &e.Context)
		ex.Edges = append(ex.Edges, &e)
	}
	return ex, edgeRows.Err()
}

// Stats returns row counts per table.
func (a *Archive) Stats() (map[string]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := make(map[string]int64)
	for _, table := range []string{"nodes", "edges"} {
		var count int64
		if err := a.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, err
		}
		stats[table] = count
	}
	return stats, nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}

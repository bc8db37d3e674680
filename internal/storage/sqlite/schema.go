package sqlite

const schema = `
-- Error patterns table
-- Holds both approved patterns and pending proposals; the approved
-- flag decides which set a row belongs to
CREATE TABLE IF NOT EXISTS patterns (
    id TEXT PRIMARY KEY,
    pattern TEXT NOT NULL,
    severity TEXT NOT NULL CHECK(severity IN ('P0', 'P1', 'P2')),
    action TEXT NOT NULL CHECK(action IN ('dispatch', 'dispatch_after_threshold', 'restart_and_dispatch', 'log')),
    description TEXT NOT NULL DEFAULT '',
    occurrence_count INTEGER NOT NULL DEFAULT 0,
    first_seen DATETIME NOT NULL,
    last_seen DATETIME NOT NULL,
    approved INTEGER NOT NULL DEFAULT 0,
    contexts TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_patterns_approved ON patterns(approved);
CREATE INDEX IF NOT EXISTS idx_patterns_last_seen ON patterns(last_seen);

-- Heartbeats table (periodic telemetry snapshots, capped by the store)
CREATE TABLE IF NOT EXISTS heartbeats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    snapshot TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_heartbeats_timestamp ON heartbeats(timestamp);
`

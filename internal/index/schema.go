package index

const schema = `
-- Projected entry rows, rebuildable from the journal
CREATE TABLE IF NOT EXISTS entries (
    seq INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    tier TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    importance REAL NOT NULL DEFAULT 0 CHECK(importance >= 0 AND importance <= 1),
    content TEXT NOT NULL DEFAULT '',
    is_superseded INTEGER NOT NULL DEFAULT 0,
    superseded_by INTEGER,
    block_label TEXT NOT NULL DEFAULT '',
    block_version INTEGER NOT NULL DEFAULT 0,
    is_core INTEGER NOT NULL DEFAULT 0,
    is_redacted INTEGER NOT NULL DEFAULT 0,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed DATETIME,
    decay_tier TEXT NOT NULL DEFAULT 'hot'
);

CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
CREATE INDEX IF NOT EXISTS idx_entries_tier ON entries(tier);
CREATE INDEX IF NOT EXISTS idx_entries_superseded ON entries(is_superseded);
CREATE INDEX IF NOT EXISTS idx_entries_block_label ON entries(block_label);

-- Supersession edges: consolidation entry -> entries it replaces
CREATE TABLE IF NOT EXISTS consolidations (
    consolidation_seq INTEGER NOT NULL,
    superseded_seq INTEGER NOT NULL,
    PRIMARY KEY (consolidation_seq, superseded_seq)
);

CREATE INDEX IF NOT EXISTS idx_consolidations_target ON consolidations(superseded_seq);

-- Memoized latest non-superseded block per label
CREATE TABLE IF NOT EXISTS block_latest (
    label TEXT PRIMARY KEY,
    seq INTEGER NOT NULL
);

-- Anchor receipt projection; the per-provider sidecar files stay the
-- source of truth and repopulate this table on rebuild
CREATE TABLE IF NOT EXISTS anchors (
    seq INTEGER NOT NULL,
    provider TEXT NOT NULL,
    receipt_id TEXT NOT NULL,
    status TEXT NOT NULL,
    submitted_at DATETIME NOT NULL,
    PRIMARY KEY (seq, provider, receipt_id)
);

-- Internal bookkeeping (index head for the forward-roll on open)
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

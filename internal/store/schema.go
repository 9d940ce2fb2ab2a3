package store

// schema defines the base tables for the fact store, link graph, and
// procedure store. It is additive and idempotent: every statement is
// IF NOT EXISTS, safe to run on every open. Structural changes after the
// first release go through the migrations list in migrate.go instead of
// being added here.
const schema = `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	entity TEXT NOT NULL DEFAULT '',
	key TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	source_sessions TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL DEFAULT 0.7,
	confidence REAL NOT NULL DEFAULT 1.0,
	decay_class TEXT NOT NULL DEFAULT 'stable',
	expires_at INTEGER,
	last_confirmed_at INTEGER,
	recall_count INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER,
	reinforced_count INTEGER NOT NULL DEFAULT 0,
	last_reinforced_at INTEGER,
	reinforced_quotes TEXT NOT NULL DEFAULT '[]',
	valid_from INTEGER NOT NULL,
	valid_until INTEGER,
	supersedes_id TEXT,
	superseded_at INTEGER,
	superseded_by TEXT,
	tier TEXT NOT NULL DEFAULT 'warm',
	scope TEXT NOT NULL DEFAULT 'global',
	scope_target TEXT NOT NULL DEFAULT '',
	normalized_hash TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_entity_key ON facts(entity, key);
CREATE INDEX IF NOT EXISTS idx_facts_scope ON facts(scope, scope_target);
CREATE INDEX IF NOT EXISTS idx_facts_tier ON facts(tier);
CREATE INDEX IF NOT EXISTS idx_facts_superseded ON facts(superseded_at);
CREATE INDEX IF NOT EXISTS idx_facts_expires ON facts(expires_at);
CREATE INDEX IF NOT EXISTS idx_facts_hash ON facts(normalized_hash);

CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
	text, category, entity, key, value,
	content='facts',
	content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS facts_ai AFTER INSERT ON facts BEGIN
	INSERT INTO facts_fts(rowid, text, category, entity, key, value)
	VALUES (new.rowid, new.text, new.category, new.entity, new.key, new.value);
END;

CREATE TRIGGER IF NOT EXISTS facts_ad AFTER DELETE ON facts BEGIN
	INSERT INTO facts_fts(facts_fts, rowid, text, category, entity, key, value)
	VALUES ('delete', old.rowid, old.text, old.category, old.entity, old.key, old.value);
END;

CREATE TRIGGER IF NOT EXISTS facts_au AFTER UPDATE ON facts BEGIN
	INSERT INTO facts_fts(facts_fts, rowid, text, category, entity, key, value)
	VALUES ('delete', old.rowid, old.text, old.category, old.entity, old.key, old.value);
	INSERT INTO facts_fts(rowid, text, category, entity, key, value)
	VALUES (new.rowid, new.text, new.category, new.entity, new.key, new.value);
END;

CREATE TABLE IF NOT EXISTS memory_links (
	id TEXT PRIMARY KEY,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	link_type TEXT NOT NULL,
	strength REAL NOT NULL DEFAULT 0.1,
	created_at INTEGER NOT NULL,
	UNIQUE(from_id, to_id, link_type)
);

CREATE INDEX IF NOT EXISTS idx_links_from ON memory_links(from_id);
CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_id);

CREATE TABLE IF NOT EXISTS procedures (
	id TEXT PRIMARY KEY,
	task_pattern TEXT NOT NULL,
	recipe_json TEXT NOT NULL DEFAULT '{}',
	procedure_type TEXT NOT NULL DEFAULT 'positive',
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	success_sessions TEXT NOT NULL DEFAULT '',
	failure_sessions TEXT NOT NULL DEFAULT '',
	last_validated INTEGER,
	last_failed INTEGER,
	confidence REAL NOT NULL DEFAULT 0.5,
	ttl_days INTEGER NOT NULL DEFAULT 30,
	promoted_to_skill INTEGER NOT NULL DEFAULT 0,
	skill_path TEXT NOT NULL DEFAULT '',
	promoted_at INTEGER,
	reinforced_count INTEGER NOT NULL DEFAULT 0,
	reinforced_quotes TEXT NOT NULL DEFAULT '[]',
	scope TEXT NOT NULL DEFAULT 'global',
	scope_target TEXT NOT NULL DEFAULT '',
	source_sessions TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_procedures_type ON procedures(procedure_type);
CREATE INDEX IF NOT EXISTS idx_procedures_scope ON procedures(scope, scope_target);

CREATE VIRTUAL TABLE IF NOT EXISTS procedures_fts USING fts5(
	task_pattern,
	content='procedures',
	content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS procedures_ai AFTER INSERT ON procedures BEGIN
	INSERT INTO procedures_fts(rowid, task_pattern) VALUES (new.rowid, new.task_pattern);
END;

CREATE TRIGGER IF NOT EXISTS procedures_ad AFTER DELETE ON procedures BEGIN
	INSERT INTO procedures_fts(procedures_fts, rowid, task_pattern) VALUES ('delete', old.rowid, old.task_pattern);
END;

CREATE TRIGGER IF NOT EXISTS procedures_au AFTER UPDATE ON procedures BEGIN
	INSERT INTO procedures_fts(procedures_fts, rowid, task_pattern) VALUES ('delete', old.rowid, old.task_pattern);
	INSERT INTO procedures_fts(rowid, task_pattern) VALUES (new.rowid, new.task_pattern);
END;
`

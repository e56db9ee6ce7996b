package migrate

// Schema SQL for each migration, grounded on database/schema.go's layout
// (CREATE TABLE IF NOT EXISTS, explicit CHECK constraints, one index per
// query shape) but reworked for ditox's clip/image/tag/sync data model.

const schema001ClipsAndImages = `
CREATE TABLE IF NOT EXISTS clips (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    is_favorite INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER,

    CHECK (kind IN ('text', 'image')),
    CHECK (is_favorite IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_clips_created_at ON clips(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_clips_deleted_at ON clips(deleted_at);

CREATE TABLE IF NOT EXISTS images (
    clip_id TEXT PRIMARY KEY REFERENCES clips(id) ON DELETE CASCADE,
    format TEXT NOT NULL,
    width INTEGER NOT NULL,
    height INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    sha256 TEXT NOT NULL,
    thumb_path TEXT,

    CHECK (width > 0),
    CHECK (height > 0),
    CHECK (size_bytes >= 0)
);

CREATE INDEX IF NOT EXISTS idx_images_sha256 ON images(sha256);
`

const schema003ImageColumns = `
ALTER TABLE clips ADD COLUMN is_image INTEGER NOT NULL DEFAULT 0;
ALTER TABLE clips ADD COLUMN image_path TEXT;

CREATE INDEX IF NOT EXISTS idx_clips_is_image ON clips(is_image);

UPDATE clips SET is_image = 1 WHERE kind = 'image';
`

const schema004SyncColumns = `
ALTER TABLE clips ADD COLUMN updated_at INTEGER;
ALTER TABLE clips ADD COLUMN lamport INTEGER NOT NULL DEFAULT 0;
ALTER TABLE clips ADD COLUMN device_id TEXT NOT NULL DEFAULT '';

UPDATE clips SET updated_at = created_at WHERE updated_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_clips_updated_at ON clips(updated_at);

CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const schema005Tags = `
CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);

CREATE TABLE IF NOT EXISTS clip_tags (
    clip_id TEXT NOT NULL REFERENCES clips(id) ON DELETE CASCADE,
    tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (clip_id, tag_id)
);
`

const schema006LastUsed = `
ALTER TABLE clips ADD COLUMN last_used_at INTEGER;

CREATE INDEX IF NOT EXISTS idx_clips_last_used_at ON clips(last_used_at);
`

const schema007RecencyIndex = `
CREATE INDEX IF NOT EXISTS idx_clips_recency
    ON clips(COALESCE(last_used_at, created_at) DESC)
    WHERE deleted_at IS NULL;
`

// ftsSchema creates the FTS5 external-content index over clips.rowid and
// its maintenance triggers. Applied only when the fts5 compile-time option
// is present in the loaded sqlite build (see ProbeFTS5 in fts.go).
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS clips_fts USING fts5(text, content='clips', content_rowid='rowid');

CREATE TRIGGER IF NOT EXISTS clips_fts_ai AFTER INSERT ON clips BEGIN
    INSERT INTO clips_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS clips_fts_ad AFTER DELETE ON clips BEGIN
    INSERT INTO clips_fts(clips_fts, rowid, text) VALUES('delete', old.rowid, old.text);
END;

CREATE TRIGGER IF NOT EXISTS clips_fts_au AFTER UPDATE ON clips BEGIN
    INSERT INTO clips_fts(clips_fts, rowid, text) VALUES('delete', old.rowid, old.text);
    INSERT INTO clips_fts(rowid, text) VALUES (new.rowid, new.text);
END;
`

const ftsRebuild = `INSERT INTO clips_fts(clips_fts) VALUES('rebuild');`

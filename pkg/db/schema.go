package db

// Schema defines the SQLite schema for the staging ledger.
// artifacts holds the last known state of every staged file by name;
// runs records each pipeline invocation and its outcome.
const Schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL CHECK(kind IN ('ota', 'recovery')),
    url TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    local_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('pending', 'downloading', 'verified', 'corrupt', 'failed', 'flashed', 'cleaned')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);
CREATE INDEX IF NOT EXISTS idx_artifacts_updated_at ON artifacts(updated_at);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    manifest_url TEXT NOT NULL,
    mode TEXT NOT NULL CHECK(mode IN ('interactive', 'bgcache', 'dry_run')),
    outcome TEXT NOT NULL CHECK(outcome IN ('running', 'success', 'failed', 'not_staged')),
    error_message TEXT,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Artifact status constants
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusVerified    = "verified"
	StatusCorrupt     = "corrupt"
	StatusFailed      = "failed"
	StatusFlashed     = "flashed"
	StatusCleaned     = "cleaned"
)

// Artifact kinds
const (
	KindOTA      = "ota"
	KindRecovery = "recovery"
)

// Run modes
const (
	ModeInteractive = "interactive"
	ModeBackground  = "bgcache"
	ModeDryRun      = "dry_run"
)

// Run outcomes
const (
	OutcomeRunning   = "running"
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeNotStaged = "not_staged"
)

// Artifact is the ledger record of a staged file
type Artifact struct {
	ID           int64
	Name         string
	Kind         string
	URL          string
	SHA256       string
	LocalPath    string
	SizeBytes    int64
	Status       string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Run is one pipeline invocation
type Run struct {
	ID           string
	ManifestURL  string
	Mode         string
	Outcome      string
	ErrorMessage string
	StartedAt    string
	FinishedAt   string
}

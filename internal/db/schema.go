package db

// LedgerTable holds one row per processed search window.
const LedgerTable = "window_run"

// SchemaSQL defines the ledger table in a client database. Result tables
// (raw_<query>) stay schemaless since their columns follow each query's
// SELECT list.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS window_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS run_id ON window_run TYPE string;
    DEFINE FIELD IF NOT EXISTS event_processor ON window_run TYPE string;
    DEFINE FIELD IF NOT EXISTS client ON window_run TYPE string;
    DEFINE FIELD IF NOT EXISTS query ON window_run TYPE string;
    DEFINE FIELD IF NOT EXISTS window_start ON window_run TYPE datetime;
    DEFINE FIELD IF NOT EXISTS window_stop ON window_run TYPE datetime;
    DEFINE FIELD IF NOT EXISTS cursor_id ON window_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON window_run TYPE string ASSERT $value IN ["completed", "no_records", "lost"];
    DEFINE FIELD IF NOT EXISTS records_found ON window_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS records_inserted ON window_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS triggers ON window_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error ON window_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS duration_ms ON window_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS finished_at ON window_run TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS window_run_run ON window_run FIELDS run_id;
    DEFINE INDEX IF NOT EXISTS window_run_window ON window_run FIELDS query, window_start;
    DEFINE INDEX IF NOT EXISTS window_run_status ON window_run FIELDS status;
`

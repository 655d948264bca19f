package reportstore

const schema = `
CREATE TABLE IF NOT EXISTS sweep_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_path TEXT NOT NULL,
    ran_at TIMESTAMP NOT NULL,
    total_records INTEGER NOT NULL DEFAULT 0,
    total_items INTEGER NOT NULL DEFAULT 0,
    incomplete_plans INTEGER NOT NULL DEFAULT 0,
    missing_files INTEGER NOT NULL DEFAULT 0,
    missing_outputs INTEGER NOT NULL DEFAULT 0,
    missing_dependencies INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sweep_runs_project ON sweep_runs(project_path);
CREATE INDEX IF NOT EXISTS idx_sweep_runs_ran_at ON sweep_runs(ran_at);
`

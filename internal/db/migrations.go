package db

// migrations are applied in order and recorded in schema_versions. The DDL is
// restricted to types both SQLite and PostgreSQL accept: timestamps are unix
// milliseconds in BIGINT columns and JSON documents are TEXT.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS metric_samples (
    device_id    TEXT NOT NULL,
    metric_name  TEXT NOT NULL,
    value        DOUBLE PRECISION NOT NULL,
    ts           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_series ON metric_samples(device_id, metric_name, ts);
CREATE INDEX IF NOT EXISTS idx_samples_ts ON metric_samples(ts);

CREATE TABLE IF NOT EXISTS devices (
    device_id        TEXT PRIMARY KEY,
    rack_id          TEXT NOT NULL DEFAULT '',
    network_segment  TEXT NOT NULL DEFAULT '',
    service_name     TEXT NOT NULL DEFAULT '',
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    last_seen        BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_devices_active ON devices(active, last_seen);

CREATE TABLE IF NOT EXISTS baselines (
    device_id     TEXT NOT NULL,
    metric_name   TEXT NOT NULL,
    mean          DOUBLE PRECISION NOT NULL,
    std_dev       DOUBLE PRECISION NOT NULL,
    median        DOUBLE PRECISION NOT NULL,
    p25           DOUBLE PRECISION NOT NULL,
    p75           DOUBLE PRECISION NOT NULL,
    p95           DOUBLE PRECISION NOT NULL,
    p99           DOUBLE PRECISION NOT NULL,
    min_value     DOUBLE PRECISION NOT NULL,
    max_value     DOUBLE PRECISION NOT NULL,
    sample_count  INTEGER NOT NULL,
    computed_at   BIGINT NOT NULL,
    PRIMARY KEY (device_id, metric_name)
);

CREATE TABLE IF NOT EXISTS trained_models (
    id                   TEXT PRIMARY KEY,
    device_id            TEXT NOT NULL,
    metric_name          TEXT NOT NULL,
    model_type           TEXT NOT NULL,
    version              INTEGER NOT NULL,
    active               BOOLEAN NOT NULL DEFAULT FALSE,
    model_data           TEXT NOT NULL,
    contamination        DOUBLE PRECISION NOT NULL,
    num_estimators       INTEGER NOT NULL,
    training_samples     INTEGER NOT NULL,
    accuracy             DOUBLE PRECISION NOT NULL,
    false_positive_rate  DOUBLE PRECISION NOT NULL,
    trained_at           BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_models_version ON trained_models(device_id, metric_name, version);
CREATE INDEX IF NOT EXISTS idx_models_active ON trained_models(device_id, metric_name, active);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS anomaly_detections (
    id              TEXT PRIMARY KEY,
    device_id       TEXT NOT NULL,
    metric_name     TEXT NOT NULL,
    detected_at     BIGINT NOT NULL,
    metric_value    DOUBLE PRECISION NOT NULL,
    expected_value  DOUBLE PRECISION NOT NULL,
    expected_min    DOUBLE PRECISION NOT NULL,
    expected_max    DOUBLE PRECISION NOT NULL,
    anomaly_score   DOUBLE PRECISION NOT NULL,
    model_type      TEXT NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL,
    severity        TEXT NOT NULL,
    alert_id        TEXT,
    false_positive  BOOLEAN NOT NULL DEFAULT FALSE,
    metadata        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_detections_detected_at ON anomaly_detections(detected_at);
CREATE INDEX IF NOT EXISTS idx_detections_series ON anomaly_detections(device_id, metric_name, detected_at);

CREATE TABLE IF NOT EXISTS alerts (
    id                    TEXT PRIMARY KEY,
    device_id             TEXT NOT NULL,
    alert_type            TEXT NOT NULL,
    metric_name           TEXT NOT NULL DEFAULT '',
    category              TEXT NOT NULL DEFAULT '',
    severity              TEXT NOT NULL,
    title                 TEXT NOT NULL DEFAULT '',
    message               TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL DEFAULT 'open',
    is_smart_alert        BOOLEAN NOT NULL DEFAULT FALSE,
    anomaly_id            TEXT,
    correlation_group_id  TEXT NOT NULL DEFAULT '',
    priority_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    ml_confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
    suppressed            BOOLEAN NOT NULL DEFAULT FALSE,
    suppression_reason    TEXT NOT NULL DEFAULT '',
    noise_score           DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at            BIGINT NOT NULL,
    updated_at            BIGINT NOT NULL,
    closed_at             BIGINT,
    metadata              TEXT NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_anomaly ON alerts(anomaly_id);
CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(status, suppressed, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_device ON alerts(device_id, created_at);

CREATE TABLE IF NOT EXISTS alert_correlations (
    id                    TEXT PRIMARY KEY,
    correlation_group_id  TEXT NOT NULL,
    alert_ids             TEXT NOT NULL,
    root_cause_alert_id   TEXT NOT NULL DEFAULT '',
    correlation_type      TEXT NOT NULL,
    confidence            DOUBLE PRECISION NOT NULL,
    detected_at           BIGINT NOT NULL,
    window_start          BIGINT NOT NULL,
    window_end            BIGINT NOT NULL,
    impact_score          DOUBLE PRECISION NOT NULL,
    metadata              TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_correlations_detected_at ON alert_correlations(detected_at);
CREATE INDEX IF NOT EXISTS idx_correlations_group ON alert_correlations(correlation_group_id);
`,
	},
}

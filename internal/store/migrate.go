package store

import "database/sql"

// Migrate applies the schema. Idempotent; run on startup.
func Migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id                  UUID PRIMARY KEY,
		name                TEXT NOT NULL,
		email               TEXT UNIQUE NOT NULL,
		student_id          TEXT UNIQUE,
		department          TEXT NOT NULL DEFAULT '',
		reference_image_ref TEXT NOT NULL DEFAULT '',
		password_hash       TEXT NOT NULL DEFAULT '',
		role                TEXT NOT NULL DEFAULT 'student',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL,
		code       TEXT UNIQUE NOT NULL,
		staff_id   UUID NOT NULL REFERENCES students(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id            UUID PRIMARY KEY,
		teacher_id    UUID NOT NULL REFERENCES students(id),
		subject_id    UUID NOT NULL REFERENCES subjects(id),
		start_time    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		end_time      TIMESTAMPTZ,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		latitude      DOUBLE PRECISION NOT NULL,
		longitude     DOUBLE PRECISION NOT NULL,
		radius_meters DOUBLE PRECISION NOT NULL,
		code          TEXT UNIQUE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_teacher_active ON sessions(teacher_id, active);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id                 UUID PRIMARY KEY,
		session_id         UUID NOT NULL REFERENCES sessions(id),
		student_id         UUID NOT NULL REFERENCES students(id),
		recorded_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status             TEXT NOT NULL DEFAULT 'pending',
		captured_image_ref TEXT NOT NULL DEFAULT '',
		gps_lat            DOUBLE PRECISION,
		gps_lng            DOUBLE PRECISION,
		UNIQUE (session_id, student_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_student_time ON attendance_records(student_id, recorded_at DESC);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		user_id    UUID NOT NULL REFERENCES students(id),
		expires_at TIMESTAMPTZ NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id         UUID PRIMARY KEY,
		session_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		code       TEXT NOT NULL,
		success    BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := db.Exec(schema)
	return err
}

package snapshot

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/trialops/dqi-engine/internal/model"
)

// pgPool abstracts pgxpool.Pool for testing with pgxmock.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool, for deployments where the
// dashboard and engine share a central database.
type PostgresStore struct {
	pool pgPool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

func postgresMigration() string {
	var b strings.Builder
	b.WriteString(`
CREATE TABLE IF NOT EXISTS manifest (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	build_id       TEXT NOT NULL,
	fingerprint    TEXT NOT NULL,
	config_version TEXT NOT NULL,
	built_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS subject_records (
	study_id      TEXT NOT NULL,
	site_id       TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	site_conflict BOOLEAN NOT NULL DEFAULT FALSE,
	present       JSONB NOT NULL,
`)
	for _, col := range metricColumns {
		b.WriteString("\t" + col + " DOUBLE PRECISION,\n")
	}
	b.WriteString(`	dqi           DOUBLE PRECISION,
	band          TEXT,
	clean_patient BOOLEAN,
	PRIMARY KEY (study_id, subject_id)
);
CREATE TABLE IF NOT EXISTS site_records (
	study_id       TEXT NOT NULL,
	site_id        TEXT NOT NULL,
	subjects       INTEGER NOT NULL,
	mean_dqi       DOUBLE PRECISION,
	pct_clean      DOUBLE PRECISION,
	clean_eligible INTEGER NOT NULL,
	clean_count    INTEGER NOT NULL,
	conflict_count INTEGER NOT NULL,
	red_count      INTEGER NOT NULL,
	coverage       JSONB NOT NULL,
	PRIMARY KEY (study_id, site_id)
);
CREATE TABLE IF NOT EXISTS study_records (
	study_id       TEXT PRIMARY KEY,
	subjects       INTEGER NOT NULL,
	sites          INTEGER NOT NULL,
	mean_dqi       DOUBLE PRECISION,
	pct_clean      DOUBLE PRECISION,
	clean_eligible INTEGER NOT NULL,
	clean_count    INTEGER NOT NULL,
	conflict_count INTEGER NOT NULL,
	red_count      INTEGER NOT NULL,
	coverage       JSONB NOT NULL,
	warning_counts JSONB NOT NULL,
	site_ids       JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS warnings (
	study_id   TEXT NOT NULL,
	site_id    TEXT,
	subject_id TEXT,
	category   TEXT,
	kind       TEXT NOT NULL,
	detail     TEXT
);
CREATE INDEX IF NOT EXISTS idx_subject_records_site ON subject_records(study_id, site_id);
CREATE INDEX IF NOT EXISTS idx_warnings_study ON warnings(study_id);
`)
	return b.String()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration())
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Manifest(ctx context.Context) (*model.Manifest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT build_id, fingerprint, config_version, built_at FROM manifest WHERE id = 1`)

	var m model.Manifest
	err := row.Scan(&m.BuildID, &m.Fingerprint, &m.ConfigVersion, &m.BuiltAt)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read manifest")
	}
	m.BuiltAt = m.BuiltAt.UTC()
	return &m, nil
}

func (s *PostgresStore) Replace(ctx context.Context, snap *model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace")
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"manifest", "subject_records", "site_records", "study_records", "warnings"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "postgres: clear %s", table)
		}
	}

	m := snap.Manifest
	if _, err := tx.Exec(ctx,
		`INSERT INTO manifest (id, build_id, fingerprint, config_version, built_at) VALUES (1, $1, $2, $3, $4)`,
		m.BuildID, m.Fingerprint, m.ConfigVersion, m.BuiltAt.UTC(),
	); err != nil {
		return eris.Wrap(err, "postgres: insert manifest")
	}

	insertSubject := subjectInsertSQL("$")
	for _, rec := range snap.Subjects {
		if _, err := tx.Exec(ctx, insertSubject, subjectArgs(rec)...); err != nil {
			return eris.Wrapf(err, "postgres: insert subject %s/%s", rec.StudyID, rec.SubjectID)
		}
	}

	for _, site := range snap.Sites {
		cov, err := marshalJSON(site.Coverage)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO site_records (study_id, site_id, subjects, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			site.StudyID, site.SiteID, site.Subjects, nullable(site.MeanDQI), nullable(site.PctClean),
			site.CleanEligible, site.CleanCount, site.ConflictCount, site.RedCount, cov,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert site %s/%s", site.StudyID, site.SiteID)
		}
	}

	for _, study := range snap.Studies {
		cov, err := marshalJSON(study.Coverage)
		if err != nil {
			return err
		}
		wc, err := marshalJSON(study.WarningCounts)
		if err != nil {
			return err
		}
		siteIDs, err := marshalJSON(study.SiteIDs)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO study_records (study_id, subjects, sites, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage, warning_counts, site_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			study.StudyID, study.Subjects, study.Sites, nullable(study.MeanDQI), nullable(study.PctClean),
			study.CleanEligible, study.CleanCount, study.ConflictCount, study.RedCount, cov, wc, siteIDs,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert study %s", study.StudyID)
		}
	}

	for _, w := range snap.Warnings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO warnings (study_id, site_id, subject_id, category, kind, detail) VALUES ($1, $2, $3, $4, $5, $6)`,
			w.StudyID, w.SiteID, w.SubjectID, string(w.Category), string(w.Kind), w.Detail,
		); err != nil {
			return eris.Wrap(err, "postgres: insert warning")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit replace")
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{}

	m, err := s.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, eris.New("postgres: no snapshot stored")
	}
	snap.Manifest = *m

	if snap.Subjects, err = s.loadSubjects(ctx); err != nil {
		return nil, err
	}
	if snap.Sites, err = s.loadSites(ctx); err != nil {
		return nil, err
	}
	if snap.Studies, err = s.loadStudies(ctx); err != nil {
		return nil, err
	}
	if snap.Warnings, err = s.loadWarnings(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *PostgresStore) loadSubjects(ctx context.Context) ([]model.SubjectRecord, error) {
	rows, err := s.pool.Query(ctx, subjectSelectSQL()+" ORDER BY study_id, subject_id")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query subjects")
	}
	defer rows.Close()

	var out []model.SubjectRecord
	for rows.Next() {
		var rec model.SubjectRecord
		var present string
		var band *string
		metrics := make([]*float64, len(metricColumns))

		dest := []any{&rec.StudyID, &rec.SiteID, &rec.SubjectID, &rec.SiteConflict, &present}
		for i := range metrics {
			dest = append(dest, &metrics[i])
		}
		dest = append(dest, &rec.DQI, &band, &rec.CleanPatient)

		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subject")
		}
		if band != nil {
			rec.Band = *band
		}
		if rec.Present, err = unmarshalPresent(present); err != nil {
			return nil, err
		}
		applyMetrics(&rec, metrics)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate subjects")
}

func (s *PostgresStore) loadSites(ctx context.Context) ([]model.SiteRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT study_id, site_id, subjects, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage
FROM site_records ORDER BY study_id, site_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query sites")
	}
	defer rows.Close()

	var out []model.SiteRecord
	for rows.Next() {
		var site model.SiteRecord
		var cov string
		if err := rows.Scan(&site.StudyID, &site.SiteID, &site.Subjects, &site.MeanDQI, &site.PctClean,
			&site.CleanEligible, &site.CleanCount, &site.ConflictCount, &site.RedCount, &cov); err != nil {
			return nil, eris.Wrap(err, "postgres: scan site")
		}
		if site.Coverage, err = unmarshalCoverage(cov); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sites")
}

func (s *PostgresStore) loadStudies(ctx context.Context) ([]model.StudyRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT study_id, subjects, sites, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage, warning_counts, site_ids
FROM study_records ORDER BY study_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query studies")
	}
	defer rows.Close()

	var out []model.StudyRecord
	for rows.Next() {
		var study model.StudyRecord
		var cov, wc, siteIDs string
		if err := rows.Scan(&study.StudyID, &study.Subjects, &study.Sites, &study.MeanDQI, &study.PctClean,
			&study.CleanEligible, &study.CleanCount, &study.ConflictCount, &study.RedCount,
			&cov, &wc, &siteIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan study")
		}
		if study.Coverage, err = unmarshalCoverage(cov); err != nil {
			return nil, err
		}
		if study.WarningCounts, err = unmarshalWarningCounts(wc); err != nil {
			return nil, err
		}
		if study.SiteIDs, err = unmarshalStrings(siteIDs); err != nil {
			return nil, err
		}
		out = append(out, study)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate studies")
}

func (s *PostgresStore) loadWarnings(ctx context.Context) ([]model.Warning, error) {
	rows, err := s.pool.Query(ctx, `
SELECT study_id, site_id, subject_id, category, kind, detail
FROM warnings ORDER BY study_id, kind, subject_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query warnings")
	}
	defer rows.Close()

	var out []model.Warning
	for rows.Next() {
		var w model.Warning
		var site, subject, category, detail *string
		if err := rows.Scan(&w.StudyID, &site, &subject, &category, (*string)(&w.Kind), &detail); err != nil {
			return nil, eris.Wrap(err, "postgres: scan warning")
		}
		if site != nil {
			w.SiteID = *site
		}
		if subject != nil {
			w.SubjectID = *subject
		}
		if category != nil {
			w.Category = model.Category(*category)
		}
		if detail != nil {
			w.Detail = *detail
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate warnings")
}

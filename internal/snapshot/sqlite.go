package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/trialops/dqi-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode so dashboard readers never block the single writer.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteMigration() string {
	var b strings.Builder
	b.WriteString(`
CREATE TABLE IF NOT EXISTS manifest (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	build_id       TEXT NOT NULL,
	fingerprint    TEXT NOT NULL,
	config_version TEXT NOT NULL,
	built_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS subject_records (
	study_id      TEXT NOT NULL,
	site_id       TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	site_conflict INTEGER NOT NULL DEFAULT 0,
	present       TEXT NOT NULL,
`)
	for _, col := range metricColumns {
		fmt.Fprintf(&b, "\t%s REAL,\n", col)
	}
	b.WriteString(`	dqi           REAL,
	band          TEXT,
	clean_patient INTEGER,
	PRIMARY KEY (study_id, subject_id)
);

CREATE TABLE IF NOT EXISTS site_records (
	study_id       TEXT NOT NULL,
	site_id        TEXT NOT NULL,
	subjects       INTEGER NOT NULL,
	mean_dqi       REAL,
	pct_clean      REAL,
	clean_eligible INTEGER NOT NULL,
	clean_count    INTEGER NOT NULL,
	conflict_count INTEGER NOT NULL,
	red_count      INTEGER NOT NULL,
	coverage       TEXT NOT NULL,
	PRIMARY KEY (study_id, site_id)
);

CREATE TABLE IF NOT EXISTS study_records (
	study_id       TEXT PRIMARY KEY,
	subjects       INTEGER NOT NULL,
	sites          INTEGER NOT NULL,
	mean_dqi       REAL,
	pct_clean      REAL,
	clean_eligible INTEGER NOT NULL,
	clean_count    INTEGER NOT NULL,
	conflict_count INTEGER NOT NULL,
	red_count      INTEGER NOT NULL,
	coverage       TEXT NOT NULL,
	warning_counts TEXT NOT NULL,
	site_ids       TEXT NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration())
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Manifest(ctx context.Context) (*model.Manifest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT build_id, fingerprint, config_version, built_at FROM manifest WHERE id = 1`)

	var m model.Manifest
	err := row.Scan(&m.BuildID, &m.Fingerprint, &m.ConfigVersion, &m.BuiltAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read manifest")
	}
	m.BuiltAt = m.BuiltAt.UTC()
	return &m, nil
}

// Replace swaps the stored snapshot inside a single transaction; a failed
// write rolls back and leaves the previous snapshot serving.
func (s *SQLiteStore) Replace(ctx context.Context, snap *model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace")
	}
	defer tx.Rollback()

	for _, table := range []string{"manifest", "subject_records", "site_records", "study_records", "warnings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
	}

	m := snap.Manifest
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifest (id, build_id, fingerprint, config_version, built_at) VALUES (1, ?, ?, ?, ?)`,
		m.BuildID, m.Fingerprint, m.ConfigVersion, m.BuiltAt.UTC(),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert manifest")
	}

	insertSubject := subjectInsertSQL("?")
	for _, rec := range snap.Subjects {
		if _, err := tx.ExecContext(ctx, insertSubject, subjectArgs(rec)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert subject %s/%s", rec.StudyID, rec.SubjectID)
		}
	}

	for _, site := range snap.Sites {
		cov, err := marshalJSON(site.Coverage)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO site_records (study_id, site_id, subjects, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			site.StudyID, site.SiteID, site.Subjects, nullable(site.MeanDQI), nullable(site.PctClean),
			site.CleanEligible, site.CleanCount, site.ConflictCount, site.RedCount, cov,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert site %s/%s", site.StudyID, site.SiteID)
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
		if _, err := tx.ExecContext(ctx, `
INSERT INTO study_records (study_id, subjects, sites, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage, warning_counts, site_ids)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			study.StudyID, study.Subjects, study.Sites, nullable(study.MeanDQI), nullable(study.PctClean),
			study.CleanEligible, study.CleanCount, study.ConflictCount, study.RedCount, cov, wc, siteIDs,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert study %s", study.StudyID)
		}
	}

	for _, w := range snap.Warnings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO warnings (study_id, site_id, subject_id, category, kind, detail) VALUES (?, ?, ?, ?, ?, ?)`,
			w.StudyID, w.SiteID, w.SubjectID, string(w.Category), string(w.Kind), w.Detail,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert warning")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit replace")
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{}

	m, err := s.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, eris.New("sqlite: no snapshot stored")
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

func (s *SQLiteStore) loadSubjects(ctx context.Context) ([]model.SubjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, subjectSelectSQL()+" ORDER BY study_id, subject_id")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query subjects")
	}
	defer rows.Close()

	var out []model.SubjectRecord
	for rows.Next() {
		var rec model.SubjectRecord
		var conflict int
		var present string
		metrics := make([]*float64, len(metricColumns))
		var dqi sql.NullFloat64
		var band sql.NullString
		var clean sql.NullBool

		dest := []any{&rec.StudyID, &rec.SiteID, &rec.SubjectID, &conflict, &present}
		for i := range metrics {
			dest = append(dest, &metrics[i])
		}
		dest = append(dest, &dqi, &band, &clean)

		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subject")
		}

		rec.SiteConflict = conflict != 0
		if rec.Present, err = unmarshalPresent(present); err != nil {
			return nil, err
		}
		applyMetrics(&rec, metrics)
		if dqi.Valid {
			v := dqi.Float64
			rec.DQI = &v
		}
		rec.Band = band.String
		if clean.Valid {
			v := clean.Bool
			rec.CleanPatient = &v
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate subjects")
}

func (s *SQLiteStore) loadSites(ctx context.Context) ([]model.SiteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT study_id, site_id, subjects, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage
FROM site_records ORDER BY study_id, site_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query sites")
	}
	defer rows.Close()

	var out []model.SiteRecord
	for rows.Next() {
		var site model.SiteRecord
		var meanDQI, pctClean sql.NullFloat64
		var cov string
		if err := rows.Scan(&site.StudyID, &site.SiteID, &site.Subjects, &meanDQI, &pctClean,
			&site.CleanEligible, &site.CleanCount, &site.ConflictCount, &site.RedCount, &cov); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan site")
		}
		if meanDQI.Valid {
			v := meanDQI.Float64
			site.MeanDQI = &v
		}
		if pctClean.Valid {
			v := pctClean.Float64
			site.PctClean = &v
		}
		if site.Coverage, err = unmarshalCoverage(cov); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sites")
}

func (s *SQLiteStore) loadStudies(ctx context.Context) ([]model.StudyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT study_id, subjects, sites, mean_dqi, pct_clean,
	clean_eligible, clean_count, conflict_count, red_count, coverage, warning_counts, site_ids
FROM study_records ORDER BY study_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query studies")
	}
	defer rows.Close()

	var out []model.StudyRecord
	for rows.Next() {
		var study model.StudyRecord
		var meanDQI, pctClean sql.NullFloat64
		var cov, wc, siteIDs string
		if err := rows.Scan(&study.StudyID, &study.Subjects, &study.Sites, &meanDQI, &pctClean,
			&study.CleanEligible, &study.CleanCount, &study.ConflictCount, &study.RedCount,
			&cov, &wc, &siteIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan study")
		}
		if meanDQI.Valid {
			v := meanDQI.Float64
			study.MeanDQI = &v
		}
		if pctClean.Valid {
			v := pctClean.Float64
			study.PctClean = &v
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
	return out, eris.Wrap(rows.Err(), "sqlite: iterate studies")
}

func (s *SQLiteStore) loadWarnings(ctx context.Context) ([]model.Warning, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT study_id, site_id, subject_id, category, kind, detail
FROM warnings ORDER BY study_id, kind, subject_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query warnings")
	}
	defer rows.Close()

	var out []model.Warning
	for rows.Next() {
		var w model.Warning
		var site, subject, category, detail sql.NullString
		if err := rows.Scan(&w.StudyID, &site, &subject, &category, (*string)(&w.Kind), &detail); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan warning")
		}
		w.SiteID = site.String
		w.SubjectID = subject.String
		w.Category = model.Category(category.String)
		w.Detail = detail.String
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate warnings")
}

// subjectInsertSQL builds the INSERT statement for subject_records with
// the given placeholder style.
func subjectInsertSQL(placeholder string) string {
	cols := []string{"study_id", "site_id", "subject_id", "site_conflict", "present"}
	cols = append(cols, metricColumns...)
	cols = append(cols, "dqi", "band", "clean_patient")

	marks := make([]string, len(cols))
	for i := range marks {
		if placeholder == "?" {
			marks[i] = "?"
		} else {
			marks[i] = fmt.Sprintf("$%d", i+1)
		}
	}
	return fmt.Sprintf("INSERT INTO subject_records (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// subjectSelectSQL builds the SELECT statement matching subjectInsertSQL's
// column order.
func subjectSelectSQL() string {
	cols := []string{"study_id", "site_id", "subject_id", "site_conflict", "present"}
	cols = append(cols, metricColumns...)
	cols = append(cols, "dqi", "band", "clean_patient")
	return "SELECT " + strings.Join(cols, ", ") + " FROM subject_records"
}

// subjectArgs flattens a record into insert arguments aligned with
// subjectInsertSQL.
func subjectArgs(rec model.SubjectRecord) []any {
	present, err := marshalJSON(rec.Present)
	if err != nil {
		present = "{}"
	}
	args := []any{rec.StudyID, rec.SiteID, rec.SubjectID, rec.SiteConflict, present}
	args = append(args, metricArgs(rec)...)
	args = append(args, nullable(rec.DQI), nullString(rec.Band), nullableBool(rec.CleanPatient))
	return args
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package model

import "time"

// SourceFile identifies one raw input file by path and modification
// markers. The set of SourceFiles for a raw-data root determines the
// snapshot fingerprint.
type SourceFile struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Manifest describes a persisted snapshot.
type Manifest struct {
	BuildID       string    `json:"build_id"`
	Fingerprint   string    `json:"fingerprint"`
	ConfigVersion string    `json:"config_version"`
	BuiltAt       time.Time `json:"built_at"`
}

// Snapshot is the versioned container of everything a build produces.
// Readers always observe either a complete previous snapshot or a complete
// new one, never an intermediate state.
type Snapshot struct {
	Manifest Manifest        `json:"manifest"`
	Subjects []SubjectRecord `json:"subjects"`
	Sites    []SiteRecord    `json:"sites"`
	Studies  []StudyRecord   `json:"studies"`
	Warnings []Warning       `json:"warnings"`
}

// Study returns the StudyRecord for id, or nil.
func (s *Snapshot) Study(id string) *StudyRecord {
	for i := range s.Studies {
		if s.Studies[i].StudyID == id {
			return &s.Studies[i]
		}
	}
	return nil
}

// SitesForStudy returns the site records belonging to a study, in stored
// order.
func (s *Snapshot) SitesForStudy(id string) []SiteRecord {
	var out []SiteRecord
	for _, site := range s.Sites {
		if site.StudyID == id {
			out = append(out, site)
		}
	}
	return out
}

// SubjectsForStudy returns the subject records belonging to a study, in
// stored order.
func (s *Snapshot) SubjectsForStudy(id string) []SubjectRecord {
	var out []SubjectRecord
	for _, subj := range s.Subjects {
		if subj.StudyID == id {
			out = append(out, subj)
		}
	}
	return out
}

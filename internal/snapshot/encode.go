package snapshot

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/trialops/dqi-engine/internal/model"
)

// metricColumns is the persisted column order: every feature, then every
// DQI component. Both drivers share it so the stored contract is
// identical regardless of backend.
var metricColumns = func() []string {
	cols := make([]string, 0, len(model.FeatureColumns)+len(model.ComponentColumns))
	cols = append(cols, model.FeatureColumns...)
	cols = append(cols, model.ComponentColumns...)
	return cols
}()

// metricArgs flattens a record's features and components into insert
// arguments aligned with metricColumns. Undefined entries become NULL,
// never zero.
func metricArgs(rec model.SubjectRecord) []any {
	args := make([]any, 0, len(metricColumns))
	for _, name := range model.FeatureColumns {
		if f, ok := rec.Features[name]; ok {
			args = append(args, f.Value)
		} else {
			args = append(args, nil)
		}
	}
	for _, name := range model.ComponentColumns {
		if v, ok := rec.Components[name]; ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	return args
}

// applyMetrics rebuilds a record's feature and component maps from
// scanned nullable values aligned with metricColumns.
func applyMetrics(rec *model.SubjectRecord, vals []*float64) {
	rec.Features = make(map[string]model.Feature)
	rec.Components = make(map[string]float64)
	for i, name := range model.FeatureColumns {
		if vals[i] != nil {
			rec.Features[name] = model.Feature{
				Name:   name,
				Source: model.FeatureSource[name],
				Value:  *vals[i],
			}
		}
	}
	off := len(model.FeatureColumns)
	for i, name := range model.ComponentColumns {
		if vals[off+i] != nil {
			rec.Components[name] = *vals[off+i]
		}
	}
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "snapshot: marshal")
	}
	return string(b), nil
}

func unmarshalPresent(s string) (map[model.Category]bool, error) {
	out := make(map[model.Category]bool)
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, eris.Wrap(err, "snapshot: unmarshal presence")
	}
	return out, nil
}

func unmarshalCoverage(s string) (map[model.Category]float64, error) {
	out := make(map[model.Category]float64)
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, eris.Wrap(err, "snapshot: unmarshal coverage")
	}
	return out, nil
}

func unmarshalWarningCounts(s string) (map[model.WarningKind]int, error) {
	out := make(map[model.WarningKind]int)
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, eris.Wrap(err, "snapshot: unmarshal warning counts")
	}
	return out, nil
}

func unmarshalStrings(s string) ([]string, error) {
	var out []string
	if s == "" || s == "null" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, eris.Wrap(err, "snapshot: unmarshal string list")
	}
	return out, nil
}

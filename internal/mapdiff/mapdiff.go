// Package mapdiff compares two versions of a unit's competency map and
// classifies what changed. Matching is keyed by activity description, not
// by row identity: candidate activities are freshly created rows with no
// stable identity tie to the baseline.
package mapdiff

import (
	"sort"
	"strings"
)

// SnapshotActivity is one activity with its knowledge-item descriptions.
type SnapshotActivity struct {
	Description string
	Knowledge   []string
}

// SnapshotCompetency is one competency with the descriptions of the
// activities it is linked to.
type SnapshotCompetency struct {
	Description string
	Activities  []string
}

// Snapshot is the comparable view of a map: its activities and its
// competency→activity links.
type Snapshot struct {
	Activities   []SnapshotActivity
	Competencies []SnapshotCompetency
}

// ImpactKind classifies why a competency is impacted.
type ImpactKind string

const (
	ImpactAtividadeRemovida ImpactKind = "ATIVIDADE_REMOVIDA"
	ImpactAtividadeAlterada ImpactKind = "ATIVIDADE_ALTERADA"
	// ImpactGenerico wins whenever a competency is hit by both a removed
	// and an altered activity.
	ImpactGenerico ImpactKind = "IMPACTO_GENERICO"
)

// ActivityImpact identifies one changed activity.
type ActivityImpact struct {
	Description string   `json:"description"`
	Knowledge   []string `json:"knowledge,omitempty"`
	// PreviousKnowledge carries the baseline knowledge items for altered
	// activities.
	PreviousKnowledge []string `json:"previous_knowledge,omitempty"`
}

// CompetencyImpact identifies one impacted competency and the activities
// that caused it.
type CompetencyImpact struct {
	Description string     `json:"description"`
	Impact      ImpactKind `json:"impact"`
	Activities  []string   `json:"activities"`
}

// Report is the structured outcome of a comparison.
type Report struct {
	HasImpact         bool               `json:"has_impact"`
	InsertedCount     int                `json:"inserted_count"`
	RemovedCount      int                `json:"removed_count"`
	AlteredCount      int                `json:"altered_count"`
	CompetencyCount   int                `json:"competency_count"`
	Inserted          []ActivityImpact   `json:"inserted"`
	Removed           []ActivityImpact   `json:"removed"`
	Altered           []ActivityImpact   `json:"altered"`
	Competencies      []CompetencyImpact `json:"competencies"`
}

type entry struct {
	description string
	knowledge   map[string]bool
}

// index collapses a snapshot's activities by normalized description.
// Duplicate descriptions merge into one logical entry with the union of
// their knowledge items.
func index(activities []SnapshotActivity) map[string]*entry {
	out := make(map[string]*entry, len(activities))
	for _, a := range activities {
		key := normalize(a.Description)
		if key == "" {
			continue
		}
		e, ok := out[key]
		if !ok {
			e = &entry{description: strings.TrimSpace(a.Description), knowledge: map[string]bool{}}
			out[key] = e
		}
		for _, k := range a.Knowledge {
			k = strings.TrimSpace(k)
			if k != "" {
				e.knowledge[k] = true
			}
		}
	}
	return out
}

// Activity matching folds case, following the behavior the organization
// depends on; knowledge comparison below stays case-sensitive.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameKnowledge(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedKnowledge(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compare classifies the differences between a baseline map and a
// candidate draft. It is a pure function: no I/O, no retained state, safe
// to call concurrently.
func Compare(baseline, candidate Snapshot) Report {
	base := index(baseline.Activities)
	cand := index(candidate.Activities)

	var report Report

	removedKeys := map[string]bool{}
	alteredKeys := map[string]bool{}

	for key, e := range cand {
		b, matched := base[key]
		if !matched {
			report.Inserted = append(report.Inserted, ActivityImpact{
				Description: e.description,
				Knowledge:   sortedKnowledge(e.knowledge),
			})
			continue
		}
		if !sameKnowledge(b.knowledge, e.knowledge) {
			alteredKeys[key] = true
			report.Altered = append(report.Altered, ActivityImpact{
				Description:       b.description,
				Knowledge:         sortedKnowledge(e.knowledge),
				PreviousKnowledge: sortedKnowledge(b.knowledge),
			})
		}
	}
	for key, e := range base {
		if _, matched := cand[key]; !matched {
			removedKeys[key] = true
			report.Removed = append(report.Removed, ActivityImpact{
				Description: e.description,
				Knowledge:   sortedKnowledge(e.knowledge),
			})
		}
	}

	for _, comp := range baseline.Competencies {
		var hitRemoved, hitAltered bool
		var affected []string
		seen := map[string]bool{}
		for _, act := range comp.Activities {
			key := normalize(act)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			switch {
			case removedKeys[key]:
				hitRemoved = true
				affected = append(affected, base[key].description)
			case alteredKeys[key]:
				hitAltered = true
				affected = append(affected, base[key].description)
			}
		}
		if !hitRemoved && !hitAltered {
			continue
		}
		kind := ImpactGenerico
		if hitRemoved && !hitAltered {
			kind = ImpactAtividadeRemovida
		} else if hitAltered && !hitRemoved {
			kind = ImpactAtividadeAlterada
		}
		sort.Strings(affected)
		report.Competencies = append(report.Competencies, CompetencyImpact{
			Description: strings.TrimSpace(comp.Description),
			Impact:      kind,
			Activities:  affected,
		})
	}

	sort.Slice(report.Inserted, func(i, j int) bool { return report.Inserted[i].Description < report.Inserted[j].Description })
	sort.Slice(report.Removed, func(i, j int) bool { return report.Removed[i].Description < report.Removed[j].Description })
	sort.Slice(report.Altered, func(i, j int) bool { return report.Altered[i].Description < report.Altered[j].Description })
	sort.Slice(report.Competencies, func(i, j int) bool { return report.Competencies[i].Description < report.Competencies[j].Description })

	report.InsertedCount = len(report.Inserted)
	report.RemovedCount = len(report.Removed)
	report.AlteredCount = len(report.Altered)
	report.CompetencyCount = len(report.Competencies)
	report.HasImpact = report.InsertedCount > 0 || report.RemovedCount > 0 ||
		report.AlteredCount > 0 || report.CompetencyCount > 0
	return report
}

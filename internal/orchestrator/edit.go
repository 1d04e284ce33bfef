package orchestrator

import (
	"strings"

	"scholarpilot.dev/core/internal/domain"
)

// editAddVerbs and editRemoveVerbs split editVerbs (intent.go) by effect,
// so ParseEditDirective and the EDIT classifier always agree on which
// leading words are recognized.
var editAddVerbs = []string{"add", "thêm", "agregar", "ajouter", "hinzufügen"}
var editRemoveVerbs = []string{"remove", "xóa", "quitar", "supprimer", "entfernen"}

// EditDirective is a parsed EDIT-intent message: an "add" or "remove" verb
// plus the target text.
type EditDirective struct {
	Kind  string
	Value string
}

// ParseEditDirective extracts the verb/value pair from a raw EDIT message,
// matching the verb against the message's first word so "add adapter
// tuning" yields {add, "adapter tuning"}.
func ParseEditDirective(text string) (EditDirective, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return EditDirective{}, false
	}
	verb := strings.ToLower(fields[0])
	value := strings.TrimSpace(strings.Join(fields[1:], " "))
	if value == "" {
		return EditDirective{}, false
	}
	for _, v := range editAddVerbs {
		if verb == v {
			return EditDirective{Kind: "add", Value: value}, true
		}
	}
	for _, v := range editRemoveVerbs {
		if verb == v {
			return EditDirective{Kind: "remove", Value: value}, true
		}
	}
	return EditDirective{}, false
}

// ApplyEdit mutates plan per the directive in place. "add" appends Value
// as a query to the first research step; "remove" drops queries matching
// Value (case-insensitive substring) from every step. Both directions are
// idempotent: re-issuing the same add when the value is already present,
// or the same remove when nothing matches, leaves the plan unchanged
// (spec.md §4.1's "edit events are idempotent on re-issue").
func ApplyEdit(plan *domain.ResearchPlan, d EditDirective) {
	switch d.Kind {
	case "add":
		applyAddEdit(plan, d.Value)
	case "remove":
		applyRemoveEdit(plan, d.Value)
	}
}

func applyAddEdit(plan *domain.ResearchPlan, value string) {
	for i := range plan.Steps {
		if plan.Steps[i].Action == domain.ActionResearch {
			addQueryOnce(&plan.Steps[i], value)
			return
		}
	}
	// No research step to attach to (the planner normally injects one);
	// fall back to the first step rather than silently dropping the edit.
	if len(plan.Steps) > 0 {
		addQueryOnce(&plan.Steps[0], value)
	}
}

func addQueryOnce(step *domain.ResearchStep, value string) {
	for _, q := range step.Queries {
		if strings.EqualFold(q, value) {
			return
		}
	}
	step.Queries = append(step.Queries, value)
}

func applyRemoveEdit(plan *domain.ResearchPlan, value string) {
	needle := strings.ToLower(value)
	for i := range plan.Steps {
		var kept []string
		for _, q := range plan.Steps[i].Queries {
			if !strings.Contains(strings.ToLower(q), needle) {
				kept = append(kept, q)
			}
		}
		plan.Steps[i].Queries = kept
	}
}

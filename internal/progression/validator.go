package progression

import (
	"fmt"
	"strings"

	"github.com/eventui/server/internal/geo"
	"github.com/eventui/server/pkg/core"
)

// ValidationResult separates hard errors, which reject a definition, from
// warnings, which are logged and accepted.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the definition may be registered.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns the hard errors as one error, or nil.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s", core.ErrInvalidDefinition, strings.Join(r.Errors, "; "))
}

// Validate checks a definition before it is registered.
func Validate(def *core.MissionDefinition) ValidationResult {
	var r ValidationResult

	if strings.TrimSpace(def.ID) == "" {
		r.Errors = append(r.Errors, "mission id is required")
	}
	if strings.TrimSpace(def.Title) == "" {
		r.Errors = append(r.Errors, "mission title is required")
	}
	if len(def.Objectives) == 0 {
		r.Errors = append(r.Errors, "mission must have at least one objective")
	}

	seen := make(map[string]bool, len(def.Objectives))
	for i, o := range def.Objectives {
		switch {
		case strings.TrimSpace(o.ID) == "":
			r.Errors = append(r.Errors, fmt.Sprintf("objective %d: id is required", i))
		case seen[o.ID]:
			r.Errors = append(r.Errors, fmt.Sprintf("objective %q: duplicate id", o.ID))
		}
		seen[o.ID] = true
		if o.Count <= 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("objective %q: count must be positive", o.ID))
		}
		if o.Kind == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("objective %q: kind is required", o.ID))
		}
		if o.Area != "" {
			if o.Kind != core.ObjectiveReachLocation {
				r.Warnings = append(r.Warnings, fmt.Sprintf("objective %q: area is only used by %s", o.ID, core.ObjectiveReachLocation))
			} else if _, err := geo.ParseArea(o.Area); err != nil {
				r.Errors = append(r.Errors, fmt.Sprintf("objective %q: %v", o.ID, err))
			}
		}
	}

	if strings.TrimSpace(def.Description) == "" {
		r.Warnings = append(r.Warnings, "mission description is empty")
	}
	if def.Repeatable && (def.Category == "" || def.Category == core.DefaultCategory) {
		r.Warnings = append(r.Warnings, "repeatable mission uses the general category")
	}
	for _, p := range def.Prerequisites {
		if p == def.ID {
			r.Errors = append(r.Errors, "mission lists itself as a prerequisite")
		}
	}

	return r
}

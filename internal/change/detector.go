// Package change detects field-level differences between a product's
// accepted data and a fresh extraction, producing append-only audit records.
package change

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/atelierdata/specpipe/internal/model"
)

var spaceRe = regexp.MustCompile(`\s+`)

// discontinuedMarkers are description phrases that signal a product has
// been withdrawn by the manufacturer.
var discontinuedMarkers = []string{
	"discontinued",
	"no longer available",
	"no longer in production",
	"out of production",
	"this product has been replaced",
	"obsolete",
}

// canonical normalizes a field value for comparison: trimmed, whitespace
// collapsed, case folded. Cosmetic differences are not changes.
// A Caser is stateful, so each call folds with its own.
func canonical(value string) string {
	value = strings.TrimSpace(value)
	value = spaceRe.ReplaceAllString(value, " ")
	return cases.Fold().String(value)
}

// Detect diffs two field sets for a product. Fields equal after
// canonicalization produce no record; the records that are produced carry
// the raw values for the audit trail.
func Detect(productID string, old, current model.Fields) []model.Change {
	var changes []model.Change

	for _, field := range model.SchemaFields {
		oldVal, hadOld := old[field]
		newVal, hasNew := current[field]
		hadOld = hadOld && strings.TrimSpace(oldVal) != ""
		hasNew = hasNew && strings.TrimSpace(newVal) != ""

		switch {
		case !hadOld && hasNew:
			changes = append(changes, model.NewChange(productID, field, "", newVal, model.ChangeAdded))
		case hadOld && !hasNew:
			changes = append(changes, model.NewChange(productID, field, oldVal, "", model.ChangeRemoved))
		case hadOld && hasNew && canonical(oldVal) != canonical(newVal):
			changes = append(changes, model.NewChange(productID, field, oldVal, newVal, model.ChangeModified))
		}
	}

	return changes
}

// ContentChanged reports whether two normalized content hashes differ. An
// empty prior hash means no baseline exists, which counts as changed.
func ContentChanged(oldHash, newHash string) bool {
	if oldHash == "" {
		return true
	}
	return oldHash != newHash
}

// IsDiscontinued checks the description for manufacturer-withdrawal
// language.
func IsDiscontinued(fields model.Fields) bool {
	desc := cases.Fold().String(fields[model.FieldDescription])
	for _, marker := range discontinuedMarkers {
		if strings.Contains(desc, marker) {
			return true
		}
	}
	return false
}

// Package specdoc parses checklist spec documents into tasks with stable,
// content-derived identities.
//
// Only lines of the form "- [ ] text" or "- [x] text" (optionally indented,
// "X" accepted) are tasks. Every other line is prose and is preserved by
// Document but ignored by Parse.
package specdoc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ShayCichocki/taskq/pkg/models"
)

var checklistLine = regexp.MustCompile(`^(\s*)-\s\[( |x|X)\]\s(.*)$`)

// Normalize trims a description and collapses internal whitespace runs to a
// single space. Whitespace is Unicode whitespace, so tabs and non-breaking
// spaces count.
func Normalize(description string) string {
	return strings.Join(strings.Fields(description), " ")
}

// IdentityHash returns the 8 hex character identity of a task description.
// Descriptions that normalize to the same string share a hash.
func IdentityHash(description string) string {
	sum := sha256.Sum256([]byte(Normalize(description)))
	return hex.EncodeToString(sum[:])[:models.IdentityHashLength]
}

// Parse extracts the ordered task list from a spec document.
func Parse(text string) ([]models.Task, error) {
	doc, err := ParseDocument(text)
	if err != nil {
		return nil, err
	}
	return doc.Tasks(), nil
}

// ToText renders tasks as checklist lines in their current order.
func ToText(tasks []models.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString(renderLine("", t.Completed, t.Description))
		b.WriteString("\n")
	}
	return b.String()
}

func renderLine(indent string, completed bool, description string) string {
	box := " "
	if completed {
		box = "x"
	}
	return fmt.Sprintf("%s- [%s] %s", indent, box, description)
}

// checkCollisions rejects documents in which two tasks share an identity.
// Identical descriptions and genuine 8-character hash collisions are both
// reported, since the reconciler could not tell the tasks apart.
func checkCollisions(tasks []models.Task) error {
	seen := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		prev, ok := seen[t.IdentityHash]
		if !ok {
			seen[t.IdentityHash] = t
			continue
		}
		reason := fmt.Sprintf("tasks %d and %d have the same description", prev.Index, t.Index)
		if Normalize(prev.Description) != Normalize(t.Description) {
			reason = fmt.Sprintf("tasks %d and %d collide on identity hash", prev.Index, t.Index)
		}
		return &models.ValidationError{Field: "task identity", Value: t.IdentityHash, Reason: reason}
	}
	return nil
}

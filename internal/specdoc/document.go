package specdoc

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/ShayCichocki/taskq/pkg/models"
)

// line is one physical line of the source document. taskIdx is -1 for prose.
type line struct {
	text    string
	indent  string
	taskIdx int
}

// Document is a parsed spec file that remembers its prose so checkbox edits
// can be written back without reformatting anything else.
type Document struct {
	lines         []line
	tasks         []models.Task
	trailingNewln bool
}

// ParseDocument parses text into a Document.
func ParseDocument(text string) (*Document, error) {
	doc := &Document{trailingNewln: strings.HasSuffix(text, "\n")}
	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	for _, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		m := checklistLine.FindStringSubmatch(l)
		if m == nil {
			doc.lines = append(doc.lines, line{text: l, taskIdx: -1})
			continue
		}
		desc := strings.TrimSpace(m[3])
		task := models.Task{
			Index:        len(doc.tasks) + 1,
			Description:  desc,
			Completed:    m[2] != " ",
			IdentityHash: IdentityHash(desc),
		}
		doc.lines = append(doc.lines, line{text: l, indent: m[1], taskIdx: len(doc.tasks)})
		doc.tasks = append(doc.tasks, task)
	}

	if len(doc.tasks) == 0 {
		return nil, &models.ValidationError{Field: "spec document", Reason: "no checklist items found"}
	}
	if err := checkCollisions(doc.tasks); err != nil {
		return nil, err
	}
	return doc, nil
}

// Load reads and parses a spec file.
func Load(fs afero.Fs, path string) (*Document, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", path, err)
	}
	doc, err := ParseDocument(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse spec %s: %w", path, err)
	}
	return doc, nil
}

// Save writes the document back to path.
func (d *Document) Save(fs afero.Fs, path string) error {
	if err := afero.WriteFile(fs, path, []byte(d.Text()), 0644); err != nil {
		return fmt.Errorf("write spec %s: %w", path, err)
	}
	return nil
}

// Tasks returns a copy of the tasks in document order.
func (d *Document) Tasks() []models.Task {
	out := make([]models.Task, len(d.tasks))
	copy(out, d.tasks)
	return out
}

// Find returns the task with the given identity hash.
func (d *Document) Find(hash string) (models.Task, bool) {
	for _, t := range d.tasks {
		if t.IdentityHash == hash {
			return t, true
		}
	}
	return models.Task{}, false
}

// MarkCompleted checks the box of the task with the given identity hash.
// Marking an already completed task is a no-op.
func (d *Document) MarkCompleted(hash string) (models.Task, error) {
	for i := range d.lines {
		idx := d.lines[i].taskIdx
		if idx < 0 || d.tasks[idx].IdentityHash != hash {
			continue
		}
		t := &d.tasks[idx]
		if !t.Completed {
			t.Completed = true
			d.lines[i].text = renderLine(d.lines[i].indent, true, t.Description)
		}
		return *t, nil
	}
	return models.Task{}, &models.NotFoundError{Kind: "task", Key: hash}
}

// Text renders the document, including prose, in its original layout.
func (d *Document) Text() string {
	parts := make([]string, len(d.lines))
	for i, l := range d.lines {
		parts[i] = l.text
	}
	out := strings.Join(parts, "\n")
	if d.trailingNewln {
		out += "\n"
	}
	return out
}

// Package journal captures issue snapshots and turns before/after pairs into
// ordered journal details.
package journal

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"voteline/internal/domain"
)

var ErrScopeClosed = errors.New("journal scope already committed")

type attr struct {
	key   string
	value *string
}

// Snapshot is an immutable copy of the journaled state of an issue.
type Snapshot struct {
	attrs  []attr
	custom map[string]string
}

// Capture copies the journaled fields of the issue. Identity, description,
// lock version and timestamps are not journaled.
func Capture(i domain.Issue) Snapshot {
	s := Snapshot{
		attrs: []attr{
			{"project_id", str(i.ProjectID)},
			{"tracker_id", str(i.TrackerID)},
			{"subject", str(i.Subject)},
			{"status_id", str(i.StatusID)},
			{"priority", str(i.Priority.String())},
			{"author_id", str(i.AuthorID)},
			{"assignee_id", copyStr(i.AssigneeID)},
			{"fixed_version_id", copyStr(i.FixedVersionID)},
			{"start_date", copyStr(i.StartDate)},
			{"due_date", copyStr(i.DueDate)},
			{"expected_date", copyStr(i.ExpectedDate)},
			{"done_ratio", str(strconv.Itoa(i.DoneRatio))},
			{"estimated_hours", float(i.EstimatedHours)},
			{"points", float(i.Points)},
			{"pri", str(strconv.Itoa(i.Pri))},
			{"agree", str(strconv.Itoa(i.Agree))},
			{"disagree", str(strconv.Itoa(i.Disagree))},
			{"agree_total", str(strconv.Itoa(i.AgreeTotal))},
			{"accept", str(strconv.Itoa(i.Accept))},
			{"reject", str(strconv.Itoa(i.Reject))},
			{"accept_total", str(strconv.Itoa(i.AcceptTotal))},
		},
		custom: make(map[string]string, len(i.CustomValues)),
	}
	for k, v := range i.CustomValues {
		s.custom[k] = v
	}
	return s
}

// Attr returns the captured value of a journaled attribute.
func (s Snapshot) Attr(key string) (*string, bool) {
	for _, a := range s.attrs {
		if a.key == key {
			return copyStr(a.value), true
		}
	}
	return nil, false
}

// Diff lists attribute changes in capture order followed by custom field
// changes sorted by field id. A blank custom value equals an absent one.
func Diff(before, after Snapshot) []domain.JournalDetail {
	var out []domain.JournalDetail
	for idx, a := range after.attrs {
		b := before.attrs[idx]
		if equalPtr(b.value, a.value) {
			continue
		}
		out = append(out, domain.JournalDetail{
			Property: domain.PropAttr,
			Key:      a.key,
			OldValue: copyStr(b.value),
			NewValue: copyStr(a.value),
		})
	}
	keys := map[string]bool{}
	for k := range before.custom {
		keys[k] = true
	}
	for k := range after.custom {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		old, hadOld := before.custom[k]
		cur, hasCur := after.custom[k]
		if blank(old) && blank(cur) {
			continue
		}
		if old == cur {
			continue
		}
		d := domain.JournalDetail{Property: domain.PropCustom, Key: k}
		if hadOld {
			d.OldValue = str(old)
		}
		if hasCur {
			d.NewValue = str(cur)
		}
		out = append(out, d)
	}
	return out
}

// Scope is an open change scope over one issue mutation.
type Scope struct {
	issueID string
	actorID string
	notes   string
	before  Snapshot
	extra   []domain.JournalDetail
	done    bool
}

// Begin snapshots the issue before it is mutated.
func Begin(before domain.Issue, actorID, notes string) *Scope {
	return &Scope{
		issueID: before.ID,
		actorID: actorID,
		notes:   notes,
		before:  Capture(before),
	}
}

func (s *Scope) ActorID() string { return s.actorID }
func (s *Scope) Notes() string   { return s.notes }

// Before returns the snapshot taken when the scope opened.
func (s *Scope) Before() Snapshot { return s.before }

// Add records a detail that is not derived from the attribute diff.
func (s *Scope) Add(d domain.JournalDetail) {
	s.extra = append(s.extra, d)
}

// Commit closes the scope and renders the journal. It returns nil when
// nothing changed and no notes were given.
func (s *Scope) Commit(after domain.Issue) (*domain.Journal, error) {
	if s.done {
		return nil, ErrScopeClosed
	}
	s.done = true
	details := append(Diff(s.before, Capture(after)), s.extra...)
	if len(details) == 0 && strings.TrimSpace(s.notes) == "" {
		return nil, nil
	}
	return &domain.Journal{
		IssueID: s.issueID,
		ActorID: s.actorID,
		Notes:   s.notes,
		Details: details,
	}, nil
}

// AttachmentRemoved is the detail recorded when an attachment is deleted.
func AttachmentRemoved(a domain.Attachment) domain.JournalDetail {
	return domain.JournalDetail{Property: domain.PropAttachment, Key: a.ID, OldValue: str(a.Filename)}
}

// AttachmentAdded is the detail recorded when an attachment is added.
func AttachmentAdded(a domain.Attachment) domain.JournalDetail {
	return domain.JournalDetail{Property: domain.PropAttachment, Key: a.ID, NewValue: str(a.Filename)}
}

func str(s string) *string { return &s }

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func float(p *float64) *string {
	if p == nil {
		return nil
	}
	return str(strconv.FormatFloat(*p, 'f', -1, 64))
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

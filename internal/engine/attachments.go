package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/events"
	"voteline/internal/journal"
)

// AddAttachment records a file on the issue. The journal entry is written at
// once and does not bump the issue's lock version.
func (e Engine) AddAttachment(ctx context.Context, issueID, filename, actorID string) (domain.Attachment, error) {
	var out domain.Attachment
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		issue, err := e.Repo.GetIssue(ctx, tx, issueID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", issueID, err)
		}
		if err := e.Auth.Require(ctx, tx, issue.ProjectID, actorID, config.PermAttach); err != nil {
			return err
		}
		name := filepath.Base(strings.TrimSpace(filename))
		if name == "" || name == "." || name == string(filepath.Separator) {
			var v validator
			v.add("filename", filename, RuleRequired)
			return v.err(issue.ID)
		}
		a := domain.Attachment{
			ID:        newID(),
			IssueID:   issue.ID,
			Filename:  name,
			AuthorID:  actorID,
			CreatedAt: e.timestamp(),
		}
		if err := e.Repo.EnsureActor(ctx, tx, actorID, a.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		j := &domain.Journal{IssueID: issue.ID, ActorID: actorID, Details: []domain.JournalDetail{journal.AttachmentAdded(a)}}
		if err := e.saveJournal(ctx, tx, j); err != nil {
			return err
		}
		if err := e.event(ctx, tx, events.AttachmentAdded, issue.ProjectID, "attachment", a.ID, actorID, events.EventPayload{
			"issue_id": issue.ID, "filename": a.Filename,
		}); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// RemoveAttachment deletes the attachment and journals the removal with the
// old filename.
func (e Engine) RemoveAttachment(ctx context.Context, attachmentID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		a, err := e.Repo.GetAttachment(ctx, tx, attachmentID)
		if err != nil {
			return fmt.Errorf("attachment %s: %w", attachmentID, err)
		}
		issue, err := e.Repo.GetIssue(ctx, tx, a.IssueID)
		if err != nil {
			return err
		}
		if err := e.Auth.Require(ctx, tx, issue.ProjectID, actorID, config.PermAttach); err != nil {
			return err
		}
		if err := e.Repo.DeleteAttachment(ctx, tx, a.ID); err != nil {
			return err
		}
		j := &domain.Journal{IssueID: issue.ID, ActorID: actorID, Details: []domain.JournalDetail{journal.AttachmentRemoved(a)}}
		if err := e.saveJournal(ctx, tx, j); err != nil {
			return err
		}
		return e.event(ctx, tx, events.AttachmentRemove, issue.ProjectID, "attachment", a.ID, actorID, events.EventPayload{
			"issue_id": issue.ID, "filename": a.Filename,
		})
	})
}

func (e Engine) Attachments(ctx context.Context, issueID string) ([]domain.Attachment, error) {
	return e.Repo.ListAttachments(ctx, nil, issueID)
}

type LogTimeOptions struct {
	IssueID string
	ActorID string
	Hours   float64
	// SpentOn defaults to today.
	SpentOn string
}

// LogTime books hours on the issue's current project.
func (e Engine) LogTime(ctx context.Context, opts LogTimeOptions) (domain.TimeEntry, error) {
	var out domain.TimeEntry
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		issue, err := e.Repo.GetIssue(ctx, tx, opts.IssueID)
		if err != nil {
			return fmt.Errorf("issue %s: %w", opts.IssueID, err)
		}
		if err := e.Auth.Require(ctx, tx, issue.ProjectID, opts.ActorID, config.PermLogTime); err != nil {
			return err
		}
		spent := opts.SpentOn
		if spent == "" {
			spent = e.today()
		}
		var v validator
		if opts.Hours <= 0 {
			v.add("hours", opts.Hours, RuleMustBePositive)
		}
		if !domain.ValidDate(spent) {
			v.add("spent_on", spent, RuleNotADate)
		}
		if err := v.err(issue.ID); err != nil {
			return err
		}
		te := domain.TimeEntry{
			ID:        newID(),
			IssueID:   issue.ID,
			ProjectID: issue.ProjectID,
			ActorID:   opts.ActorID,
			Hours:     opts.Hours,
			SpentOn:   spent,
			CreatedAt: e.timestamp(),
		}
		if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, te.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.InsertTimeEntry(ctx, tx, te); err != nil {
			return fmt.Errorf("insert time entry: %w", err)
		}
		if err := e.event(ctx, tx, events.TimeLogged, issue.ProjectID, "issue", issue.ID, opts.ActorID, events.EventPayload{
			"hours": te.Hours, "spent_on": te.SpentOn,
		}); err != nil {
			return err
		}
		out = te
		return nil
	})
	return out, err
}

// SpentHours sums the time logged on the issue.
func (e Engine) SpentHours(ctx context.Context, issueID string) (float64, error) {
	return e.Repo.SpentHours(ctx, nil, issueID)
}

func (e Engine) TimeEntries(ctx context.Context, issueID string) ([]domain.TimeEntry, error) {
	return e.Repo.ListTimeEntries(ctx, nil, issueID)
}

package repo

import (
	"context"

	"voteline/internal/domain"
)

func (r Repo) InsertAttachment(ctx context.Context, q Querier, a domain.Attachment) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO attachments(id,issue_id,filename,author_id,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.IssueID, a.Filename, a.AuthorID, a.CreatedAt)
	return err
}

func (r Repo) GetAttachment(ctx context.Context, q Querier, id string) (domain.Attachment, error) {
	var a domain.Attachment
	err := r.q(q).QueryRowContext(ctx, `SELECT id,issue_id,filename,author_id,created_at FROM attachments WHERE id=?`, id).
		Scan(&a.ID, &a.IssueID, &a.Filename, &a.AuthorID, &a.CreatedAt)
	return a, notFound(err)
}

func (r Repo) DeleteAttachment(ctx context.Context, q Querier, id string) error {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM attachments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAttachments(ctx context.Context, q Querier, issueID string) ([]domain.Attachment, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,issue_id,filename,author_id,created_at FROM attachments WHERE issue_id=? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.IssueID, &a.Filename, &a.AuthorID, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertTimeEntry(ctx context.Context, q Querier, te domain.TimeEntry) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO time_entries(id,issue_id,project_id,actor_id,hours,spent_on,created_at) VALUES (?,?,?,?,?,?,?)`,
		te.ID, te.IssueID, te.ProjectID, te.ActorID, te.Hours, te.SpentOn, te.CreatedAt)
	return err
}

func (r Repo) ListTimeEntries(ctx context.Context, q Querier, issueID string) ([]domain.TimeEntry, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,issue_id,project_id,actor_id,hours,spent_on,created_at FROM time_entries WHERE issue_id=? ORDER BY spent_on, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEntry
	for rows.Next() {
		var te domain.TimeEntry
		if err := rows.Scan(&te.ID, &te.IssueID, &te.ProjectID, &te.ActorID, &te.Hours, &te.SpentOn, &te.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, te)
	}
	return res, rows.Err()
}

// MoveTimeEntries re-points the issue's time entries at a new project.
func (r Repo) MoveTimeEntries(ctx context.Context, q Querier, issueID, projectID string) error {
	_, err := r.q(q).ExecContext(ctx, `UPDATE time_entries SET project_id=? WHERE issue_id=?`, projectID, issueID)
	return err
}

func (r Repo) SpentHours(ctx context.Context, q Querier, issueID string) (float64, error) {
	var h float64
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(SUM(hours),0) FROM time_entries WHERE issue_id=?`, issueID).Scan(&h)
	return h, err
}

package repo

import (
	"context"
	"database/sql"

	"voteline/internal/domain"
)

// InsertJournal appends a journal and its details in order.
func (r Repo) InsertJournal(ctx context.Context, q Querier, j domain.Journal) error {
	qq := r.q(q)
	var seq int
	if err := qq.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM journals WHERE issue_id=?`, j.IssueID).Scan(&seq); err != nil {
		return err
	}
	if _, err := qq.ExecContext(ctx, `INSERT INTO journals(id,issue_id,actor_id,notes,created_at,seq) VALUES (?,?,?,?,?,?)`,
		j.ID, j.IssueID, j.ActorID, j.Notes, j.CreatedAt, seq); err != nil {
		return err
	}
	for pos, d := range j.Details {
		if _, err := qq.ExecContext(ctx, `INSERT INTO journal_details(journal_id,position,property,prop_key,old_value,new_value) VALUES (?,?,?,?,?,?)`,
			j.ID, pos, d.Property, d.Key, nullableDetail(d.OldValue), nullableDetail(d.NewValue)); err != nil {
			return err
		}
	}
	return nil
}

// nullableDetail keeps empty strings: a blank old value differs from none.
func nullableDetail(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// ListJournals returns the issue's journals oldest first with their details.
func (r Repo) ListJournals(ctx context.Context, q Querier, issueID string) ([]domain.Journal, error) {
	qq := r.q(q)
	rows, err := qq.QueryContext(ctx, `SELECT id,issue_id,actor_id,notes,created_at FROM journals WHERE issue_id=? ORDER BY seq`, issueID)
	if err != nil {
		return nil, err
	}
	var res []domain.Journal
	for rows.Next() {
		var j domain.Journal
		if err := rows.Scan(&j.ID, &j.IssueID, &j.ActorID, &j.Notes, &j.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, j)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for idx := range res {
		details, err := r.journalDetails(ctx, qq, res[idx].ID)
		if err != nil {
			return nil, err
		}
		res[idx].Details = details
	}
	return res, nil
}

func (r Repo) journalDetails(ctx context.Context, q Querier, journalID string) ([]domain.JournalDetail, error) {
	rows, err := q.QueryContext(ctx, `SELECT property,prop_key,old_value,new_value FROM journal_details WHERE journal_id=? ORDER BY position`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := []domain.JournalDetail{}
	for rows.Next() {
		var d domain.JournalDetail
		var old, cur sql.NullString
		if err := rows.Scan(&d.Property, &d.Key, &old, &cur); err != nil {
			return nil, err
		}
		d.OldValue = stringPtr(old)
		d.NewValue = stringPtr(cur)
		details = append(details, d)
	}
	return details, rows.Err()
}

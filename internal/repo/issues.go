package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"voteline/internal/domain"
)

const issueCols = `id,project_id,tracker_id,subject,description,status_id,priority,author_id,assignee_id,fixed_version_id,
start_date,due_date,expected_date,done_ratio,estimated_hours,points,pri,agree,disagree,agree_total,accept,reject,accept_total,
lock_version,created_at,updated_at`

func scanIssue(row scanner) (domain.Issue, error) {
	var i domain.Issue
	var assignee, version, start, due, expected sql.NullString
	var hours, points sql.NullFloat64
	var priority int
	err := row.Scan(&i.ID, &i.ProjectID, &i.TrackerID, &i.Subject, &i.Description, &i.StatusID, &priority, &i.AuthorID,
		&assignee, &version, &start, &due, &expected, &i.DoneRatio, &hours, &points, &i.Pri,
		&i.Agree, &i.Disagree, &i.AgreeTotal, &i.Accept, &i.Reject, &i.AcceptTotal,
		&i.LockVersion, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return i, notFound(err)
	}
	i.Priority = domain.Priority(priority)
	i.AssigneeID = stringPtr(assignee)
	i.FixedVersionID = stringPtr(version)
	i.StartDate = stringPtr(start)
	i.DueDate = stringPtr(due)
	i.ExpectedDate = stringPtr(expected)
	i.EstimatedHours = floatPtr(hours)
	i.Points = floatPtr(points)
	return i, nil
}

func (r Repo) InsertIssue(ctx context.Context, q Querier, i domain.Issue) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO issues(`+issueCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.ProjectID, i.TrackerID, i.Subject, i.Description, i.StatusID, int(i.Priority), i.AuthorID,
		nullableStringPtr(i.AssigneeID), nullableStringPtr(i.FixedVersionID),
		nullableStringPtr(i.StartDate), nullableStringPtr(i.DueDate), nullableStringPtr(i.ExpectedDate),
		i.DoneRatio, nullableFloatPtr(i.EstimatedHours), nullableFloatPtr(i.Points), i.Pri,
		i.Agree, i.Disagree, i.AgreeTotal, i.Accept, i.Reject, i.AcceptTotal,
		i.LockVersion, i.CreatedAt, i.UpdatedAt)
	return err
}

// UpdateIssue writes every column guarded by the optimistic lock: the row
// must still carry expectedLock. It reports whether a row was updated.
func (r Repo) UpdateIssue(ctx context.Context, q Querier, i domain.Issue, expectedLock int) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE issues SET project_id=?, tracker_id=?, subject=?, description=?, status_id=?, priority=?,
author_id=?, assignee_id=?, fixed_version_id=?, start_date=?, due_date=?, expected_date=?, done_ratio=?, estimated_hours=?,
points=?, pri=?, agree=?, disagree=?, agree_total=?, accept=?, reject=?, accept_total=?, lock_version=?, updated_at=?
WHERE id=? AND lock_version=?`,
		i.ProjectID, i.TrackerID, i.Subject, i.Description, i.StatusID, int(i.Priority),
		i.AuthorID, nullableStringPtr(i.AssigneeID), nullableStringPtr(i.FixedVersionID),
		nullableStringPtr(i.StartDate), nullableStringPtr(i.DueDate), nullableStringPtr(i.ExpectedDate),
		i.DoneRatio, nullableFloatPtr(i.EstimatedHours), nullableFloatPtr(i.Points), i.Pri,
		i.Agree, i.Disagree, i.AgreeTotal, i.Accept, i.Reject, i.AcceptTotal,
		i.LockVersion, i.UpdatedAt, i.ID, expectedLock)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetIssue loads an issue with its custom values.
func (r Repo) GetIssue(ctx context.Context, q Querier, id string) (domain.Issue, error) {
	i, err := scanIssue(r.q(q).QueryRowContext(ctx, `SELECT `+issueCols+` FROM issues WHERE id=?`, id))
	if err != nil {
		return i, err
	}
	cv, err := r.CustomValues(ctx, q, id)
	if err != nil {
		return i, err
	}
	i.CustomValues = cv
	return i, nil
}

func (r Repo) IssueExists(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT 1 FROM issues WHERE id=?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type IssueFilters struct {
	ProjectID      string
	StatusID       string
	AssigneeID     string
	FixedVersionID string
	Limit          int
}

func (r Repo) ListIssues(ctx context.Context, q Querier, f IssueFilters) ([]domain.Issue, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StatusID != "" {
		clauses = append(clauses, "status_id=?")
		args = append(args, f.StatusID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.FixedVersionID != "" {
		clauses = append(clauses, "fixed_version_id=?")
		args = append(args, f.FixedVersionID)
	}
	query := `SELECT ` + issueCols + ` FROM issues`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// IssuesWithForeignVersion lists issues whose fixed version belongs to another
// project and is not shared system wide. Only these can lose their version on
// a sharing or hierarchy change.
func (r Repo) IssuesWithForeignVersion(ctx context.Context, q Querier, versionID string) ([]string, error) {
	query := `SELECT i.id FROM issues i JOIN versions v ON v.id=i.fixed_version_id
WHERE i.project_id <> v.project_id AND v.sharing <> 'system'`
	var args []any
	if versionID != "" {
		query += ` AND v.id=?`
		args = append(args, versionID)
	}
	query += ` ORDER BY i.created_at, i.id`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// DeleteIssue removes the issue and everything hanging off it.
func (r Repo) DeleteIssue(ctx context.Context, q Querier, id string) error {
	qq := r.q(q)
	if _, err := qq.ExecContext(ctx, `DELETE FROM relations WHERE from_id=? OR to_id=?`, id, id); err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM journal_details WHERE journal_id IN (SELECT id FROM journals WHERE issue_id=?)`,
		`DELETE FROM journals WHERE issue_id=?`,
		`DELETE FROM votes WHERE issue_id=?`,
		`DELETE FROM custom_values WHERE issue_id=?`,
		`DELETE FROM attachments WHERE issue_id=?`,
		`DELETE FROM time_entries WHERE issue_id=?`,
	} {
		if _, err := qq.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	res, err := qq.ExecContext(ctx, `DELETE FROM issues WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CustomValues(ctx context.Context, q Querier, issueID string) (map[string]string, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT field_id,value FROM custom_values WHERE issue_id=?`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ReplaceCustomValues stores exactly the given values for the issue.
func (r Repo) ReplaceCustomValues(ctx context.Context, q Querier, issueID string, values map[string]string) error {
	qq := r.q(q)
	if _, err := qq.ExecContext(ctx, `DELETE FROM custom_values WHERE issue_id=?`, issueID); err != nil {
		return err
	}
	for k, v := range values {
		if _, err := qq.ExecContext(ctx, `INSERT INTO custom_values(issue_id,field_id,value) VALUES (?,?,?)`, issueID, k, v); err != nil {
			return err
		}
	}
	return nil
}

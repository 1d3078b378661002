package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voteline/internal/config"
	"voteline/internal/db"
	"voteline/internal/domain"
	"voteline/internal/engine"
	"voteline/internal/engine/auth"
	"voteline/internal/migrate"
	"voteline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	_, err = eng.CreateProject(ctx, engine.CreateProjectOptions{ID: "p1", Name: "main", ActorID: "alice"})
	require.NoError(t, err, "create project")
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) issue(t *testing.T, opts engine.CreateIssueOptions) domain.Issue {
	t.Helper()
	if opts.ProjectID == "" {
		opts.ProjectID = "p1"
	}
	if opts.TrackerID == "" {
		opts.TrackerID = "feature"
	}
	if opts.Subject == "" {
		opts.Subject = "work item"
	}
	if opts.ActorID == "" {
		opts.ActorID = "alice"
	}
	i, err := env.Engine.CreateIssue(env.Ctx, opts)
	require.NoError(t, err, "create issue")
	return i
}

func (env testEnv) reload(t *testing.T, id string) domain.Issue {
	t.Helper()
	i, err := env.Engine.GetIssue(env.Ctx, id)
	require.NoError(t, err)
	return i
}

func (env testEnv) setStatus(id, status, actor, notes string) (domain.Issue, *domain.Journal, error) {
	return env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		IssueID: id,
		ActorID: actor,
		Notes:   notes,
		Changes: engine.IssueChanges{StatusID: &status},
	})
}

func (env testEnv) lastJournal(t *testing.T, id string) domain.Journal {
	t.Helper()
	js, err := env.Engine.Journals(env.Ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, js)
	return js[len(js)-1]
}

func strPtr(s string) *string { return &s }

func requireRule(t *testing.T, err error, field, rule string) {
	t.Helper()
	var ve *engine.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	assert.True(t, ve.HasRule(field, rule), "missing %s/%s in %v", field, rule, ve)
}

func TestCreateIssueRecordsAuthorJoin(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{Subject: "Add export"})

	assert.Equal(t, "new", i.StatusID)
	assert.Equal(t, domain.PriorityNormal, i.Priority)
	assert.Equal(t, 0, i.LockVersion)

	vs, err := env.Engine.Votes(env.Ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, domain.VoteJoin, vs[0].Kind)
	assert.Equal(t, "alice", vs[0].ActorID)

	js, err := env.Engine.Journals(env.Ctx, i.ID)
	require.NoError(t, err)
	assert.Empty(t, js)
}

func TestCreateIssueValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{
		ProjectID:    "p1",
		TrackerID:    "feature",
		Subject:      "  ",
		StartDate:    "2024-01-05",
		DueDate:      "2024-01-01",
		CustomValues: map[string]string{"severity": "high"},
		ActorID:      "alice",
	})
	requireRule(t, err, "subject", engine.RuleRequired)
	requireRule(t, err, "due_date", engine.RuleAfterStart)
	requireRule(t, err, "custom_values.severity", engine.RuleNotApplicable)
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))
}

func TestMutationJournalsAttributesThenCustomFields(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{Subject: "Old", CustomValues: map[string]string{"component": "ui"}})

	out, j, err := env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		IssueID: i.ID,
		ActorID: "alice",
		Notes:   "rename",
		Changes: engine.IssueChanges{
			Subject:      strPtr("New"),
			CustomValues: map[string]string{"component": "api"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.LockVersion)
	assert.Equal(t, "api", out.CustomValues["component"])

	require.NotNil(t, j)
	assert.Equal(t, "rename", j.Notes)
	require.Len(t, j.Details, 2)
	assert.Equal(t, domain.PropAttr, j.Details[0].Property)
	assert.Equal(t, "subject", j.Details[0].Key)
	assert.Equal(t, "Old", *j.Details[0].OldValue)
	assert.Equal(t, "New", *j.Details[0].NewValue)
	assert.Equal(t, domain.PropCustom, j.Details[1].Property)
	assert.Equal(t, "component", j.Details[1].Key)
	assert.Equal(t, "ui", *j.Details[1].OldValue)
	assert.Equal(t, "api", *j.Details[1].NewValue)

	stored := env.lastJournal(t, i.ID)
	assert.Equal(t, j.Details, stored.Details)
	assert.Equal(t, "alice", stored.ActorID)
}

func TestEmptyMutationWritesNoJournal(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})

	_, j, err := env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{IssueID: i.ID, ActorID: "alice"})
	require.NoError(t, err)
	assert.Nil(t, j)

	_, j, err = env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{IssueID: i.ID, ActorID: "alice", Notes: "just a note"})
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Empty(t, j.Details)
}

func TestStaleLockVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})
	_, _, err := env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		IssueID: i.ID, ActorID: "alice", Changes: engine.IssueChanges{Subject: strPtr("first")},
	})
	require.NoError(t, err)

	stale := 0
	_, _, err = env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		IssueID: i.ID, ActorID: "alice", LockVersion: &stale, Changes: engine.IssueChanges{Subject: strPtr("second")},
	})
	var ce *engine.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, ce.Expected)
	assert.Equal(t, 1, ce.Actual)
	assert.Equal(t, engine.KindConflict, engine.KindOf(err))
	assert.Equal(t, "first", env.reload(t, i.ID).Subject)
}

func TestWorkflowViolation(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.AssignRole(env.Ctx, "p1", "bob", "member", "alice"))
	i := env.issue(t, engine.CreateIssueOptions{})

	_, _, err := env.setStatus(i.ID, "open", "bob", "")
	var we *engine.WorkflowError
	require.True(t, errors.As(err, &we), "got %v", err)
	assert.Equal(t, "new", we.From)
	assert.Equal(t, "open", we.To)
	assert.Equal(t, engine.KindWorkflow, engine.KindOf(err))

	out, _, err := env.setStatus(i.ID, "canceled", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "canceled", out.StatusID)
}

func TestAllowedNextStatusesFollowRoles(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.AssignRole(env.Ctx, "p1", "bob", "member", "alice"))
	i := env.issue(t, engine.CreateIssueOptions{})

	statuses, err := env.Engine.AllowedNextStatuses(env.Ctx, i.ID, "bob")
	require.NoError(t, err)
	var ids []string
	for _, s := range statuses {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"new", "canceled"}, ids)
}

func TestUnknownActorIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{
		ProjectID: "p1", TrackerID: "feature", Subject: "x", ActorID: "carol",
	})
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, config.PermAddIssues, fe.Permission)
	assert.Equal(t, engine.KindForbidden, engine.KindOf(err))
}

func TestBlockedIssueCannotClose(t *testing.T) {
	env := newTestEnv(t)
	blocker := env.issue(t, engine.CreateIssueOptions{Subject: "blocker"})
	blocked := env.issue(t, engine.CreateIssueOptions{Subject: "blocked"})
	_, err := env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{
		FromID: blocker.ID, ToID: blocked.ID, Kind: domain.RelBlocks, ActorID: "alice",
	})
	require.NoError(t, err)

	isBlocked, err := env.Engine.IsBlocked(env.Ctx, blocked.ID)
	require.NoError(t, err)
	assert.True(t, isBlocked)

	_, _, err = env.setStatus(blocked.ID, "canceled", "alice", "")
	assert.Equal(t, engine.KindWorkflow, engine.KindOf(err))

	_, _, err = env.setStatus(blocker.ID, "canceled", "alice", "")
	require.NoError(t, err)
	isBlocked, err = env.Engine.IsBlocked(env.Ctx, blocked.ID)
	require.NoError(t, err)
	assert.False(t, isBlocked)

	_, _, err = env.setStatus(blocked.ID, "canceled", "alice", "")
	require.NoError(t, err)
	closed, err := env.Engine.IsClosed(env.Ctx, blocked.ID)
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestVotesDriveStatus(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})

	out, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "alice", Kind: domain.VoteEstimate, Points: 2})
	require.NoError(t, err)
	assert.Equal(t, "new", out.StatusID)
	require.NotNil(t, out.Points)
	assert.InDelta(t, 2.0, *out.Points, 0.0001)

	out, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "alice", Kind: domain.VoteAgree, Points: 1})
	require.NoError(t, err)
	assert.Equal(t, "open", out.StatusID)
	assert.Equal(t, 1, out.AgreeTotal)

	out, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "alice", Kind: domain.VoteAccept, Points: 1})
	require.NoError(t, err)
	assert.Equal(t, "accepted", out.StatusID)

	js, err := env.Engine.Journals(env.Ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, js, 2)
	for _, j := range js {
		assert.Equal(t, "alice", j.ActorID)
	}
	assert.Equal(t, "status_id", js[1].Details[0].Key)
	assert.Equal(t, "accepted", *js[1].Details[0].NewValue)
}

func TestVoteValidation(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})

	_, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "alice", Kind: domain.VoteAgree, Points: 2})
	requireRule(t, err, "points", engine.RuleBinaryVote)

	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "alice", Kind: domain.VoteEstimate, Points: -3})
	requireRule(t, err, "points", engine.RuleNegativeEstimate)

	_, err = env.Engine.RetractVote(env.Ctx, i.ID, "alice", domain.VoteJoin)
	requireRule(t, err, "kind", engine.RuleInvalid)
}

func TestRetractVoteRecomputes(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})
	_, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "alice", Kind: domain.VoteEstimate, Points: 1})
	require.NoError(t, err)
	out, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "alice", Kind: domain.VoteAgree, Points: 1})
	require.NoError(t, err)
	require.Equal(t, "open", out.StatusID)

	out, err = env.Engine.RetractVote(env.Ctx, i.ID, "alice", domain.VoteAgree)
	require.NoError(t, err)
	assert.Equal(t, 0, out.AgreeTotal)
	assert.Equal(t, "new", out.StatusID)
}

func TestReopenOntoClosedVersionFails(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.CreateVersionOptions{ProjectID: "p1", Name: "1.0", ActorID: "alice"})
	require.NoError(t, err)
	i := env.issue(t, engine.CreateIssueOptions{FixedVersionID: v.ID})

	_, _, err = env.setStatus(i.ID, "canceled", "alice", "")
	require.NoError(t, err)
	_, err = env.Engine.UpdateVersionStatus(env.Ctx, v.ID, domain.VersionClosed, "alice")
	require.NoError(t, err)

	_, _, err = env.setStatus(i.ID, "new", "alice", "")
	requireRule(t, err, "fixed_version_id", engine.RuleReopenClosed)
	assert.Equal(t, "canceled", env.reload(t, i.ID).StatusID)
}

func TestClosingIssueClosesDuplicates(t *testing.T) {
	env := newTestEnv(t)
	a := env.issue(t, engine.CreateIssueOptions{Subject: "a"})
	b := env.issue(t, engine.CreateIssueOptions{Subject: "b"})
	for _, pair := range [][2]string{{b.ID, a.ID}, {a.ID, b.ID}} {
		_, err := env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{
			FromID: pair[0], ToID: pair[1], Kind: domain.RelDuplicates, ActorID: "alice",
		})
		require.NoError(t, err)
	}

	_, _, err := env.setStatus(a.ID, "canceled", "alice", "won't do")
	require.NoError(t, err)

	dup := env.reload(t, b.ID)
	assert.Equal(t, "canceled", dup.StatusID)
	assert.Equal(t, 1, dup.LockVersion)
	j := env.lastJournal(t, b.ID)
	assert.Equal(t, "alice", j.ActorID)
	assert.Equal(t, "won't do", j.Notes)

	// the cycle back to a does not touch it a second time
	assert.Equal(t, 1, env.reload(t, a.ID).LockVersion)
}

func TestClosingIssueClosesEveryDuplicate(t *testing.T) {
	env := newTestEnv(t)
	a := env.issue(t, engine.CreateIssueOptions{Subject: "a"})
	b := env.issue(t, engine.CreateIssueOptions{Subject: "b"})
	c := env.issue(t, engine.CreateIssueOptions{Subject: "c"})
	for _, dup := range []string{b.ID, c.ID} {
		_, err := env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{
			FromID: dup, ToID: a.ID, Kind: domain.RelDuplicates, ActorID: "alice",
		})
		require.NoError(t, err)
	}

	_, _, err := env.setStatus(a.ID, "canceled", "alice", "fixed")
	require.NoError(t, err)

	for _, id := range []string{b.ID, c.ID} {
		assert.Equal(t, "canceled", env.reload(t, id).StatusID)
		js, err := env.Engine.Journals(env.Ctx, id)
		require.NoError(t, err)
		require.Len(t, js, 1, "one journal for %s", id)
		assert.Equal(t, "alice", js[0].ActorID)
		assert.Equal(t, "fixed", js[0].Notes)
	}
}

func TestCascadeFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	original := env.issue(t, engine.CreateIssueOptions{Subject: "original"})
	dup := env.issue(t, engine.CreateIssueOptions{Subject: "dup", TrackerID: "chore"})
	_, err := env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{
		FromID: dup.ID, ToID: original.ID, Kind: domain.RelDuplicates, ActorID: "alice",
	})
	require.NoError(t, err)

	// The duplicate's tracker leaves the catalog, so it can no longer be saved.
	env.Engine.Config.Trackers = env.Engine.Config.Trackers[:2]

	_, _, err = env.setStatus(original.ID, "canceled", "alice", "")
	var ce *engine.CascadeError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, original.ID, ce.IssueID)
	assert.Equal(t, dup.ID, ce.DependentID)
	assert.Equal(t, engine.KindCascade, engine.KindOf(err))

	after := env.reload(t, original.ID)
	assert.Equal(t, "new", after.StatusID)
	assert.Equal(t, 0, after.LockVersion)
	js, err := env.Engine.Journals(env.Ctx, original.ID)
	require.NoError(t, err)
	assert.Empty(t, js)
}

func TestPrecedesReschedulesSuccessor(t *testing.T) {
	env := newTestEnv(t)
	a := env.issue(t, engine.CreateIssueOptions{Subject: "a", StartDate: "2024-01-01", DueDate: "2024-01-05"})
	b := env.issue(t, engine.CreateIssueOptions{Subject: "b", StartDate: "2024-01-02", DueDate: "2024-01-04"})
	delay := 1
	_, err := env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{
		FromID: a.ID, ToID: b.ID, Kind: domain.RelPrecedes, Delay: &delay, ActorID: "alice",
	})
	require.NoError(t, err)

	got := env.reload(t, b.ID)
	assert.Equal(t, "2024-01-07", *got.StartDate)
	assert.Equal(t, "2024-01-09", *got.DueDate)

	_, _, err = env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		IssueID: a.ID, ActorID: "alice", Changes: engine.IssueChanges{DueDate: strPtr("2024-01-10")},
	})
	require.NoError(t, err)
	got = env.reload(t, b.ID)
	assert.Equal(t, "2024-01-12", *got.StartDate)
	assert.Equal(t, "2024-01-14", *got.DueDate)

	j := env.lastJournal(t, b.ID)
	assert.Equal(t, "alice", j.ActorID)
	assert.Empty(t, j.Notes)

	soonest, err := env.Engine.SoonestStart(env.Ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, soonest)
	assert.Equal(t, "2024-01-12", *soonest)

	_, _, err = env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		IssueID: b.ID, ActorID: "alice", Changes: engine.IssueChanges{StartDate: strPtr("2024-01-03")},
	})
	requireRule(t, err, "start_date", engine.RuleSoonestStart)
}

func TestRelationValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.issue(t, engine.CreateIssueOptions{Subject: "a"})
	b := env.issue(t, engine.CreateIssueOptions{Subject: "b"})
	_, err := env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{FromID: a.ID, ToID: b.ID, Kind: domain.RelPrecedes, ActorID: "alice"})
	require.NoError(t, err)

	_, err = env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{FromID: a.ID, ToID: b.ID, Kind: domain.RelPrecedes, ActorID: "alice"})
	requireRule(t, err, "to_id", engine.RuleTaken)

	_, err = env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{FromID: b.ID, ToID: a.ID, Kind: domain.RelBlocks, ActorID: "alice"})
	requireRule(t, err, "to_id", engine.RuleCircular)

	_, err = env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "p2", Name: "other", ActorID: "alice"})
	require.NoError(t, err)
	c := env.issue(t, engine.CreateIssueOptions{ProjectID: "p2"})
	_, err = env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{FromID: a.ID, ToID: c.ID, Kind: domain.RelRelates, ActorID: "alice"})
	requireRule(t, err, "to_id", engine.RuleCrossProject)

	deps, err := env.Engine.DependentIssues(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, deps)
}

func TestMoveClearsUnsharedVersionAndSeversRelations(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "p2", Name: "other", ActorID: "alice"})
	require.NoError(t, err)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.CreateVersionOptions{ProjectID: "p1", Name: "1.0", ActorID: "alice"})
	require.NoError(t, err)
	i := env.issue(t, engine.CreateIssueOptions{FixedVersionID: v.ID})
	other := env.issue(t, engine.CreateIssueOptions{Subject: "other"})
	_, err = env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{FromID: i.ID, ToID: other.ID, Kind: domain.RelRelates, ActorID: "alice"})
	require.NoError(t, err)
	_, err = env.Engine.LogTime(env.Ctx, engine.LogTimeOptions{IssueID: i.ID, ActorID: "alice", Hours: 2})
	require.NoError(t, err)

	moved, err := env.Engine.MoveOrCopy(env.Ctx, engine.MoveOptions{IssueID: i.ID, ProjectID: "p2", ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, i.ID, moved.ID)
	assert.Equal(t, "p2", moved.ProjectID)
	assert.Nil(t, moved.FixedVersionID)

	rels, err := env.Engine.Relations(env.Ctx, i.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	entries, err := env.Engine.TimeEntries(env.Ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p2", entries[0].ProjectID)

	j := env.lastJournal(t, i.ID)
	var keys []string
	for _, d := range j.Details {
		keys = append(keys, d.Key)
	}
	assert.Equal(t, []string{"project_id", "fixed_version_id"}, keys)
}

func TestCopyLeavesSourceUntouched(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "p2", Name: "other", ActorID: "alice"})
	require.NoError(t, err)
	src := env.issue(t, engine.CreateIssueOptions{Subject: "template", CustomValues: map[string]string{"component": "api"}})
	sibling := env.issue(t, engine.CreateIssueOptions{Subject: "sibling"})
	_, err = env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{FromID: src.ID, ToID: sibling.ID, Kind: domain.RelRelates, ActorID: "alice"})
	require.NoError(t, err)

	cp, err := env.Engine.MoveOrCopy(env.Ctx, engine.MoveOptions{
		IssueID: src.ID, ProjectID: "p2", Copy: true, ActorID: "alice",
		Attributes: engine.IssueChanges{Subject: strPtr("copy")},
	})
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, cp.ID)
	assert.Equal(t, "p2", cp.ProjectID)
	assert.Equal(t, "copy", cp.Subject)
	assert.Equal(t, "alice", cp.AuthorID)
	assert.Equal(t, "api", cp.CustomValues["component"])

	orig := env.reload(t, src.ID)
	assert.Equal(t, "p1", orig.ProjectID)
	assert.Equal(t, "template", orig.Subject)
	assert.Equal(t, 0, orig.LockVersion)

	rels, err := env.Engine.Relations(env.Ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, sibling.ID, rels[0].ToID)
	rels, err = env.Engine.Relations(env.Ctx, cp.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestCopyRederivesVoteStatus(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "p2", Name: "other", ActorID: "alice"})
	require.NoError(t, err)
	src := env.issue(t, engine.CreateIssueOptions{})
	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: src.ID, ActorID: "alice", Kind: domain.VoteEstimate, Points: 2})
	require.NoError(t, err)
	src, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: src.ID, ActorID: "alice", Kind: domain.VoteAgree, Points: 1})
	require.NoError(t, err)
	require.Equal(t, "open", src.StatusID)

	cp, err := env.Engine.MoveOrCopy(env.Ctx, engine.MoveOptions{IssueID: src.ID, ProjectID: "p2", Copy: true, ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "new", cp.StatusID, "the copy carries no agree votes")
	assert.Equal(t, 0, cp.AgreeTotal)
	assert.Nil(t, cp.Points)
	assert.Equal(t, "open", env.reload(t, src.ID).StatusID)

	cp, err = env.Engine.MoveOrCopy(env.Ctx, engine.MoveOptions{
		IssueID: src.ID, ProjectID: "p2", Copy: true, ActorID: "alice",
		Attributes: engine.IssueChanges{StatusID: strPtr("canceled")},
	})
	require.NoError(t, err)
	assert.Equal(t, "canceled", cp.StatusID)
}

func TestSharingChangeClearsVersions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "child", Name: "child", ParentID: "p1", ActorID: "alice"})
	require.NoError(t, err)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.CreateVersionOptions{
		ProjectID: "p1", Name: "shared", Sharing: domain.SharingDescendants, ActorID: "alice",
	})
	require.NoError(t, err)
	i := env.issue(t, engine.CreateIssueOptions{ProjectID: "child", FixedVersionID: v.ID})

	assignable, err := env.Engine.AssignableVersions(env.Ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, assignable, 1)

	_, err = env.Engine.SetVersionSharing(env.Ctx, v.ID, domain.SharingNone, "alice")
	require.NoError(t, err)

	got := env.reload(t, i.ID)
	assert.Nil(t, got.FixedVersionID)
	js, err := env.Engine.Journals(env.Ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, js, 1)
	require.Len(t, js[0].Details, 1)
	assert.Equal(t, "fixed_version_id", js[0].Details[0].Key)
	assert.Equal(t, v.ID, *js[0].Details[0].OldValue)
	assert.Nil(t, js[0].Details[0].NewValue)
}

func TestHierarchyChangeClearsVersions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "child", Name: "child", ParentID: "p1", ActorID: "alice"})
	require.NoError(t, err)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.CreateVersionOptions{
		ProjectID: "p1", Name: "tree", Sharing: domain.SharingTree, ActorID: "alice",
	})
	require.NoError(t, err)
	i := env.issue(t, engine.CreateIssueOptions{ProjectID: "child", FixedVersionID: v.ID})

	err = env.Engine.SetProjectParent(env.Ctx, "p1", "child", "alice")
	requireRule(t, err, "parent_id", engine.RuleCircular)

	require.NoError(t, env.Engine.SetProjectParent(env.Ctx, "child", "", "alice"))
	assert.Nil(t, env.reload(t, i.ID).FixedVersionID)
}

func TestAttachmentsAreJournaled(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})

	a, err := env.Engine.AddAttachment(env.Ctx, i.ID, "/tmp/report.pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", a.Filename)
	require.NoError(t, env.Engine.RemoveAttachment(env.Ctx, a.ID, "alice"))

	js, err := env.Engine.Journals(env.Ctx, i.ID)
	require.NoError(t, err)
	require.Len(t, js, 2)
	added, removed := js[0].Details[0], js[1].Details[0]
	assert.Equal(t, domain.PropAttachment, added.Property)
	assert.Nil(t, added.OldValue)
	assert.Equal(t, "report.pdf", *added.NewValue)
	assert.Equal(t, "report.pdf", *removed.OldValue)
	assert.Nil(t, removed.NewValue)
	assert.Equal(t, 0, env.reload(t, i.ID).LockVersion)
}

func TestLogTime(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})

	_, err := env.Engine.LogTime(env.Ctx, engine.LogTimeOptions{IssueID: i.ID, ActorID: "alice", Hours: 0})
	requireRule(t, err, "hours", engine.RuleMustBePositive)

	te, err := env.Engine.LogTime(env.Ctx, engine.LogTimeOptions{IssueID: i.ID, ActorID: "alice", Hours: 1.5})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-10", te.SpentOn)
	_, err = env.Engine.LogTime(env.Ctx, engine.LogTimeOptions{IssueID: i.ID, ActorID: "alice", Hours: 2, SpentOn: "2024-01-09"})
	require.NoError(t, err)

	spent, err := env.Engine.SpentHours(env.Ctx, i.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, spent, 0.0001)
}

func TestIsOverdue(t *testing.T) {
	env := newTestEnv(t)
	late := env.issue(t, engine.CreateIssueOptions{DueDate: "2024-01-05"})
	onTime := env.issue(t, engine.CreateIssueOptions{DueDate: "2024-01-20"})

	overdue, err := env.Engine.IsOverdue(env.Ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, overdue)
	overdue, err = env.Engine.IsOverdue(env.Ctx, onTime.ID)
	require.NoError(t, err)
	assert.False(t, overdue)

	_, _, err = env.setStatus(late.ID, "canceled", "alice", "")
	require.NoError(t, err)
	overdue, err = env.Engine.IsOverdue(env.Ctx, late.ID)
	require.NoError(t, err)
	assert.False(t, overdue)
}

func TestDueBeforeFallsBackToVersion(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.CreateVersionOptions{ProjectID: "p1", Name: "1.0", EffectiveDate: "2024-02-01", ActorID: "alice"})
	require.NoError(t, err)
	own := env.issue(t, engine.CreateIssueOptions{DueDate: "2024-01-20", FixedVersionID: v.ID})
	versioned := env.issue(t, engine.CreateIssueOptions{FixedVersionID: v.ID})
	loose := env.issue(t, engine.CreateIssueOptions{})

	due, err := env.Engine.DueBefore(env.Ctx, own.ID)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, "2024-01-20", *due)

	due, err = env.Engine.DueBefore(env.Ctx, versioned.ID)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, "2024-02-01", *due)

	due, err = env.Engine.DueBefore(env.Ctx, loose.ID)
	require.NoError(t, err)
	assert.Nil(t, due)
}

func TestHasTeamNeedsAnotherJoin(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})
	team, err := env.Engine.HasTeam(env.Ctx, i.ID)
	require.NoError(t, err)
	assert.False(t, team, "the author alone is not a team")

	require.NoError(t, env.Engine.AssignRole(env.Ctx, "p1", "bob", "member", "alice"))
	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{IssueID: i.ID, ActorID: "bob", Kind: domain.VoteJoin, Points: 1})
	require.NoError(t, err)
	team, err = env.Engine.HasTeam(env.Ctx, i.ID)
	require.NoError(t, err)
	assert.True(t, team)
}

func TestPushAllowed(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.AssignRole(env.Ctx, "p1", "carol", "contributor", "alice"))
	require.NoError(t, env.Engine.AssignRole(env.Ctx, "p1", "dave", "member", "alice"))

	open := env.issue(t, engine.CreateIssueOptions{})
	lapsed := env.issue(t, engine.CreateIssueOptions{ExpectedDate: "2024-01-05"})
	pending := env.issue(t, engine.CreateIssueOptions{ExpectedDate: "2024-01-20"})
	owned := env.issue(t, engine.CreateIssueOptions{AssigneeID: "dave", ExpectedDate: "2024-01-20"})

	cases := []struct {
		name  string
		issue string
		actor string
		want  bool
	}{
		{"unassigned without expected date", open.ID, "carol", true},
		{"expected date passed", lapsed.ID, "carol", true},
		{"expected date ahead", pending.ID, "carol", false},
		{"no push permission", open.ID, "dave", false},
		{"assignee always", owned.ID, "dave", true},
		{"someone else owns it", owned.ID, "carol", false},
		{"no actor", open.ID, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := env.Engine.PushAllowed(env.Ctx, tc.issue, tc.actor)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStatusDrivenDoneRatio(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Settings.DoneRatio = config.DoneRatioStatus
	i := env.issue(t, engine.CreateIssueOptions{DoneRatio: 50})
	assert.Equal(t, 0, i.DoneRatio)

	out, _, err := env.setStatus(i.ID, "open", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, 10, out.DoneRatio)
}

func TestDeleteIssueRemovesHistory(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})
	other := env.issue(t, engine.CreateIssueOptions{Subject: "other"})
	_, err := env.Engine.AddRelation(env.Ctx, engine.AddRelationOptions{FromID: other.ID, ToID: i.ID, Kind: domain.RelRelates, ActorID: "alice"})
	require.NoError(t, err)
	_, _, err = env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{IssueID: i.ID, ActorID: "alice", Notes: "note"})
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteIssue(env.Ctx, i.ID, "alice"))
	_, err = env.Engine.GetIssue(env.Ctx, i.ID)
	assert.Equal(t, engine.KindNotFound, engine.KindOf(err))
	rels, err := env.Engine.Relations(env.Ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestMutationsAppendEvents(t *testing.T) {
	env := newTestEnv(t)
	i := env.issue(t, engine.CreateIssueOptions{})
	_, _, err := env.setStatus(i.ID, "open", "alice", "")
	require.NoError(t, err)

	evts, err := env.Engine.Events(env.Ctx, repo.EventFilters{EntityKind: "issue", EntityID: i.ID})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "issue.updated", evts[0].Type)
	assert.Equal(t, "issue.created", evts[1].Type)
	assert.Contains(t, evts[0].Payload, `"status_to":"open"`)
}

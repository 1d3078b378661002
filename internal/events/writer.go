package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voteline/internal/repo"
)

// Event types.
const (
	ProjectCreated   = "project.created"
	ProjectReparent  = "project.reparented"
	VersionCreated   = "version.created"
	VersionSharing   = "version.sharing_changed"
	RoleAssigned     = "role.assigned"
	IssueCreated     = "issue.created"
	IssueUpdated     = "issue.updated"
	IssueMoved       = "issue.moved"
	IssueCopied      = "issue.copied"
	IssueDeleted     = "issue.deleted"
	VoteCast         = "vote.cast"
	VoteRetracted    = "vote.retracted"
	RelationAdded    = "relation.added"
	RelationRemoved  = "relation.removed"
	AttachmentAdded  = "attachment.added"
	AttachmentRemove = "attachment.removed"
	TimeLogged       = "time.logged"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event through q, normally the mutation's transaction.
func (w Writer) Append(ctx context.Context, q repo.Querier, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

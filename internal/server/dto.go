package server

import (
	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

type SetParentRequest struct {
	ParentID string `json:"parent_id" doc:"Empty makes the project a root"`
}

type AssignRoleRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

type CreateVersionRequest struct {
	Name          string `json:"name"`
	Status        string `json:"status,omitempty" enum:"open,locked,closed"`
	Sharing       string `json:"sharing,omitempty" enum:"none,descendants,hierarchy,tree,system"`
	EffectiveDate string `json:"effective_date,omitempty" format:"date"`
}

type UpdateVersionRequest struct {
	Status  *string `json:"status,omitempty" enum:"open,locked,closed"`
	Sharing *string `json:"sharing,omitempty" enum:"none,descendants,hierarchy,tree,system"`
}

type CreateIssueRequest struct {
	TrackerID      string            `json:"tracker_id"`
	Subject        string            `json:"subject"`
	Description    string            `json:"description,omitempty"`
	StatusID       string            `json:"status_id,omitempty"`
	Priority       string            `json:"priority,omitempty" enum:"low,normal,high,urgent,immediate"`
	AssigneeID     string            `json:"assignee_id,omitempty"`
	FixedVersionID string            `json:"fixed_version_id,omitempty"`
	StartDate      string            `json:"start_date,omitempty"`
	DueDate        string            `json:"due_date,omitempty"`
	ExpectedDate   string            `json:"expected_date,omitempty"`
	DoneRatio      int               `json:"done_ratio,omitempty"`
	EstimatedHours *float64          `json:"estimated_hours,omitempty"`
	CustomValues   map[string]string `json:"custom_values,omitempty"`
}

// IssueChangesRequest mirrors engine.IssueChanges. An empty string clears an
// optional reference or date.
type IssueChangesRequest struct {
	TrackerID           *string           `json:"tracker_id,omitempty"`
	Subject             *string           `json:"subject,omitempty"`
	Description         *string           `json:"description,omitempty"`
	StatusID            *string           `json:"status_id,omitempty"`
	Priority            *string           `json:"priority,omitempty" enum:"low,normal,high,urgent,immediate"`
	AssigneeID          *string           `json:"assignee_id,omitempty"`
	FixedVersionID      *string           `json:"fixed_version_id,omitempty"`
	StartDate           *string           `json:"start_date,omitempty"`
	DueDate             *string           `json:"due_date,omitempty"`
	ExpectedDate        *string           `json:"expected_date,omitempty"`
	DoneRatio           *int              `json:"done_ratio,omitempty"`
	EstimatedHours      *float64          `json:"estimated_hours,omitempty"`
	ClearEstimatedHours bool              `json:"clear_estimated_hours,omitempty"`
	CustomValues        map[string]string `json:"custom_values,omitempty"`
}

type UpdateIssueRequest struct {
	IssueChangesRequest
	Notes       string `json:"notes,omitempty"`
	LockVersion *int   `json:"lock_version,omitempty"`
}

type CastVoteRequest struct {
	Kind   string `json:"kind" enum:"join,estimate,agree,accept,priority"`
	Points int    `json:"points"`
}

type AddRelationRequest struct {
	ToID  string `json:"to_id"`
	Kind  string `json:"kind" enum:"relates,duplicates,blocks,precedes"`
	Delay *int   `json:"delay,omitempty"`
}

type MoveIssueRequest struct {
	ProjectID  string               `json:"project_id,omitempty"`
	TrackerID  string               `json:"tracker_id,omitempty"`
	Copy       bool                 `json:"copy,omitempty"`
	Attributes *IssueChangesRequest `json:"attributes,omitempty"`
	Notes      string               `json:"notes,omitempty"`
}

type AddAttachmentRequest struct {
	Filename string `json:"filename"`
}

type LogTimeRequest struct {
	Hours   float64 `json:"hours"`
	SpentOn string  `json:"spent_on,omitempty" format:"date"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type IssueResponse struct {
	domain.Issue
	Blocked   bool    `json:"blocked"`
	Overdue   bool    `json:"overdue"`
	HasTeam   bool    `json:"has_team"`
	DueBefore *string `json:"due_before,omitempty" format:"date"`
	// PushAllowed is evaluated for the calling actor.
	PushAllowed bool `json:"push_allowed"`
}

type MutationResponse struct {
	Issue   domain.Issue    `json:"issue"`
	Journal *domain.Journal `json:"journal,omitempty"`
}

type StatusResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed"`
}

type SpentTimeResponse struct {
	IssueID string  `json:"issue_id"`
	Hours   float64 `json:"hours"`
}

func mapStatuses(items []config.Status) []StatusResponse {
	out := make([]StatusResponse, 0, len(items))
	for _, s := range items {
		out = append(out, StatusResponse{ID: s.ID, Name: s.Name, Closed: s.Closed})
	}
	return out
}

// toChanges converts the request, parsing the priority name.
func (r IssueChangesRequest) toChanges() (engine.IssueChanges, error) {
	c := engine.IssueChanges{
		TrackerID:           r.TrackerID,
		Subject:             r.Subject,
		Description:         r.Description,
		StatusID:            r.StatusID,
		AssigneeID:          r.AssigneeID,
		FixedVersionID:      r.FixedVersionID,
		StartDate:           r.StartDate,
		DueDate:             r.DueDate,
		ExpectedDate:        r.ExpectedDate,
		DoneRatio:           r.DoneRatio,
		EstimatedHours:      r.EstimatedHours,
		ClearEstimatedHours: r.ClearEstimatedHours,
		CustomValues:        r.CustomValues,
	}
	if r.Priority != nil {
		p, err := domain.ParsePriority(*r.Priority)
		if err != nil {
			return c, err
		}
		c.Priority = &p
	}
	return c, nil
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

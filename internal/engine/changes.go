package engine

import (
	"voteline/internal/domain"
)

// IssueChanges is an attribute update. Nil fields are left alone; an empty
// string clears an optional reference or date. Changes are applied in a fixed
// order with the tracker first, since custom field applicability depends on it.
type IssueChanges struct {
	TrackerID           *string
	Subject             *string
	Description         *string
	StatusID            *string
	Priority            *domain.Priority
	AssigneeID          *string
	FixedVersionID      *string
	StartDate           *string
	DueDate             *string
	ExpectedDate        *string
	DoneRatio           *int
	EstimatedHours      *float64
	ClearEstimatedHours bool
	CustomValues        map[string]string
}

// Empty reports whether no attribute is set.
func (c IssueChanges) Empty() bool {
	return c.TrackerID == nil && c.Subject == nil && c.Description == nil && c.StatusID == nil &&
		c.Priority == nil && c.AssigneeID == nil && c.FixedVersionID == nil && c.StartDate == nil &&
		c.DueDate == nil && c.ExpectedDate == nil && c.DoneRatio == nil && c.EstimatedHours == nil &&
		!c.ClearEstimatedHours && len(c.CustomValues) == 0
}

// apply mutates the issue and returns the custom field ids the caller set
// explicitly.
func (c IssueChanges) apply(i *domain.Issue) []string {
	if c.TrackerID != nil {
		i.TrackerID = *c.TrackerID
	}
	if c.Subject != nil {
		i.Subject = *c.Subject
	}
	if c.Description != nil {
		i.Description = *c.Description
	}
	if c.StatusID != nil {
		i.StatusID = *c.StatusID
	}
	if c.Priority != nil {
		i.Priority = *c.Priority
	}
	setRef(&i.AssigneeID, c.AssigneeID)
	setRef(&i.FixedVersionID, c.FixedVersionID)
	setRef(&i.StartDate, c.StartDate)
	setRef(&i.DueDate, c.DueDate)
	setRef(&i.ExpectedDate, c.ExpectedDate)
	if c.DoneRatio != nil {
		i.DoneRatio = *c.DoneRatio
	}
	if c.ClearEstimatedHours {
		i.EstimatedHours = nil
	} else if c.EstimatedHours != nil {
		h := *c.EstimatedHours
		i.EstimatedHours = &h
	}
	var keys []string
	if len(c.CustomValues) > 0 {
		cv := make(map[string]string, len(i.CustomValues)+len(c.CustomValues))
		for k, v := range i.CustomValues {
			cv[k] = v
		}
		for k, v := range c.CustomValues {
			cv[k] = v
			keys = append(keys, k)
		}
		i.CustomValues = cv
	}
	return keys
}

func setRef(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = nil
		return
	}
	s := *v
	*dst = &s
}

// cloneIssue copies the issue so later edits do not alias the original.
func cloneIssue(i domain.Issue) domain.Issue {
	out := i
	out.AssigneeID = clonePtr(i.AssigneeID)
	out.FixedVersionID = clonePtr(i.FixedVersionID)
	out.StartDate = clonePtr(i.StartDate)
	out.DueDate = clonePtr(i.DueDate)
	out.ExpectedDate = clonePtr(i.ExpectedDate)
	if i.EstimatedHours != nil {
		h := *i.EstimatedHours
		out.EstimatedHours = &h
	}
	if i.Points != nil {
		p := *i.Points
		out.Points = &p
	}
	out.CustomValues = make(map[string]string, len(i.CustomValues))
	for k, v := range i.CustomValues {
		out.CustomValues[k] = v
	}
	return out
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

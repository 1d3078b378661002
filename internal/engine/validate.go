package engine

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"voteline/internal/domain"
	"voteline/internal/relations"
	"voteline/internal/repo"
	"voteline/internal/versions"
)

const maxSubjectLength = 255

// Validation rules reported in FieldError.Rule.
const (
	RuleRequired         = "required"
	RuleTooLong          = "too_long"
	RuleInvalid          = "invalid"
	RuleNotADate         = "not_a_date"
	RuleRange            = "out_of_range"
	RuleAfterStart       = "greater_than_start_date"
	RuleSoonestStart     = "before_soonest_start"
	RuleInclusion        = "inclusion"
	RuleReopenClosed     = "reopen_on_closed_version"
	RuleNotApplicable    = "not_applicable"
	RuleCrossProject     = "cross_project"
	RuleTaken            = "taken"
	RuleCircular         = "circular_dependency"
	RuleMustBePositive   = "must_be_positive"
	RuleBinaryVote       = "must_be_plus_or_minus_one"
	RuleNegativeEstimate = "must_not_be_negative"
)

type issueCheck struct {
	issue           domain.Issue
	previousVersion *string
	previousStatus  string
	explicitCustom  []string
}

// validateIssue collects every violated rule instead of stopping at the first.
func (e Engine) validateIssue(ctx context.Context, q repo.Querier, c issueCheck) error {
	var v validator
	i := c.issue

	subject := strings.TrimSpace(i.Subject)
	if subject == "" {
		v.add("subject", nil, RuleRequired)
	} else if utf8.RuneCountInString(i.Subject) > maxSubjectLength {
		v.add("subject", utf8.RuneCountInString(i.Subject), RuleTooLong)
	}
	if !e.Config.HasTracker(i.TrackerID) {
		v.add("tracker_id", i.TrackerID, RuleInclusion)
	}
	if _, ok := e.Config.Status(i.StatusID); !ok {
		v.add("status_id", i.StatusID, RuleInclusion)
	}
	if !i.Priority.IsValid() {
		v.add("priority", int(i.Priority), RuleInclusion)
	}
	if i.DoneRatio < 0 || i.DoneRatio > 100 {
		v.add("done_ratio", i.DoneRatio, RuleRange)
	}
	if i.EstimatedHours != nil && *i.EstimatedHours < 0 {
		v.add("estimated_hours", *i.EstimatedHours, RuleRange)
	}

	datesOK := true
	for _, d := range []struct {
		field string
		value *string
	}{{"start_date", i.StartDate}, {"due_date", i.DueDate}, {"expected_date", i.ExpectedDate}} {
		if d.value != nil && !domain.ValidDate(*d.value) {
			v.add(d.field, *d.value, RuleNotADate)
			if d.field != "expected_date" {
				datesOK = false
			}
		}
	}
	if datesOK && i.StartDate != nil && i.DueDate != nil && domain.DateBefore(*i.DueDate, *i.StartDate) {
		v.add("due_date", *i.DueDate, RuleAfterStart)
	}
	if datesOK && i.StartDate != nil && i.ID != "" {
		soonest, err := relations.SoonestStart(ctx, e.Repo.RelationSource(q), i.ID, e.issueLookup(q))
		if err != nil {
			return err
		}
		if soonest != nil && domain.DateBefore(*i.StartDate, *soonest) {
			v.add("start_date", *i.StartDate, RuleSoonestStart)
		}
	}

	if i.FixedVersionID != nil {
		if err := e.checkVersion(ctx, q, c, &v); err != nil {
			return err
		}
	}

	applicable := e.applicableFields(i)
	for _, k := range c.explicitCustom {
		if !applicable[k] {
			v.add("custom_values."+k, k, RuleNotApplicable)
		}
	}
	return v.err(i.ID)
}

func (e Engine) checkVersion(ctx context.Context, q repo.Querier, c issueCheck, v *validator) error {
	i := c.issue
	version, err := e.Repo.GetVersion(ctx, q, *i.FixedVersionID)
	if errors.Is(err, repo.ErrNotFound) {
		v.add("fixed_version_id", *i.FixedVersionID, RuleInclusion)
		return nil
	}
	if err != nil {
		return err
	}
	tree, err := e.projectTree(ctx, q)
	if err != nil {
		return err
	}
	if !versions.IsAssignable(version.ID, i.ProjectID, []domain.Version{version}, tree, c.previousVersion) {
		v.add("fixed_version_id", version.ID, RuleInclusion)
		return nil
	}
	if c.previousStatus != "" && e.workflow().IsReopen(c.previousStatus, i.StatusID) && version.Closed() {
		v.add("fixed_version_id", version.ID, RuleReopenClosed)
	}
	return nil
}

func (e Engine) applicableFields(i domain.Issue) map[string]bool {
	out := map[string]bool{}
	for _, cf := range e.Config.CustomFieldsFor(i.ProjectID, i.TrackerID) {
		out[cf.ID] = true
	}
	return out
}

// filterCustomValues drops values for fields that no longer apply to the
// issue's project and tracker.
func (e Engine) filterCustomValues(i *domain.Issue) {
	applicable := e.applicableFields(*i)
	out := make(map[string]string, len(i.CustomValues))
	for k, val := range i.CustomValues {
		if applicable[k] {
			out[k] = val
		}
	}
	i.CustomValues = out
}

// syncDoneRatio mirrors the status default when status-driven completion is on.
func (e Engine) syncDoneRatio(i *domain.Issue) {
	if !e.Config.UseStatusForDoneRatio() {
		return
	}
	if s, ok := e.Config.Status(i.StatusID); ok && s.DefaultDoneRatio != nil {
		i.DoneRatio = *s.DefaultDoneRatio
	}
}

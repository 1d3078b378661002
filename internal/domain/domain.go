package domain

type Project struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	ParentID          *string `json:"parent_id,omitempty"`
	Status            string  `json:"status" enum:"active,archived"`
	LastItemUpdatedAt *string `json:"last_item_updated_at,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

// Version status values.
const (
	VersionOpen   = "open"
	VersionLocked = "locked"
	VersionClosed = "closed"
)

// Version sharing policies.
const (
	SharingNone        = "none"
	SharingDescendants = "descendants"
	SharingHierarchy   = "hierarchy"
	SharingTree        = "tree"
	SharingSystem      = "system"
)

type Version struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Name          string  `json:"name"`
	Status        string  `json:"status" enum:"open,locked,closed"`
	Sharing       string  `json:"sharing" enum:"none,descendants,hierarchy,tree,system"`
	EffectiveDate *string `json:"effective_date,omitempty" format:"date"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

func (v Version) Closed() bool { return v.Status == VersionClosed }

type Issue struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	TrackerID      string   `json:"tracker_id"`
	Subject        string   `json:"subject"`
	Description    string   `json:"description,omitempty"`
	StatusID       string   `json:"status_id"`
	Priority       Priority `json:"priority"`
	AuthorID       string   `json:"author_id"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	FixedVersionID *string  `json:"fixed_version_id,omitempty"`
	StartDate      *string  `json:"start_date,omitempty" format:"date"`
	DueDate        *string  `json:"due_date,omitempty" format:"date"`
	ExpectedDate   *string  `json:"expected_date,omitempty" format:"date"`
	DoneRatio      int      `json:"done_ratio"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`

	Points      *float64 `json:"points,omitempty"`
	Pri         int      `json:"pri"`
	Agree       int      `json:"agree"`
	Disagree    int      `json:"disagree"`
	AgreeTotal  int      `json:"agree_total"`
	Accept      int      `json:"accept"`
	Reject      int      `json:"reject"`
	AcceptTotal int      `json:"accept_total"`

	LockVersion int    `json:"lock_version"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`

	CustomValues map[string]string `json:"custom_values,omitempty"`
}

// Duration is the number of days between start and due date, 0 when either is unset.
func (i Issue) Duration() int {
	if i.StartDate == nil || i.DueDate == nil {
		return 0
	}
	return DaysBetween(*i.StartDate, *i.DueDate)
}

type VoteKind string

const (
	VoteJoin     VoteKind = "join"
	VoteEstimate VoteKind = "estimate"
	VoteAgree    VoteKind = "agree"
	VoteAccept   VoteKind = "accept"
	VotePriority VoteKind = "priority"
)

func (k VoteKind) IsValid() bool {
	switch k {
	case VoteJoin, VoteEstimate, VoteAgree, VoteAccept, VotePriority:
		return true
	}
	return false
}

// Binary reports whether the kind only accepts -1 or +1.
func (k VoteKind) Binary() bool {
	return k == VoteAgree || k == VoteAccept
}

type Vote struct {
	ID        string   `json:"id"`
	IssueID   string   `json:"issue_id"`
	ActorID   string   `json:"actor_id"`
	Kind      VoteKind `json:"kind" enum:"join,estimate,agree,accept,priority"`
	Points    int      `json:"points"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type RelationKind string

const (
	RelRelates    RelationKind = "relates"
	RelDuplicates RelationKind = "duplicates"
	RelBlocks     RelationKind = "blocks"
	RelPrecedes   RelationKind = "precedes"
)

func (k RelationKind) IsValid() bool {
	switch k {
	case RelRelates, RelDuplicates, RelBlocks, RelPrecedes:
		return true
	}
	return false
}

type Relation struct {
	ID        string       `json:"id"`
	FromID    string       `json:"from_id"`
	ToID      string       `json:"to_id"`
	Kind      RelationKind `json:"kind" enum:"relates,duplicates,blocks,precedes"`
	Delay     *int         `json:"delay,omitempty"`
	CreatedAt string       `json:"created_at" format:"date-time"`
}

// Journal detail properties.
const (
	PropAttr       = "attr"
	PropCustom     = "cf"
	PropAttachment = "attachment"
)

type Journal struct {
	ID        string          `json:"id"`
	IssueID   string          `json:"issue_id"`
	ActorID   string          `json:"actor_id"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt string          `json:"created_at" format:"date-time"`
	Details   []JournalDetail `json:"details"`
}

type JournalDetail struct {
	Property string  `json:"property" enum:"attr,cf,attachment"`
	Key      string  `json:"key"`
	OldValue *string `json:"old_value,omitempty"`
	NewValue *string `json:"new_value,omitempty"`
}

type Attachment struct {
	ID        string `json:"id"`
	IssueID   string `json:"issue_id"`
	Filename  string `json:"filename"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TimeEntry struct {
	ID        string  `json:"id"`
	IssueID   string  `json:"issue_id"`
	ProjectID string  `json:"project_id"`
	ActorID   string  `json:"actor_id"`
	Hours     float64 `json:"hours"`
	SpentOn   string  `json:"spent_on" format:"date"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

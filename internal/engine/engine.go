package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log/v2"
	"github.com/google/uuid"

	"voteline/internal/config"
	"voteline/internal/domain"
	"voteline/internal/engine/auth"
	"voteline/internal/events"
	"voteline/internal/relations"
	"voteline/internal/repo"
	"voteline/internal/versions"
	"voteline/internal/workflow"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Writer events.Writer
	Auth   auth.Service
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Writer: events.Writer{},
		Auth:   auth.Service{Repo: r, Config: cfg},
		Config: cfg,
		Logger: log.New(io.Discard),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format(domain.DateLayout)
}

func (e Engine) logger() *log.Logger {
	if e.Logger == nil {
		return log.New(io.Discard)
	}
	return e.Logger
}

func (e Engine) workflow() workflow.Workflow {
	return workflow.New(e.Config)
}

func (e Engine) ready() error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	return nil
}

func (e Engine) event(ctx context.Context, q repo.Querier, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Writer
	w.Now = e.now
	if err := w.Append(ctx, q, evtType, projectID, entityKind, entityID, actorID, payload); err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func newID() string {
	return uuid.NewString()
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (e Engine) issueLookup(q repo.Querier) relations.IssueLookup {
	return func(ctx context.Context, id string) (domain.Issue, error) {
		return e.Repo.GetIssue(ctx, q, id)
	}
}

func (e Engine) closedFunc(q repo.Querier) relations.ClosedFunc {
	return func(ctx context.Context, id string) (bool, error) {
		i, err := e.Repo.GetIssue(ctx, q, id)
		if err != nil {
			return false, err
		}
		return e.Config.StatusClosed(i.StatusID), nil
	}
}

func (e Engine) projectTree(ctx context.Context, q repo.Querier) (versions.Tree, error) {
	projects, err := e.Repo.ListProjects(ctx, q)
	if err != nil {
		return versions.Tree{}, err
	}
	return versions.NewTree(projects), nil
}

func (e Engine) blocked(ctx context.Context, q repo.Querier, issueID string) (bool, error) {
	return relations.Blocked(ctx, e.Repo.RelationSource(q), issueID, e.closedFunc(q))
}

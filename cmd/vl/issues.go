package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"voteline/internal/domain"
	"voteline/internal/engine"
	"voteline/internal/repo"
)

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Manage issues"}
	iss.AddCommand(issueCreateCmd())
	iss.AddCommand(issueShowCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueUpdateCmd())
	iss.AddCommand(issueMoveCmd(false))
	iss.AddCommand(issueMoveCmd(true))
	iss.AddCommand(issueDeleteCmd())
	return iss
}

func issueCreateCmd() *cobra.Command {
	var opts engine.CreateIssueOptions
	var priority string
	var estimate float64
	var custom []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if priority != "" {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				opts.Priority = p
			}
			if cmd.Flags().Changed("estimate") {
				opts.EstimatedHours = &estimate
			}
			cv, err := parseCustomValues(custom)
			if err != nil {
				return err
			}
			opts.CustomValues = cv
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				i, err := e.CreateIssue(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrLine(i, fmt.Sprintf("Created issue %s [%s]", i.ID, i.StatusID))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ProjectID, "project", "", "project id")
	f.StringVar(&opts.TrackerID, "tracker", "", "tracker id")
	f.StringVar(&opts.Subject, "subject", "", "subject")
	f.StringVar(&opts.Description, "description", "", "description")
	f.StringVar(&opts.StatusID, "status", "", "initial status (default from config)")
	f.StringVar(&priority, "priority", "", "low, normal, high, urgent or immediate")
	f.StringVar(&opts.AssigneeID, "assignee", "", "assignee actor id")
	f.StringVar(&opts.FixedVersionID, "version", "", "fixed version id")
	f.StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	f.StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	f.StringVar(&opts.ExpectedDate, "expected", "", "expected date (YYYY-MM-DD)")
	f.IntVar(&opts.DoneRatio, "done-ratio", 0, "percent done")
	f.Float64Var(&estimate, "estimate", 0, "estimated hours")
	f.StringArrayVar(&custom, "cf", nil, "custom value as field=value (repeatable)")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				blocked, err := e.IsBlocked(ctx, i.ID)
				if err != nil {
					return err
				}
				overdue, err := e.IsOverdue(ctx, i.ID)
				if err != nil {
					return err
				}
				team, err := e.HasTeam(ctx, i.ID)
				if err != nil {
					return err
				}
				dueBefore, err := e.DueBefore(ctx, i.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"issue": i, "blocked": blocked, "overdue": overdue, "has_team": team, "due_before": dueBefore})
				}
				fmt.Printf("%s  %s\n", i.ID, i.Subject)
				fmt.Printf("  project %s, tracker %s, status %s, priority %s\n", i.ProjectID, i.TrackerID, i.StatusID, i.Priority)
				fmt.Printf("  votes: agree %d/%d, accept %d/%d, pri %d\n", i.Agree, i.Disagree, i.Accept, i.Reject, i.Pri)
				if i.Points != nil {
					fmt.Printf("  points %.1f\n", *i.Points)
				}
				fmt.Printf("  dates: start %s, due %s, due before %s, done %d%%\n", deref(i.StartDate), deref(i.DueDate), deref(dueBefore), i.DoneRatio)
				if team {
					fmt.Println("  has team")
				}
				if blocked {
					fmt.Println("  blocked")
				}
				if overdue {
					fmt.Println("  overdue")
				}
				return nil
			})
		},
	}
}

func issueListCmd() *cobra.Command {
	var f repo.IssueFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListIssues(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Subject", "Tracker", "Status", "Priority", "Assignee", "Version")
				for _, i := range items {
					tw.AppendRow(table.Row{i.ID, i.Subject, i.TrackerID, i.StatusID, i.Priority, deref(i.AssigneeID), deref(i.FixedVersionID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.StatusID, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.FixedVersionID, "version", "", "fixed version filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

// changeFlags registers the attribute flags shared by update and move.
func changeFlags(f *pflag.FlagSet) {
	f.String("tracker", "", "tracker id")
	f.String("subject", "", "subject")
	f.String("description", "", "description")
	f.String("status", "", "status id")
	f.String("priority", "", "priority name")
	f.String("assignee", "", "assignee (empty clears)")
	f.String("version", "", "fixed version id (empty clears)")
	f.String("start", "", "start date (empty clears)")
	f.String("due", "", "due date (empty clears)")
	f.String("expected", "", "expected date (empty clears)")
	f.Int("done-ratio", 0, "percent done")
	f.Float64("estimate", 0, "estimated hours")
	f.Bool("clear-estimate", false, "clear estimated hours")
	f.StringArray("cf", nil, "custom value as field=value (repeatable)")
}

// changesFromFlags only sets the attributes whose flag was given.
func changesFromFlags(f *pflag.FlagSet) (engine.IssueChanges, error) {
	var c engine.IssueChanges
	str := func(name string) *string {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetString(name)
		return &v
	}
	c.TrackerID = str("tracker")
	c.Subject = str("subject")
	c.Description = str("description")
	c.StatusID = str("status")
	c.AssigneeID = str("assignee")
	c.FixedVersionID = str("version")
	c.StartDate = str("start")
	c.DueDate = str("due")
	c.ExpectedDate = str("expected")
	if p := str("priority"); p != nil {
		pr, err := domain.ParsePriority(*p)
		if err != nil {
			return c, err
		}
		c.Priority = &pr
	}
	if f.Changed("done-ratio") {
		v, _ := f.GetInt("done-ratio")
		c.DoneRatio = &v
	}
	if f.Changed("estimate") {
		v, _ := f.GetFloat64("estimate")
		c.EstimatedHours = &v
	}
	c.ClearEstimatedHours, _ = f.GetBool("clear-estimate")
	custom, _ := f.GetStringArray("cf")
	cv, err := parseCustomValues(custom)
	if err != nil {
		return c, err
	}
	c.CustomValues = cv
	return c, nil
}

func issueUpdateCmd() *cobra.Command {
	var notes string
	var lockVersion int
	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Change issue attributes and/or add notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := changesFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			opts := engine.MutationOptions{IssueID: args[0], ActorID: actorID(), Notes: notes, Changes: changes}
			if cmd.Flags().Changed("lock-version") {
				opts.LockVersion = &lockVersion
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, j, err := e.ApplyMutation(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"issue": i, "journal": j})
				}
				if j == nil {
					fmt.Printf("Issue %s unchanged\n", i.ID)
					return nil
				}
				fmt.Printf("Updated issue %s [%s], %d change(s) journaled\n", i.ID, i.StatusID, len(j.Details))
				return nil
			})
		},
	}
	changeFlags(cmd.Flags())
	cmd.Flags().StringVar(&notes, "notes", "", "journal notes")
	cmd.Flags().IntVar(&lockVersion, "lock-version", 0, "fail unless the issue is at this lock version")
	return cmd
}

func issueMoveCmd(copyIssue bool) *cobra.Command {
	var opts engine.MoveOptions
	use, short := "move <issue-id>", "Move issue to another project or tracker"
	if copyIssue {
		use, short = "copy <issue-id>", "Copy issue, optionally into another project"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := changesFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			// --tracker names the target tracker, not an attribute change
			attrs.TrackerID = nil
			opts.IssueID = args[0]
			opts.Copy = copyIssue
			opts.Attributes = attrs
			opts.ActorID = actorID()
			if v, _ := cmd.Flags().GetString("tracker"); v != "" {
				opts.TrackerID = v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.MoveOrCopy(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrLine(i, fmt.Sprintf("Issue %s now in project %s (%s)", i.ID, i.ProjectID, i.TrackerID))
			})
		},
	}
	changeFlags(cmd.Flags())
	cmd.Flags().StringVar(&opts.ProjectID, "to-project", "", "target project id")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "journal notes")
	return cmd
}

func issueDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <issue-id>",
		Short: "Delete issue with its votes, relations and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteIssue(ctx, args[0], actorID())
			})
		},
	}
}

func voteCmd() *cobra.Command {
	v := &cobra.Command{Use: "vote", Short: "Vote on issues"}
	cast := &cobra.Command{
		Use:   "cast <issue-id> <kind> <points>",
		Short: "Cast or replace a vote (join, estimate, agree, accept, priority)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var points int
			if _, err := fmt.Sscanf(args[2], "%d", &points); err != nil {
				return fmt.Errorf("points must be an integer: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.CastVote(ctx, engine.CastVoteOptions{
					IssueID: args[0], ActorID: actorID(), Kind: domain.VoteKind(args[1]), Points: points,
				})
				if err != nil {
					return err
				}
				return printJSONOrLine(i, fmt.Sprintf("Issue %s [%s] agree %d accept %d", i.ID, i.StatusID, i.AgreeTotal, i.AcceptTotal))
			})
		},
	}
	retract := &cobra.Command{
		Use:   "retract <issue-id> <kind>",
		Short: "Retract your vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.RetractVote(ctx, args[0], actorID(), domain.VoteKind(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrLine(i, fmt.Sprintf("Issue %s [%s]", i.ID, i.StatusID))
			})
		},
	}
	list := &cobra.Command{
		Use:   "list <issue-id>",
		Short: "List votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Votes(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Actor", "Kind", "Points", "At")
				for _, v := range items {
					tw.AppendRow(table.Row{v.ActorID, v.Kind, v.Points, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	v.AddCommand(cast, retract, list)
	return v
}

func relationCmd() *cobra.Command {
	r := &cobra.Command{Use: "relation", Short: "Manage issue relations"}
	var delay int
	add := &cobra.Command{
		Use:   "add <from-id> <kind> <to-id>",
		Short: "Relate two issues (relates, duplicates, blocks, precedes)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.AddRelationOptions{
				FromID: args[0], Kind: domain.RelationKind(args[1]), ToID: args[2], ActorID: actorID(),
			}
			if cmd.Flags().Changed("delay") {
				opts.Delay = &delay
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rel, err := e.AddRelation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrLine(rel, fmt.Sprintf("Relation %s: %s %s %s", rel.ID, rel.FromID, rel.Kind, rel.ToID))
			})
		},
	}
	add.Flags().IntVar(&delay, "delay", 0, "days between predecessor due date and successor start")
	remove := &cobra.Command{
		Use:   "remove <relation-id>",
		Short: "Remove a relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveRelation(ctx, args[0], actorID())
			})
		},
	}
	list := &cobra.Command{
		Use:   "list <issue-id>",
		Short: "List relations of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Relations(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "From", "Kind", "To", "Delay")
				for _, rel := range items {
					d := ""
					if rel.Delay != nil {
						d = fmt.Sprint(*rel.Delay)
					}
					tw.AppendRow(table.Row{rel.ID, rel.FromID, rel.Kind, rel.ToID, d})
				}
				tw.Render()
				return nil
			})
		},
	}
	r.AddCommand(add, remove, list)
	return r
}

func journalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journal <issue-id>",
		Short: "Show issue history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Journals(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("At", "Actor", "Change", "Old", "New")
				for _, j := range items {
					if j.Notes != "" {
						tw.AppendRow(table.Row{j.CreatedAt, j.ActorID, "notes", "", j.Notes})
					}
					for _, d := range j.Details {
						tw.AppendRow(table.Row{j.CreatedAt, j.ActorID, d.Property + ":" + d.Key, deref(d.OldValue), deref(d.NewValue)})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func attachCmd() *cobra.Command {
	a := &cobra.Command{Use: "attach", Short: "Manage attachments"}
	add := &cobra.Command{
		Use:   "add <issue-id> <filename>",
		Short: "Record an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				att, err := e.AddAttachment(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrLine(att, fmt.Sprintf("Attached %s as %s", att.Filename, att.ID))
			})
		},
	}
	remove := &cobra.Command{
		Use:   "remove <attachment-id>",
		Short: "Remove an attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveAttachment(ctx, args[0], actorID())
			})
		},
	}
	list := &cobra.Command{
		Use:   "list <issue-id>",
		Short: "List attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Attachments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Filename", "Author", "At")
				for _, att := range items {
					tw.AppendRow(table.Row{att.ID, att.Filename, att.AuthorID, att.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	a.AddCommand(add, remove, list)
	return a
}

func timeCmd() *cobra.Command {
	t := &cobra.Command{Use: "time", Short: "Track time"}
	var opts engine.LogTimeOptions
	logCmd := &cobra.Command{
		Use:   "log <issue-id>",
		Short: "Log hours on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.IssueID = args[0]
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				te, err := e.LogTime(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrLine(te, fmt.Sprintf("Logged %.2fh on %s", te.Hours, te.SpentOn))
			})
		},
	}
	logCmd.Flags().Float64Var(&opts.Hours, "hours", 0, "hours spent")
	logCmd.Flags().StringVar(&opts.SpentOn, "on", "", "date (default today)")
	spent := &cobra.Command{
		Use:   "spent <issue-id>",
		Short: "Show total hours logged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.SpentHours(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrLine(map[string]any{"issue_id": args[0], "hours": h}, fmt.Sprintf("%.2f", h))
			})
		},
	}
	t.AddCommand(logCmd, spent)
	return t
}

func statusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statuses <issue-id>",
		Short: "List the statuses you may move the issue to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.AllowedNextStatuses(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				ids := make([]string, 0, len(items))
				for _, s := range items {
					ids = append(ids, s.ID)
				}
				fmt.Println(strings.Join(ids, " "))
				return nil
			})
		},
	}
}

func eventsCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "At", "Type", "Entity", "Actor", "Payload")
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func parseCustomValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("custom value %q must be field=value", p)
		}
		out[k] = v
	}
	return out, nil
}

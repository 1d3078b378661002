package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voteline/internal/app"
	"voteline/internal/config"
	"voteline/internal/engine"
	"voteline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Voteline CLI",
	Long: `Voteline is an issue tracker where participants vote issues through their lifecycle.
- Workspace: a directory holding voteline.yml (statuses, trackers, roles, workflow) and the .voteline database.
- Projects form a tree; versions are shared along it according to their sharing policy.
- Issues move new -> estimate -> open -> accepted as agree, estimate and accept votes come in.
- Every change is journaled; relations (blocks, precedes, duplicates) cascade to dependent issues.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error (%s): %v\n", engine.KindOf(err), err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VOTELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); silent when empty")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(relationCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(timeCmd())
	rootCmd.AddCommand(statusesCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create voteline.yml and the database in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			wrote, err := app.Init(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			if wrote {
				fmt.Printf("Wrote %s\n", config.Path(workspace))
			} else {
				fmt.Printf("Kept existing %s\n", config.Path(workspace))
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate voteline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.GenerateDefault())
		},
	})
	return cfg
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectParentCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.CreateProjectOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Created project %s\n", p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent project id")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Parent", "Status")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, deref(p.ParentID), p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectParentCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "parent <project-id>",
		Short: "Move a project under another (empty --parent makes it a root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetProjectParent(ctx, args[0], parent, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent project id")
	return cmd
}

func versionCmd() *cobra.Command {
	ver := &cobra.Command{Use: "version", Short: "Manage versions"}
	ver.AddCommand(versionCreateCmd())
	ver.AddCommand(versionListCmd())
	ver.AddCommand(versionShareCmd())
	ver.AddCommand(versionStatusCmd())
	return ver
}

func versionCreateCmd() *cobra.Command {
	var opts engine.CreateVersionOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				v, err := e.CreateVersion(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("Created version %s (%s)\n", v.ID, v.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "version name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "open, locked or closed")
	cmd.Flags().StringVar(&opts.Sharing, "sharing", "", "none, descendants, hierarchy, tree or system")
	cmd.Flags().StringVar(&opts.EffectiveDate, "date", "", "effective date (YYYY-MM-DD)")
	return cmd
}

func versionListCmd() *cobra.Command {
	var projectID string
	var shared bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list := e.ListVersions
				if shared {
					list = e.SharedVersions
				}
				items, err := list(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Project", "Name", "Status", "Sharing", "Date")
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.ProjectID, v.Name, v.Status, v.Sharing, deref(v.EffectiveDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().BoolVar(&shared, "shared", false, "include versions shared with the project")
	return cmd
}

func versionShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <version-id> <sharing>",
		Short: "Change version sharing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.SetVersionSharing(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrLine(v, fmt.Sprintf("Version %s now shared as %s", v.ID, v.Sharing))
			})
		},
	}
}

func versionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <version-id> <status>",
		Short: "Change version status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.UpdateVersionStatus(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrLine(v, fmt.Sprintf("Version %s is %s", v.ID, v.Status))
			})
		},
	}
}

func roleCmd() *cobra.Command {
	var projectID, member, role string
	r := &cobra.Command{Use: "role", Short: "Manage project roles"}
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Grant a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AssignRole(ctx, projectID, member, role, actorID())
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, projectID, member, role, actorID())
			})
		},
	}
	for _, c := range []*cobra.Command{assign, revoke} {
		c.Flags().StringVar(&projectID, "project", "", "project id")
		c.Flags().StringVar(&member, "actor", "", "actor receiving the role")
		c.Flags().StringVar(&role, "role", "", "role id")
		r.AddCommand(c)
	}
	return r
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewLogger(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			e, closeFn, err := app.Open(cmd.Context(), viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer closeFn()
			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: allowActorHeader,
				Logger:           logger,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("VOTELINE_JWT_SECRET is required unless --allow-actor-header is set")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving voteline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func actorID() string {
	return viper.GetString("actor-id")
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	logger, err := app.NewLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	e, closeFn, err := app.Open(ctx, viper.GetString("workspace"), logger)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

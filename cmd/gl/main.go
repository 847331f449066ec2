package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"greenlight/internal/app"
	"greenlight/internal/config"
	"greenlight/internal/db"
	"greenlight/internal/domain"
	"greenlight/internal/engine"
	"greenlight/internal/repo"
	"greenlight/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Greenlight CLI",
	Long: `Greenlight runs project approval workflows.
Proposers draft projects, assigned reviewers evaluate them, and directors
approve or reject. Every status change lands in the audit trail and the
people involved get notified.

Lifecycle: draft -> submitted -> under_review -> approved/rejected/returned.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GREENLIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user id or email")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCommand())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var adminName, adminEmail string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Creates the .greenlight database, writes a starter greenlight.yml, and ensures an administrator account exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			c, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer c.Close()
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			admin, err := c.EnsureAdmin(cmd.Context(), adminName, adminEmail)
			if err != nil {
				return err
			}
			return printJSONOrTable(admin)
		},
	}
	cmd.Flags().StringVar(&adminName, "admin-name", "", "administrator name")
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "administrator email")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Users carry one role each: proposer, reviewer, director, or system_administrator. Directors and administrators can approve and reject projects.",
	}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userDeactivateCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var name, email, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				u, err := c.Engine.CreateUser(ctx, engine.CreateUserOptions{
					Name:  name,
					Email: email,
					Role:  domain.Role(role),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "role (proposer, reviewer, director, system_administrator)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				users, err := c.Repo.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Active"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-email>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				u, err := c.LookupUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id-or-email>",
		Short: "Deactivate a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				u, err := c.LookupUser(ctx, args[0])
				if err != nil {
					return err
				}
				if err := c.Repo.SetUserActive(ctx, u.ID, false); err != nil {
					return err
				}
				u.IsActive = false
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage project proposals",
		Long:  "Projects start as drafts, get submitted for review, and end approved, rejected, or returned. Reviewers are fixed at creation time.",
	}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectSubmitCmd())
	prj.AddCommand(projectApproveCmd())
	prj.AddCommand(projectRejectCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.CreateProjectOptions
	var reviewers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				ids := make([]string, 0, len(reviewers))
				for _, r := range reviewers {
					u, err := c.LookupUser(ctx, r)
					if err != nil {
						return fmt.Errorf("reviewer %s: %w", r, err)
					}
					ids = append(ids, u.ID)
				}
				opts.ProposerID = actor.ID
				opts.ReviewerIDs = ids
				p, err := c.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Objective, "objective", "", "objective")
	cmd.Flags().StringVar(&opts.EstimatedCost, "estimated-cost", "", "estimated cost")
	cmd.Flags().StringVar(&opts.TargetTime, "target-time", "", "target completion time")
	cmd.Flags().StringArrayVar(&reviewers, "reviewer", []string{}, "reviewer id or email (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("estimated-cost")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				if f.Limit <= 0 {
					f.Limit = 100
				}
				projects, err := c.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Proposer", "Created"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.ProposerID, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ProposerID, "proposer", "", "proposer id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum results")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project with its reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				p, err := c.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				reviews, err := c.Repo.ListReviewsForProject(ctx, p.ID)
				if err != nil {
					return err
				}
				assignments, err := c.Repo.ListReviewerAssignments(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "reviewers": assignments, "reviews": reviews})
				}
				b, _ := json.MarshalIndent(p, "", "  ")
				fmt.Println(string(b))
				ids := make([]string, 0, len(assignments))
				for _, a := range assignments {
					ids = append(ids, a.ReviewerID)
				}
				fmt.Printf("Reviewers: %s\n", strings.Join(ids, ", "))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Review", "Reviewer", "Decision", "Submitted At"})
				for _, rv := range reviews {
					decision := ""
					if rv.Decision != nil {
						decision = string(*rv.Decision)
					}
					submitted := ""
					if rv.SubmittedAt != nil {
						submitted = *rv.SubmittedAt
					}
					tw.AppendRow(table.Row{rv.ID, rv.ReviewerID, decision, submitted})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a draft project for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				p, err := c.Engine.SubmitProject(ctx, args[0], actor.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a project (director or administrator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				p, err := c.Engine.ApproveProject(ctx, args[0], actor.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a project (director or administrator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return fmt.Errorf("--reason required")
			}
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				p, err := c.Engine.RejectProject(ctx, args[0], actor.ID, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func reviewCmd() *cobra.Command {
	rev := &cobra.Command{
		Use:   "review",
		Short: "Manage reviews",
		Long:  "Each assigned reviewer owns exactly one review per project. When the last review lands, the project resolves automatically: any reject wins, then any return, otherwise approval.",
	}
	rev.AddCommand(reviewSubmitCmd())
	rev.AddCommand(reviewPendingCmd())
	return rev
}

func reviewSubmitCmd() *cobra.Command {
	var opts engine.SubmitReviewOptions
	var decision, riskAssessment string
	cmd := &cobra.Command{
		Use:   "submit <review-id>",
		Short: "Submit a review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				opts.ReviewID = args[0]
				opts.ReviewerID = actor.ID
				opts.Decision = domain.Decision(decision)
				opts.RiskAssessment = domain.RiskLevel(riskAssessment)
				rv, err := c.Engine.SubmitReview(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rv)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "decision (approve, reject, return)")
	cmd.Flags().StringVar(&opts.Justification, "justification", "", "justification")
	cmd.Flags().StringVar(&opts.RiskIdentification, "risk-identification", "", "identified risks")
	cmd.Flags().StringVar(&riskAssessment, "risk-assessment", "", "risk level (low, medium, high)")
	cmd.Flags().StringVar(&opts.RiskMitigation, "risk-mitigation", "", "mitigation plan")
	cmd.Flags().StringVar(&opts.Comments, "comments", "", "free-form comments")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("justification")
	return cmd
}

func reviewPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List your pending reviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				reviews, err := c.Repo.ListPendingReviews(ctx, actor.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reviews)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Review", "Project"})
				for _, rv := range reviews {
					tw.AppendRow(table.Row{rv.ID, rv.ProjectID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commentCmd() *cobra.Command {
	cmt := &cobra.Command{
		Use:   "comment",
		Short: "Project comment threads",
	}
	cmt.AddCommand(commentAddCmd())
	cmt.AddCommand(commentListCmd())
	return cmt
}

func commentAddCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Comment on a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				cmnt, err := c.Engine.AddComment(ctx, args[0], actor.ID, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmnt)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List project comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				comments, err := c.Repo.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(comments)
			})
		},
	}
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notification",
		Short: "Manage notifications",
	}
	n.AddCommand(notificationListCmd())
	n.AddCommand(notificationReadCmd())
	n.AddCommand(notificationReadAllCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				items, err := c.Repo.ListNotifications(ctx, repo.NotificationFilters{
					UserID:     actor.ID,
					UnreadOnly: unread,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				unreadCount, err := c.Repo.CountUnreadNotifications(ctx, actor.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": items, "unread_count": unreadCount})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Read", "Created"})
				for _, nt := range items {
					tw.AppendRow(table.Row{nt.ID, nt.Type, nt.Title, nt.IsRead, nt.CreatedAt})
				}
				tw.Render()
				fmt.Printf("%d unread\n", unreadCount)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				return c.Repo.MarkNotificationRead(ctx, args[0], actor.ID)
			})
		},
	}
	return cmd
}

func notificationReadAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark all notifications read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				n, err := c.Repo.MarkAllNotificationsRead(ctx, actor.ID)
				if err != nil {
					return err
				}
				fmt.Printf("marked %d notifications read\n", n)
				return nil
			})
		},
	}
	return cmd
}

func historyCmd() *cobra.Command {
	var action string
	var limit int
	cmd := &cobra.Command{
		Use:   "history <project-id>",
		Short: "Show a project's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				entries, err := c.Repo.ListHistory(ctx, repo.HistoryFilters{
					ProjectID: args[0],
					Action:    action,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Action", "User", "Details"})
				for _, h := range entries {
					details := ""
					if h.Details != nil {
						details = *h.Details
					}
					tw.AppendRow(table.Row{h.CreatedAt, h.Action, h.UserID, details})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				key, raw, err := c.Engine.CreateAPIKey(ctx, actor.ID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": raw})
				}
				fmt.Printf("API key %s created. Store the secret now, it is not shown again:\n%s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the acting user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, c *app.Context, actor domain.User) error {
				keys, err := c.Repo.ListAPIKeys(ctx, actor.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				return c.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCommand() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				return printJSONOrTable(c.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate greenlight.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			c, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer c.Close()
			if addr == "" {
				addr = c.Config.Server.Addr
			}
			if basePath == "" {
				basePath = c.Config.Server.BasePath
			}
			secret := os.Getenv("GREENLIGHT_JWT_SECRET")
			if secret == "" {
				secret = c.Config.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("GREENLIGHT_JWT_SECRET or auth.jwt_secret is required for bearer auth")
			}
			authCfg := server.AuthConfig{
				JWTSecret:             secret,
				AllowLegacyUserHeader: c.Config.Auth.AllowLegacyUserHeader,
			}
			handler, err := server.New(server.Config{Engine: c.Engine, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Greenlight API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	workspace := viper.GetString("workspace")
	c, err := app.Open(ctx, workspace)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func withActor(ctx context.Context, fn func(context.Context, *app.Context, domain.User) error) error {
	actorRef := strings.TrimSpace(viper.GetString("as"))
	if actorRef == "" {
		return fmt.Errorf("--as <user-id-or-email> required")
	}
	return withApp(ctx, func(ctx context.Context, c *app.Context) error {
		actor, err := c.LookupUser(ctx, actorRef)
		if err != nil {
			return fmt.Errorf("acting user %s: %w", actorRef, err)
		}
		return fn(ctx, c, actor)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

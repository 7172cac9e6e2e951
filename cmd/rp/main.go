package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rentproof/internal/app"
	"rentproof/internal/config"
	"rentproof/internal/db"
	"rentproof/internal/domain"
	"rentproof/internal/enforce"
	"rentproof/internal/engine"
	"rentproof/internal/migrate"
	"rentproof/internal/repo"
	"rentproof/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rp",
	Short: "Rentproof CLI",
	Long: `Rentproof keeps a defensible record of tenancy problems.
- Workspace: your .rentproof directory holding only the database; case config lives in the DB.
- Case: one tenancy (an address) that owns issues, evidence, communications, and packs.
- Issues: problems with the tenancy; statuses go open -> in_progress -> resolved -> closed.
- Evidence: photos, documents, receipts, and notes attached to an issue.
- Comms: a log of landlord/agent communications per issue.
- Health: a 0-100 score per issue and per case showing how defensible the record is.
- Packs: evidence bundles generated for disputes; readiness is scored before generation.
- Enforcement: risky actions (closing issues, deleting records, generating packs) are
  warned, soft-blocked, or hard-blocked depending on health; overrides are logged.
- Event log: diary of changes, view with 'rp log tail'.`,
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
	viper.SetEnvPrefix("RENTPROOF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "bypass enforcement gating")
	rootCmd.PersistentFlags().String("case", "", "case id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("case", rootCmd.PersistentFlags().Lookup("case"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(commsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(packCmd())
	rootCmd.AddCommand(enforceCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func gateOptions(cmd *cobra.Command) engine.GateOptions {
	confirm, _ := cmd.Flags().GetBool("confirm")
	reason, _ := cmd.Flags().GetString("reason")
	return engine.GateOptions{
		ActorID: viper.GetString("actor-id"),
		Confirm: confirm,
		Force:   viper.GetBool("force"),
		Reason:  optionalString(reason),
	}
}

func addGateFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("confirm", false, "acknowledge a soft-blocked action")
	cmd.Flags().String("reason", "", "reason recorded in the override log")
}

// --- case ---

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseListCmd())
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseUpdateCmd())
	c.AddCommand(caseUseCmd())
	return c
}

func caseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCases(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Address", "Status", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Address, c.Status, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func caseCreateCmd() *cobra.Command {
	var id, address, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepoEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.InitCase(ctx, id, address, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "case id (generated if empty)")
	cmd.Flags().StringVar(&address, "address", "", "tenancy address")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [case-id]",
		Short: "Show a case",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID := e.Config.Case.ID
				if len(args) == 1 {
					caseID = args[0]
				}
				c, err := e.Repo.GetCase(ctx, caseID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	return cmd
}

func caseUpdateCmd() *cobra.Command {
	var status, address, description string
	cmd := &cobra.Command{
		Use:   "update [case-id]",
		Short: "Update a case",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID := e.Config.Case.ID
				if len(args) == 1 {
					caseID = args[0]
				}
				var desc *string
				if cmd.Flags().Changed("description") {
					desc = &description
				}
				c, err := e.UpdateCase(ctx, caseID, status, address, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active|archived")
	cmd.Flags().StringVar(&address, "address", "", "tenancy address")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func caseUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <case-id>",
		Short: "Set the default case for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			envPath := filepath.Join(workspace, ".env")
			if err := setEnvValue(envPath, "RENTPROOF_CASE", args[0]); err != nil {
				return err
			}
			fmt.Printf("Default case set to %s in %s\n", args[0], envPath)
			return nil
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Case configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective case config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrIndent(e.Config)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default rentproof.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			caseID := viper.GetString("case")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(caseID)), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Import rentproof.yml into the case config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workspace := viper.GetString("workspace")
				cfg, err := config.Load(workspace)
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				caseID := e.Config.Case.ID
				cfg.Case.ID = caseID
				if err := e.Repo.UpsertCaseConfig(ctx, caseID, cfg); err != nil {
					return err
				}
				fmt.Println("Imported config for case", caseID)
				return nil
			})
		},
	})
	return c
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show case status and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID := e.Config.Case.ID
				c, err := e.Repo.GetCase(ctx, caseID)
				if err != nil {
					return err
				}
				h, err := e.CaseHealth(ctx, caseID)
				if err != nil {
					return err
				}
				step, err := e.NextStep(ctx, caseID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"case_id":   c.ID,
					"address":   c.Address,
					"status":    c.Status,
					"health":    h,
					"next_step": step,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Case: %s (%s)\n", c.ID, c.Address)
				fmt.Printf("Health: %d/100 %s - %s\n", h.Score, h.Status, h.Label)
				fmt.Printf("Next: %s - %s\n", step.Title, step.Detail)
				return nil
			})
		},
	}
}

// --- issue ---

func issueCmd() *cobra.Command {
	c := &cobra.Command{Use: "issue", Short: "Manage issues"}
	c.AddCommand(issueCreateCmd())
	c.AddCommand(issueListCmd())
	c.AddCommand(issueShowCmd())
	c.AddCommand(issueUpdateCmd())
	c.AddCommand(issueStatusCmd())
	c.AddCommand(issueArchiveCmd())
	return c
}

func issueCreateCmd() *cobra.Command {
	var title, description, severity string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				is, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
					CaseID:      e.Config.Case.ID,
					Title:       title,
					Description: description,
					Severity:    optionalString(severity),
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(is)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&description, "description", "", "issue description")
	cmd.Flags().StringVar(&severity, "severity", "", "low|medium|high|urgent")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	var status, severity string
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListIssues(ctx, repo.IssueFilters{
					CaseID:          e.Config.Case.ID,
					Status:          status,
					Severity:        severity,
					IncludeArchived: includeArchived,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Severity", "Updated"})
				for _, is := range items {
					sev := ""
					if is.Severity != nil {
						sev = *is.Severity
					}
					tw.AppendRow(table.Row{is.ID, is.Title, is.Status, sev, is.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived issues")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				is, err := e.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(is)
			})
		},
	}
}

func issueUpdateCmd() *cobra.Command {
	var title, description, severity string
	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Update an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.IssueUpdateOptions{ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("severity") {
					opts.Severity = &severity
				}
				is, err := e.UpdateIssue(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrIndent(is)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&description, "description", "", "issue description")
	cmd.Flags().StringVar(&severity, "severity", "", "low|medium|high|urgent")
	return cmd
}

func issueStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <issue-id> <status>",
		Short: "Change issue status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				is, err := e.SetIssueStatus(ctx, args[0], args[1], gateOptions(cmd))
				if err != nil {
					return renderEnforcementError(err)
				}
				return printJSONOrIndent(is)
			})
		},
	}
	addGateFlags(cmd)
	return cmd
}

func issueArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <issue-id>",
		Short: "Archive an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				is, err := e.ArchiveIssue(ctx, args[0], gateOptions(cmd))
				if err != nil {
					return renderEnforcementError(err)
				}
				return printJSONOrIndent(is)
			})
		},
	}
	addGateFlags(cmd)
	return cmd
}

// --- evidence ---

func evidenceCmd() *cobra.Command {
	c := &cobra.Command{Use: "evidence", Short: "Manage evidence"}
	c.AddCommand(evidenceAddCmd())
	c.AddCommand(evidenceListCmd())
	c.AddCommand(evidenceDeleteCmd())
	return c
}

func evidenceAddCmd() *cobra.Command {
	var issueID, kind, label, uri, sha string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Attach evidence to an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.AddEvidence(ctx, engine.EvidenceAddOptions{
					IssueID: issueID,
					Kind:    kind,
					Label:   label,
					URI:     uri,
					SHA256:  sha,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(ev)
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id")
	cmd.Flags().StringVar(&kind, "kind", "", "photo|document|receipt|note")
	cmd.Flags().StringVar(&label, "label", "", "short label")
	cmd.Flags().StringVar(&uri, "uri", "", "file location")
	cmd.Flags().StringVar(&sha, "sha256", "", "content digest")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func evidenceListCmd() *cobra.Command {
	var issueID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List evidence on an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEvidence(ctx, issueID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Label", "Created"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.Kind, ev.Label, ev.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func evidenceDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <evidence-id>",
		Short: "Delete evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteEvidence(ctx, args[0], gateOptions(cmd)); err != nil {
					return renderEnforcementError(err)
				}
				fmt.Println("Deleted", args[0])
				return nil
			})
		},
	}
	addGateFlags(cmd)
	return cmd
}

// --- comms ---

func commsCmd() *cobra.Command {
	c := &cobra.Command{Use: "comms", Short: "Manage communication records"}
	c.AddCommand(commsAddCmd())
	c.AddCommand(commsListCmd())
	c.AddCommand(commsDeleteCmd())
	return c
}

func commsAddCmd() *cobra.Command {
	var issueID, direction, channel, summary, occurredAt string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Log a communication",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComm(ctx, engine.CommAddOptions{
					IssueID:    issueID,
					Direction:  direction,
					Channel:    channel,
					Summary:    summary,
					OccurredAt: occurredAt,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id")
	cmd.Flags().StringVar(&direction, "direction", "", "inbound|outbound")
	cmd.Flags().StringVar(&channel, "channel", "", "email|phone|letter|in_person|portal")
	cmd.Flags().StringVar(&summary, "summary", "", "what was said")
	cmd.Flags().StringVar(&occurredAt, "occurred-at", "", "RFC3339 timestamp (defaults to now)")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("direction")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func commsListCmd() *cobra.Command {
	var issueID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List communications on an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListComms(ctx, issueID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Direction", "Channel", "Summary", "Occurred"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Direction, c.Channel, c.Summary, c.OccurredAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func commsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <comm-id>",
		Short: "Delete a communication record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteComm(ctx, args[0], gateOptions(cmd)); err != nil {
					return renderEnforcementError(err)
				}
				fmt.Println("Deleted", args[0])
				return nil
			})
		},
	}
	addGateFlags(cmd)
	return cmd
}

// --- health / next ---

func healthCmd() *cobra.Command {
	var issueID string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show case or issue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := func() (any, error) {
					if issueID != "" {
						return e.IssueHealth(ctx, issueID)
					}
					return e.CaseHealth(ctx, e.Config.Case.ID)
				}()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				data, _ := json.Marshal(h)
				var view struct {
					Score   int    `json:"score"`
					Status  string `json:"status"`
					Label   string `json:"label"`
					Factors []struct {
						Name           string `json:"name"`
						Points         int    `json:"points"`
						MaxPoints      int    `json:"max_points"`
						Status         string `json:"status"`
						Recommendation string `json:"recommendation"`
					} `json:"factors"`
				}
				if err := json.Unmarshal(data, &view); err != nil {
					return err
				}
				fmt.Printf("Health: %d/100 %s - %s\n", view.Score, view.Status, view.Label)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Factor", "Points", "Max", "Status", "Recommendation"})
				for _, f := range view.Factors {
					tw.AppendRow(table.Row{f.Name, f.Points, f.MaxPoints, f.Status, f.Recommendation})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "score a single issue instead of the case")
	return cmd
}

func nextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Recommended next step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				step, err := e.NextStep(ctx, e.Config.Case.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(step)
				}
				fmt.Printf("[%s] %s\n%s\n", step.Urgency, step.Title, step.Detail)
				return nil
			})
		},
	}
}

// --- pack ---

func packCmd() *cobra.Command {
	c := &cobra.Command{Use: "pack", Short: "Evidence packs"}
	c.AddCommand(packReadinessCmd())
	c.AddCommand(packGenerateCmd())
	c.AddCommand(packListCmd())
	return c
}

func packReadinessCmd() *cobra.Command {
	var issueIDs []string
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Preview pack readiness for selected issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.PackReadiness(ctx, e.Config.Case.ID, issueIDs)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("Readiness: %d/100 %s - %s\n", r.Score, r.Status, r.Label)
				fmt.Printf("Coverage: %d included, %d excluded of %d open\n",
					r.Coverage.Included, r.Coverage.Excluded, r.Coverage.TotalOpen)
				if len(r.Warnings) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Type", "Code", "Message"})
					for _, w := range r.Warnings {
						tw.AppendRow(table.Row{w.Type, w.Code, w.Message})
					}
					tw.Render()
				}
				if r.RequiresConfirmation {
					fmt.Println("Generating this pack will require --confirm.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&issueIDs, "issues", nil, "issue ids to include")
	_ = cmd.MarkFlagRequired("issues")
	return cmd
}

func packGenerateCmd() *cobra.Command {
	var title string
	var issueIDs []string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an evidence pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, r, err := e.GeneratePack(ctx, engine.PackGenerateOptions{
					CaseID:      e.Config.Case.ID,
					Title:       title,
					SelectedIDs: issueIDs,
					GateOptions: gateOptions(cmd),
				})
				if err != nil {
					return renderEnforcementError(err)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"pack": p, "readiness": r})
				}
				fmt.Printf("Pack %s generated: readiness %d/100 %s\n", p.ID, p.ReadinessScore, p.ReadinessStatus)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "pack title")
	cmd.Flags().StringSliceVar(&issueIDs, "issues", nil, "issue ids to include")
	addGateFlags(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("issues")
	return cmd
}

func packListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List generated packs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPacks(ctx, e.Config.Case.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Issues", "Readiness", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, len(p.IssueIDs), fmt.Sprintf("%d (%s)", p.ReadinessScore, p.ReadinessStatus), p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- enforce ---

func enforceCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "enforce",
		Short: "Preview an enforcement decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CheckEnforcement(ctx, e.Config.Case.ID, enforce.Action(action))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s at %s health (%d): %s\n", res.Context.Action, res.Context.HealthStatus, res.Context.HealthScore, res.Level)
				fmt.Println(res.Message.Title)
				if res.Message.Description != "" {
					fmt.Println(res.Message.Description)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "generate_pack|close_issue|resolve_issue|delete_evidence|delete_comms|archive_issue")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Audit trails"}
	c.AddCommand(logTailCmd())
	c.AddCommand(logOverridesCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Case.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func logOverridesCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Show the override log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListOverrides(ctx, e.Config.Case.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Actor", "Action", "Level", "Health", "Plan"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.CreatedAt, o.ActorID, o.Action, o.Level, fmt.Sprintf("%s (%d)", o.HealthStatus, o.HealthScore), o.PlanID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

// --- apikey ---

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	c.AddCommand(apikeyCreateCmd())
	c.AddCommand(apikeyListCmd())
	c.AddCommand(apikeyDeleteCmd())
	return c
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key (plaintext shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if actorID == "" {
					actorID = viper.GetString("actor-id")
				}
				plaintext, key, err := mintAPIKey(ctx, r, actorID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": plaintext})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.ActorID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted", args[0])
				return nil
			})
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveCaseAndConfig(cmd.Context(), workspace, viper.GetString("case"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("RENTPROOF_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("RENTPROOF_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Rentproof API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveCaseAndConfig(ctx, workspace, viper.GetString("case"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

// withRepoEngine opens the engine without resolving a default case first,
// for commands that create the case themselves.
func withRepoEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, config.Default(""))
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// renderEnforcementError prints the user-facing enforcement message before
// returning the error, so a blocked CLI action explains itself.
func renderEnforcementError(err error) error {
	var be enforce.BlockedError
	if errors.As(err, &be) {
		fmt.Println(be.Result.Message.Title)
		if be.Result.Message.Description != "" {
			fmt.Println(be.Result.Message.Description)
		}
		return err
	}
	var ce enforce.ConfirmationRequiredError
	if errors.As(err, &ce) {
		fmt.Println(ce.Result.Message.Title)
		if ce.Result.Message.Description != "" {
			fmt.Println(ce.Result.Message.Description)
		}
		fmt.Println("Re-run with --confirm to proceed; the override will be logged.")
		return err
	}
	return err
}

func printJSONOrIndent(v any) error {
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func mintAPIKey(ctx context.Context, r repo.Repo, actorID, name string) (string, domain.APIKey, error) {
	plaintext := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: actorID,
		Name:    name,
		KeyHash: repo.HashAPIKey(plaintext),
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		return "", key, err
	}
	return plaintext, key, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"guildpay/internal/app"
	"guildpay/internal/db"
	"guildpay/internal/domain"
	"guildpay/internal/engine"
	"guildpay/internal/repo"
	"guildpay/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gp",
	Short: "GuildPay CLI",
	Long: `GuildPay runs escrow-backed work commitments for guilds.
- Guilds: groups of addresses with roles (owner > admin > member > contributor).
- Bounties: single-payout tasks. Funds lock in escrow when funded and release
  to the claimer on approval. Past-due bounties expire on touch.
- Projects: multi-phase agreements with per-milestone payouts from a treasury
  account. Milestones can be sequential or parallel.
- Disputes: locks that freeze settlement on a bounty or milestone until lifted.
- Ledger: per-account, per-currency balances with an escrow custody account.
- Event log: append-only diary of every change, view with 'gp log tail'.`,
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
	viper.SetEnvPrefix("GUILDPAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "acting address")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(guildCmd())
	rootCmd.AddCommand(bountyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitWorkspace(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Printf("Initialized workspace, config at %s\n", path)
			return nil
		},
	}
}

func guildCmd() *cobra.Command {
	g := &cobra.Command{Use: "guild", Short: "Manage guilds and membership"}
	g.AddCommand(guildCreateCmd())
	g.AddCommand(guildListCmd())
	g.AddCommand(guildShowCmd())
	g.AddCommand(guildMemberCmd())
	return g
}

func guildCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create guild",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGuild(ctx, name, desc, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "guild name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func guildListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List guilds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListGuilds(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Members"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.Name, g.Owner, g.MemberCount})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func guildShowCmd() *cobra.Command {
	var withMembers bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.GetGuild(ctx, id)
				if err != nil {
					return err
				}
				if !withMembers {
					return printJSONOrTable(g)
				}
				members, err := e.Repo.ListMembers(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"guild": g, "members": members})
			})
		},
	}
	cmd.Flags().BoolVar(&withMembers, "members", false, "include member list")
	return cmd
}

func guildMemberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage guild members"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberRemoveCmd())
	m.AddCommand(memberRoleCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var guildID int64
	var address, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add member to guild",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMember(ctx, guildID, viper.GetString("actor"), address, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().Int64Var(&guildID, "guild", 0, "guild id")
	cmd.Flags().StringVar(&address, "address", "", "member address")
	cmd.Flags().StringVar(&role, "role", domain.RoleMember, "role (owner, admin, member, contributor)")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	var guildID int64
	var address string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove member from guild",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveMember(ctx, guildID, viper.GetString("actor"), address)
			})
		},
	}
	cmd.Flags().Int64Var(&guildID, "guild", 0, "guild id")
	cmd.Flags().StringVar(&address, "address", "", "member address")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func memberRoleCmd() *cobra.Command {
	var guildID int64
	var address, role string
	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Change member role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdateRole(ctx, guildID, viper.GetString("actor"), address, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().Int64Var(&guildID, "guild", 0, "guild id")
	cmd.Flags().StringVar(&address, "address", "", "member address")
	cmd.Flags().StringVar(&role, "role", "", "new role")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func memberListCmd() *cobra.Command {
	var guildID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List guild members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMembers(ctx, guildID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Address", "Role", "Joined"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.Address, m.Role, m.JoinedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&guildID, "guild", 0, "guild id")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func bountyCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "bounty",
		Short: "Manage bounties",
		Long:  "Bounties flow awaiting_funds -> open -> claimed -> under_review -> completed. Funding locks value in escrow; release pays the claimer; cancel refunds the creator. Past-due bounties expire on touch.",
	}
	b.AddCommand(bountyCreateCmd())
	b.AddCommand(bountyListCmd())
	b.AddCommand(bountyShowCmd())
	b.AddCommand(bountyFundCmd())
	b.AddCommand(bountyClaimCmd())
	b.AddCommand(bountySubmitCmd())
	b.AddCommand(bountyApproveCmd())
	b.AddCommand(bountyReleaseCmd())
	b.AddCommand(bountyCancelCmd())
	b.AddCommand(bountyExpireCmd())
	return b
}

func bountyCreateCmd() *cobra.Command {
	var opts engine.BountyCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create bounty",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Creator = viper.GetString("actor")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.CreateBounty(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.GuildID, "guild", 0, "guild id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Int64Var(&opts.RewardAmount, "reward", 0, "reward amount")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "currency (default from config)")
	cmd.Flags().Int64Var(&opts.ExpiresAt, "expires-at", 0, "expiry unix timestamp")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("expires-at")
	return cmd
}

func bountyListCmd() *cobra.Command {
	var guildID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List guild bounties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListGuildBounties(ctx, guildID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Reward", "Funded", "Claimer"})
				for _, b := range items {
					claimer := ""
					if b.Claimer != nil {
						claimer = *b.Claimer
					}
					tw.AppendRow(table.Row{b.ID, b.Title, b.Status, b.RewardAmount, b.FundedAmount, claimer})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&guildID, "guild", 0, "guild id")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func bountyShowCmd() *cobra.Command {
	return bountyIDCmd("show <id>", "Show bounty", func(ctx context.Context, e engine.Engine, id int64) (any, error) {
		return e.Repo.GetBounty(ctx, id)
	})
}

func bountyFundCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "fund <id>",
		Short: "Fund bounty escrow from your account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.FundBounty(ctx, id, viper.GetString("actor"), amount)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount to lock")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func bountyClaimCmd() *cobra.Command {
	return bountyIDCmd("claim <id>", "Claim bounty", func(ctx context.Context, e engine.Engine, id int64) (any, error) {
		return e.ClaimBounty(ctx, id, viper.GetString("actor"))
	})
}

func bountySubmitCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit bounty work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.SubmitWork(ctx, id, viper.GetString("actor"), url)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "submission url")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func bountyApproveCmd() *cobra.Command {
	return bountyIDCmd("approve <id>", "Approve bounty submission", func(ctx context.Context, e engine.Engine, id int64) (any, error) {
		return e.ApproveBounty(ctx, id, viper.GetString("actor"))
	})
}

func bountyReleaseCmd() *cobra.Command {
	return bountyIDCmd("release <id>", "Release escrow to the claimer", func(ctx context.Context, e engine.Engine, id int64) (any, error) {
		return e.ReleaseEscrow(ctx, id, viper.GetString("actor"))
	})
}

func bountyCancelCmd() *cobra.Command {
	return bountyIDCmd("cancel <id>", "Cancel bounty and refund escrow", func(ctx context.Context, e engine.Engine, id int64) (any, error) {
		return e.CancelBounty(ctx, id, viper.GetString("actor"))
	})
}

func bountyExpireCmd() *cobra.Command {
	return bountyIDCmd("expire <id>", "Settle a past-due bounty", func(ctx context.Context, e engine.Engine, id int64) (any, error) {
		b, expired, err := e.ExpireBounty(ctx, id, viper.GetString("actor"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"bounty": b, "expired": expired}, nil
	})
}

func bountyIDCmd(use, short string, fn func(context.Context, engine.Engine, int64) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := fn(ctx, e, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func projectCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "project",
		Short: "Manage milestone projects",
		Long:  "Projects pay a contributor from a treasury account milestone by milestone. Sequential projects require each milestone to finish before the next starts.",
	}
	p.AddCommand(projectCreateCmd())
	p.AddCommand(projectListCmd())
	p.AddCommand(projectShowCmd())
	p.AddCommand(projectProgressCmd())
	p.AddCommand(projectCancelCmd())
	p.AddCommand(projectAddMilestoneCmd())
	return p
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var milestonesJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project with milestones",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = viper.GetString("actor")
			if err := json.Unmarshal([]byte(milestonesJSON), &opts.Milestones); err != nil {
				return fmt.Errorf("invalid --milestones-json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, ms, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "milestones": ms})
			})
		},
	}
	cmd.Flags().Int64Var(&opts.GuildID, "guild", 0, "guild id")
	cmd.Flags().StringVar(&opts.Contributor, "contributor", "", "contributor address")
	cmd.Flags().StringVar(&opts.Treasury, "treasury", "", "treasury account")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "currency (default from config)")
	cmd.Flags().Int64Var(&opts.TotalAmount, "total", 0, "total amount (0 derives from milestones)")
	cmd.Flags().BoolVar(&opts.IsSequential, "sequential", false, "milestones must complete in order")
	cmd.Flags().StringVar(&milestonesJSON, "milestones-json", "", `milestones JSON, e.g. [{"title":"Design","payment_amount":100,"deadline":1750000000}]`)
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("contributor")
	_ = cmd.MarkFlagRequired("treasury")
	_ = cmd.MarkFlagRequired("milestones-json")
	return cmd
}

func projectListCmd() *cobra.Command {
	var guildID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List guild projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListGuildProjects(ctx, guildID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Contributor", "Status", "Total", "Released", "Sequential"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Contributor, p.Status, p.TotalAmount, p.ReleasedAmount, p.IsSequential})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&guildID, "guild", 0, "guild id")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show project with milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, id)
				if err != nil {
					return err
				}
				ms, err := e.Repo.ListProjectMilestones(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "milestones": ms})
			})
		},
	}
}

func projectProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Show project progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				prog, err := e.ProjectProgress(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prog)
				}
				fmt.Printf("%d/%d milestones approved (%d%%)\n", prog.Completed, prog.Total, prog.Percentage)
				return nil
			})
		},
	}
}

func projectCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CancelProject(ctx, id, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectAddMilestoneCmd() *cobra.Command {
	var in domain.MilestoneInput
	cmd := &cobra.Command{
		Use:   "add-milestone <project-id>",
		Short: "Append milestone to project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMilestone(ctx, id, viper.GetString("actor"), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().Int64Var(&in.PaymentAmount, "payment", 0, "payment amount")
	cmd.Flags().Int64Var(&in.Deadline, "deadline", 0, "deadline unix timestamp")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("payment")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{Use: "milestone", Short: "Drive milestones through their lifecycle"}
	m.AddCommand(milestoneShowCmd())
	m.AddCommand(milestoneStartCmd())
	m.AddCommand(milestoneSubmitCmd())
	m.AddCommand(milestoneApproveCmd())
	m.AddCommand(milestoneRejectCmd())
	m.AddCommand(milestoneExtendCmd())
	return m
}

func milestoneShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Repo.GetMilestone(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func milestoneStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start milestone (contributor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.StartMilestone(ctx, id, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func milestoneSubmitCmd() *cobra.Command {
	var proof string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit milestone work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SubmitMilestone(ctx, id, viper.GetString("actor"), proof)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&proof, "proof-url", "", "proof url")
	_ = cmd.MarkFlagRequired("proof-url")
	return cmd
}

func milestoneApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve milestone and release payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ApproveMilestone(ctx, id, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func milestoneRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject milestone submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.RejectMilestone(ctx, id, viper.GetString("actor"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func milestoneExtendCmd() *cobra.Command {
	var deadline int64
	cmd := &cobra.Command{
		Use:   "extend <id>",
		Short: "Extend milestone deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ExtendMilestoneDeadline(ctx, id, viper.GetString("actor"), deadline)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().Int64Var(&deadline, "deadline", 0, "new deadline unix timestamp")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func ledgerCmd() *cobra.Command {
	l := &cobra.Command{Use: "ledger", Short: "Account balances and deposits"}
	l.AddCommand(ledgerDepositCmd())
	l.AddCommand(ledgerBalancesCmd())
	return l
}

func ledgerDepositCmd() *cobra.Command {
	var account, currency string
	var amount int64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit funds into an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if account == "" {
					account = viper.GetString("actor")
				}
				if err := e.Deposit(ctx, account, currency, amount, viper.GetString("actor")); err != nil {
					return err
				}
				balances, err := e.Ledger.Balances(ctx, account)
				if err != nil {
					return err
				}
				return printJSONOrTable(balances)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account (defaults to --actor)")
	cmd.Flags().StringVar(&currency, "currency", "", "currency (default from config)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func ledgerBalancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances <account>",
		Short: "Show account balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Ledger.Balances(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Currency", "Amount"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.Currency, b.Amount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func disputeCmd() *cobra.Command {
	d := &cobra.Command{Use: "dispute", Short: "Freeze and unfreeze settlement"}
	d.AddCommand(disputeLockCmd())
	d.AddCommand(disputeUnlockCmd())
	d.AddCommand(disputeListCmd())
	return d
}

func disputeLockCmd() *cobra.Command {
	var kind string
	var itemID int64
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock a bounty or milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.LockDispute(ctx, kind, itemID, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "item kind (bounty, milestone)")
	cmd.Flags().Int64Var(&itemID, "id", 0, "item id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func disputeUnlockCmd() *cobra.Command {
	var kind string
	var itemID int64
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Lift a dispute lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnlockDispute(ctx, kind, itemID, viper.GetString("actor"))
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "item kind (bounty, milestone)")
	cmd.Flags().Int64Var(&itemID, "id", 0, "item id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func disputeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active dispute locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDisputeLocks(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rawKey := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is only printed here; the server stores the hash.
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": rawKey})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "actor the key acts as (defaults to --actor)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Module", "Action", "Entity", "Actor"})
				for _, evt := range events {
					entity := evt.EntityKind
					if evt.EntityID != 0 {
						entity = fmt.Sprintf("%s/%d", evt.EntityKind, evt.EntityID)
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Module, evt.Action, entity, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&f.GuildID, "guild", 0, "guild filter")
	cmd.Flags().StringVar(&f.Module, "module", "", "module filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().Int64Var(&f.EntityID, "entity-id", 0, "entity id filter")
	return cmd
}

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
			e, cleanup, err := app.OpenEngine(workspace)
			if err != nil {
				return err
			}
			defer cleanup()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GUILDPAY_JWT_SECRET"),
				AllowLegacyActorHeader: e.Config.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = e.Config.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GUILDPAY_JWT_SECRET or auth.jwt_secret is required for bearer auth")
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
			fmt.Printf("Serving GuildPay API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
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
	e, cleanup, err := app.OpenEngine(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, e)
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
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

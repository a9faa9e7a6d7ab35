package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bidline/internal/engine"
	"bidline/internal/followup"
	"bidline/internal/lifecycle"
	"bidline/internal/timeparsing"
)

func followupCmd() *cobra.Command {
	fu := &cobra.Command{
		Use:   "followup",
		Short: "Vendor follow-up dashboards",
		Long:  "Every open vendor assignment has one next deadline: its earliest open phase, or its legacy follow-up date when it has no phases. --today accepts 2024-06-10, +2d, -1w, tomorrow or next monday.",
	}
	fu.AddCommand(followupDashboardCmd())
	fu.AddCommand(followupProjectCmd())
	fu.AddCommand(followupSoonestCmd())
	return fu
}

func vendorCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "vendor",
		Short: "Record vendor responses",
	}
	v.AddCommand(vendorListCmd())
	v.AddCommand(vendorReceiveCmd())
	v.AddCommand(vendorCloseoutCmd())
	return v
}

func followupDashboardCmd() *cobra.Command {
	var today, state, apmState string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Urgency counts and next deadlines across projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			general, err := lifecycle.ParseGeneralState(state)
			if err != nil {
				return err
			}
			apm, err := lifecycle.ParseApmState(apmState)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				day, err := timeparsing.ParseDay(today, e.Today())
				if err != nil {
					return err
				}
				d, err := e.FollowUpDashboard(ctx, day, engine.DashboardFilter{General: general, Apm: apm})
				if err != nil {
					return err
				}
				return printDashboard(d)
			})
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "reference day (default: today)")
	cmd.Flags().StringVar(&state, "state", string(lifecycle.Active), "general state filter; empty for all")
	cmd.Flags().StringVar(&apmState, "apm-state", "", "APM state filter")
	return cmd
}

func followupProjectCmd() *cobra.Command {
	var id int64
	var today string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Follow-ups of one project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				day, err := timeparsing.ParseDay(today, e.Today())
				if err != nil {
					return err
				}
				d, err := e.ProjectFollowUps(ctx, id, day)
				if err != nil {
					return err
				}
				return printDashboard(d)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "project id")
	cmd.Flags().StringVar(&today, "today", "", "reference day (default: today)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func followupSoonestCmd() *cobra.Command {
	var assignmentID int64
	cmd := &cobra.Command{
		Use:   "soonest",
		Short: "Earliest open phases of one vendor assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				open, err := e.SoonestOpenPhase(ctx, assignmentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(open)
				}
				if open.SoonestDate == nil {
					fmt.Println("No open phases.")
					return nil
				}
				level := e.Config.Classifier().Classify(e.Today(), open.SoonestDate)
				names := make([]string, len(open.Phases))
				for i, p := range open.Phases {
					names[i] = p.PhaseName
				}
				fmt.Printf("%s %s: %s\n", open.SoonestDate, levelBadge(level), strings.Join(names, ", "))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&assignmentID, "assignment", 0, "vendor assignment id")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}

func vendorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				vendors, err := e.Repo.ListVendors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vendors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Company", "Contact", "Email", "Phone"})
				for _, v := range vendors {
					tw.AppendRow(table.Row{v.ID, v.CompanyName, v.ContactName, v.Email, v.Phone})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func vendorReceiveCmd() *cobra.Command {
	var assignmentID, phaseID int64
	var date string
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Mark a phase received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				day, err := timeparsing.ParseDay(date, e.Today())
				if err != nil {
					return err
				}
				if err := e.ReceivePhase(ctx, assignmentID, phaseID, day.String(), actor()); err != nil {
					return err
				}
				fmt.Printf("Phase %d of assignment %d received on %s\n", phaseID, assignmentID, day)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&assignmentID, "assignment", 0, "vendor assignment id")
	cmd.Flags().Int64Var(&phaseID, "phase", 0, "phase id")
	cmd.Flags().StringVar(&date, "date", "", "received date (default: today)")
	_ = cmd.MarkFlagRequired("assignment")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func vendorCloseoutCmd() *cobra.Command {
	var assignmentID int64
	var date string
	var reopen bool
	cmd := &cobra.Command{
		Use:   "closeout",
		Short: "Record closeout for a vendor assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				value := ""
				if !reopen {
					day, err := timeparsing.ParseDay(date, e.Today())
					if err != nil {
						return err
					}
					value = day.String()
				}
				if err := e.Closeout(ctx, assignmentID, value, actor()); err != nil {
					return err
				}
				if reopen {
					fmt.Printf("Assignment %d reopened\n", assignmentID)
				} else {
					fmt.Printf("Assignment %d closed out on %s\n", assignmentID, value)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&assignmentID, "assignment", 0, "vendor assignment id")
	cmd.Flags().StringVar(&date, "date", "", "closeout received date (default: today)")
	cmd.Flags().BoolVar(&reopen, "reopen", false, "clear the closeout date")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}

func printDashboard(d engine.Dashboard) error {
	if viper.GetBool("json") {
		return printJSON(d)
	}
	parts := make([]string, 0, len(followup.Levels))
	for _, l := range followup.Levels {
		parts = append(parts, fmt.Sprintf("%s %d", levelBadge(l), d.Counts.Get(l)))
	}
	fmt.Printf("Today %s: %s\n", d.Today, strings.Join(parts, "  "))
	if d.Soonest.Date != nil {
		fmt.Printf("Next deadline %s (%d vendors): %s\n", d.Soonest.Date, d.Soonest.AssignmentCount, strings.Join(d.Soonest.PhaseNames, ", "))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Assignment", "Project", "Vendor", "Next follow-up", "Urgency", "Phases"})
	for _, r := range d.Rows {
		next, badge := "", ""
		if r.NextFollowUp != nil {
			next = r.NextFollowUp.String()
			badge = levelBadge(r.Level)
		}
		tw.AppendRow(table.Row{r.AssignmentID, r.ProjectName, r.VendorName, next, badge, strings.Join(r.PhaseNames, ", ")})
	}
	tw.Render()
	return nil
}

func levelBadge(l followup.Level) string {
	switch l {
	case followup.Overdue:
		return color.New(color.FgRed, color.Bold).Sprint("overdue")
	case followup.DueToday:
		return color.New(color.FgRed).Sprint("due today")
	case followup.Critical:
		return color.New(color.FgYellow).Sprint("critical")
	default:
		return color.New(color.Faint).Sprint("normal")
	}
}

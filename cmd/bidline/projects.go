package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bidline/internal/engine"
	"bidline/internal/lifecycle"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Inspect projects and move them through the general lifecycle",
	}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStateCmd())
	prj.AddCommand(bulkCmd(lifecycle.Archive, "archive", "Archive projects"))
	prj.AddCommand(bulkCmd(lifecycle.Hold, "hold", "Put projects on hold"))
	prj.AddCommand(bulkCmd(lifecycle.Activate, "activate", "Reactivate projects"))
	return prj
}

func apmCmd() *cobra.Command {
	apm := &cobra.Command{
		Use:   "apm",
		Short: "Move projects through the APM lifecycle",
		Long:  "APM is a separate lifecycle a project joins with 'apm send'. Archive, hold and activate only apply to projects already in APM.",
	}
	apm.AddCommand(bulkCmd(lifecycle.ApmSend, "send", "Send projects to APM"))
	apm.AddCommand(bulkCmd(lifecycle.ApmArchive, "archive", "Archive projects in APM"))
	apm.AddCommand(bulkCmd(lifecycle.ApmHold, "hold", "Put projects on hold in APM"))
	apm.AddCommand(bulkCmd(lifecycle.ApmActivate, "activate", "Reactivate projects in APM"))
	apm.AddCommand(bulkCmd(lifecycle.ApmRemove, "remove", "Take projects out of APM"))
	return apm
}

func projectListCmd() *cobra.Command {
	var state, apmState string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects with their derived states",
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
				views, err := e.ListProjects(ctx, general, apm)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "State", "APM", "Bid date"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.Project.ID, v.Project.Name, v.States.General, v.States.Apm, deref(v.Project.BidDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "general state filter (active, on_hold, archived)")
	cmd.Flags().StringVar(&apmState, "apm-state", "", "APM state filter (not_in_apm, active, on_hold, archived)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project as stored",
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
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <id>",
		Short: "Show derived states and the transitions currently available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.ProjectState(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				names := make([]string, len(v.Available))
				for i, t := range v.Available {
					names[i] = string(t)
				}
				fmt.Printf("Project %d: %s\n", v.Project.ID, v.Project.Name)
				fmt.Printf("  general: %s\n", v.States.General)
				fmt.Printf("  apm:     %s\n", v.States.Apm)
				fmt.Printf("  available: %s\n", strings.Join(names, ", "))
				return nil
			})
		},
	}
	return cmd
}

func bulkCmd(t lifecycle.Transition, use, short string) *cobra.Command {
	var ids []int64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.BulkTransition(ctx, ids, t, actor())
				if err != nil {
					return err
				}
				if err := printBulkResult(res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("%d of %d projects failed", res.FailureCount, res.SuccessCount+res.FailureCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "project ids, e.g. --ids 101,102")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}

func printBulkResult(res engine.BulkResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	fmt.Printf("%s %d succeeded, %d failed (batch %s)\n", green("✓"), res.SuccessCount, res.FailureCount, res.BatchID)
	for _, msg := range res.Errors {
		fmt.Printf("  %s %s\n", red("✗"), msg)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

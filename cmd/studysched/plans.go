package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studysched/internal/app"
	"studysched/internal/schedule"
	"studysched/internal/survey"
)

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Manage schedule plans"}
	plan.AddCommand(planCreateCmd())
	plan.AddCommand(planUpdateCmd())
	plan.AddCommand(planListCmd())
	plan.AddCommand(planGetCmd())
	plan.AddCommand(planDeleteCmd())
	return plan
}

func planCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var p schedule.SchedulePlan
				if err := decodeFile(file, &p); err != nil {
					return err
				}
				if p.StudyID == "" {
					p.StudyID = studyID(a)
				}
				created, err := a.Plans().Create(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("created plan %s (version %d)\n", created.Guid, created.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "plan file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func planUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace a plan; the file must carry guid and the current version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var p schedule.SchedulePlan
				if err := decodeFile(file, &p); err != nil {
					return err
				}
				if p.StudyID == "" {
					p.StudyID = studyID(a)
				}
				updated, err := a.Plans().Update(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(updated)
				}
				fmt.Printf("updated plan %s (version %d)\n", updated.Guid, updated.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "plan file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func planListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plans of the study",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				plans, err := a.Plans().List(ctx, studyID(a))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Guid", "Label", "Strategy", "Version", "Modified"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.Guid, p.Label, p.Strategy.Type, p.Version, p.ModifiedOn.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func planGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <guid>",
		Short: "Print a plan as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Plans().Get(ctx, studyID(a), args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func planDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <guid>",
		Short: "Delete a plan and its unstarted activities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Plans().Delete(ctx, studyID(a), args[0]); err != nil {
					return err
				}
				fmt.Println("deleted plan", args[0])
				return nil
			})
		},
	}
}

func surveyCmd() *cobra.Command {
	s := &cobra.Command{Use: "survey", Short: "Manage the survey catalog"}
	s.AddCommand(surveyPutCmd())
	s.AddCommand(surveyPublishCmd())
	s.AddCommand(surveyListCmd())
	return s
}

func surveyPutCmd() *cobra.Command {
	var v survey.Survey
	var createdOn string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Store a survey version",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAt(createdOn)
			if err != nil {
				return err
			}
			v.CreatedOn = at.Truncate(time.Millisecond)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Store().PutSurvey(ctx, v); err != nil {
					return err
				}
				fmt.Printf("stored survey %s@%s\n", v.Guid, v.CreatedOn.Format(time.RFC3339Nano))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&v.Guid, "guid", "", "survey guid")
	cmd.Flags().StringVar(&v.Identifier, "identifier", "", "survey identifier")
	cmd.Flags().StringVar(&v.Name, "name", "", "display name")
	cmd.Flags().BoolVar(&v.Published, "published", false, "publish this version")
	cmd.Flags().StringVar(&createdOn, "created-on", "", "version timestamp (RFC3339, default now)")
	_ = cmd.MarkFlagRequired("guid")
	_ = cmd.MarkFlagRequired("identifier")
	return cmd
}

func surveyPublishCmd() *cobra.Command {
	var createdOn string
	cmd := &cobra.Command{
		Use:   "publish <guid>",
		Short: "Publish a survey version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := time.Parse(time.RFC3339Nano, createdOn)
			if err != nil {
				return errors.New("--created-on must be the version timestamp (RFC3339)")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Store().PublishSurvey(ctx, args[0], at)
			})
		},
	}
	cmd.Flags().StringVar(&createdOn, "created-on", "", "version timestamp")
	_ = cmd.MarkFlagRequired("created-on")
	return cmd
}

func surveyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List survey versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list, err := a.Store().ListSurveys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Guid", "Created", "Identifier", "Name", "Published"})
				for _, s := range list {
					tw.AppendRow(table.Row{s.Guid, s.CreatedOn.Format(time.RFC3339Nano), s.Identifier, s.Name, s.Published})
				}
				tw.Render()
				return nil
			})
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studysched/internal/app"
	"studysched/internal/schedule"
	"studysched/internal/scheduling"
)

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Record participant events"}
	ev.AddCommand(eventPublishCmd())
	ev.AddCommand(eventEnrollCmd())
	ev.AddCommand(eventCustomCmd())
	ev.AddCommand(eventAnswerCmd())
	ev.AddCommand(eventListCmd())
	return ev
}

func eventPublishCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "publish <health-code> <event-id>",
		Short: "Record an event by its full id (e.g. activity:<guid>:finished)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Events().Publish(ctx, args[0], args[1], ts)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "event time (RFC3339, default now)")
	return cmd
}

func eventEnrollCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "enroll <health-code>",
		Short: "Record enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Events().PublishEnrollment(ctx, args[0], ts)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "enrollment time (RFC3339, default now)")
	return cmd
}

func eventCustomCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "custom <health-code> <key>",
		Short: "Record a study-defined custom event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Events().PublishCustom(ctx, args[0], args[1], ts)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "event time (RFC3339, default now)")
	return cmd
}

func eventAnswerCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "answer <health-code> <question-guid>",
		Short: "Record that a survey question was answered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Events().PublishQuestionAnswered(ctx, args[0], args[1], ts)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "answer time (RFC3339, default now)")
	return cmd
}

func eventListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <health-code>",
		Short: "List a participant's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evs, err := a.Events().GetEventMap(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				ids := make([]string, 0, len(evs))
				for id := range evs {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(i, j int) bool { return evs[ids[i]].Before(evs[ids[j]]) })
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event", "Timestamp"})
				for _, id := range ids {
					tw.AppendRow(table.Row{id, evs[id].Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func activitiesCmd() *cobra.Command {
	act := &cobra.Command{Use: "activities", Short: "Participant activities"}
	act.AddCommand(activitiesGetCmd())
	act.AddCommand(activitiesMarkCmd("start", "Mark an activity started"))
	act.AddCommand(activitiesMarkCmd("finish", "Mark an activity finished"))
	act.AddCommand(activitiesDeleteCmd())
	return act
}

func activitiesGetCmd() *cobra.Command {
	var (
		days           int
		until          string
		p              scheduling.Participant
		accountCreated string
	)
	cmd := &cobra.Command{
		Use:   "get <health-code>",
		Short: "Generate, reconcile and print the participant's activities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loc := a.Settings().Zone
				if zone := viper.GetString("zone"); zone != "" {
					var err error
					if loc, err = time.LoadLocation(zone); err != nil {
						return fmt.Errorf("--zone: %w", err)
					}
				}
				endsOn := time.Now().Add(time.Duration(days) * 24 * time.Hour)
				if until != "" {
					t, err := time.Parse(time.RFC3339, until)
					if err != nil {
						return errors.New("--until must be RFC3339")
					}
					endsOn = t
				}
				if accountCreated != "" {
					t, err := time.Parse(time.RFC3339, accountCreated)
					if err != nil {
						return errors.New("--account-created must be RFC3339")
					}
					p.AccountCreatedOn = t
				}
				p.StudyID = studyID(a)
				p.HealthCode = args[0]

				list, err := a.Scheduling().GetScheduledActivities(ctx, p, endsOn, loc)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				now := time.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Guid", "Label", "Type", "Scheduled", "Expires", "Status"})
				for i := range list {
					sa := &list[i]
					expires := ""
					if sa.LocalExpiresOn != nil {
						expires = sa.LocalExpiresOn.String()
					}
					tw.AppendRow(table.Row{sa.Guid, sa.Activity.Label, sa.Activity.Type(), sa.LocalScheduledOn.String(), expires, sa.Status(now)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 4, "days ahead to schedule")
	cmd.Flags().StringVar(&until, "until", "", "explicit end of the window (RFC3339, overrides --days)")
	cmd.Flags().StringSliceVar(&p.DataGroups, "data-group", nil, "participant data group (repeatable)")
	cmd.Flags().StringVar(&p.Client.AppName, "app-name", "", "client app name")
	cmd.Flags().IntVar(&p.Client.AppVersion, "app-version", 0, "client app version")
	cmd.Flags().StringVar(&accountCreated, "account-created", "", "account creation time, used when enrollment is missing (RFC3339)")
	cmd.Flags().IntVar(&p.MinimumPerSchedule, "min-per-schedule", 0, "keep recurring schedules going past the window until this many occurrences exist")
	return cmd
}

func activitiesMarkCmd(action, short string) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   action + " <health-code> <guid>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseAt(at)
			if err != nil {
				return err
			}
			updates := make([]scheduling.Update, 0, len(args)-1)
			for _, guid := range args[1:] {
				u := scheduling.Update{Guid: guid}
				if action == "start" {
					u.StartedOn = &ts
				} else {
					u.FinishedOn = &ts
				}
				updates = append(updates, u)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				changed, err := a.Scheduling().UpdateScheduledActivities(ctx, args[0], updates)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(changed)
				}
				printMarked(changed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "timestamp (RFC3339, default now)")
	return cmd
}

func printMarked(list []schedule.ScheduledActivity) {
	if len(list) == 0 {
		fmt.Println("nothing changed")
		return
	}
	for _, sa := range list {
		fmt.Printf("%s started=%s finished=%s\n", sa.Guid, formatTime(sa.StartedOn), formatTime(sa.FinishedOn))
	}
}

func activitiesDeleteCmd() *cobra.Command {
	var withEvents bool
	cmd := &cobra.Command{
		Use:   "delete <health-code>",
		Short: "Delete all stored activities of a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Scheduling().DeleteActivitiesForUser(ctx, args[0]); err != nil {
					return err
				}
				if withEvents {
					return a.Events().DeleteEvents(ctx, args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "also delete the participant's events")
	return cmd
}

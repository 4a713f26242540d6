package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studysched/internal/app"
	logx "studysched/pkg/logx"
)

func serveCmd() *cobra.Command {
	var (
		watch       bool
		stopTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance scheduler, audit trail and config hot reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(viper.GetString("config"))
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := a.Start(cmd.Context(), watch); err != nil {
				_ = a.Close()
				return err
			}
			notify(a.Logger(), daemon.SdNotifyReady)

			reason := app.StopUnknown
			select {
			case s := <-sigs:
				reason = app.StopSIGTERM
				if s == os.Interrupt {
					reason = app.StopSIGINT
				}
			case <-a.Done():
				reason = app.StopFatalError
			}
			notify(a.Logger(), daemon.SdNotifyStopping)

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := a.Stop(ctx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the config file when it changes")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

// notify tells systemd about state changes when running under Type=notify.
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func auditCmd() *cobra.Command {
	au := &cobra.Command{Use: "audit", Short: "Inspect the audit trail"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Store().ListAudit(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Type", "Subject", "Meta"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.At.Format(time.RFC3339), e.Type, e.Subject, e.MetaJSON})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "max entries")
	au.AddCommand(list)
	return au
}

func maintenanceCmd() *cobra.Command {
	m := &cobra.Command{Use: "maintenance", Short: "Retention housekeeping"}
	m.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete finished or expired activities older than maintenance.retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Prune(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d activities\n", n)
				return nil
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "jobs",
		Short: "Show registered maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s := a.Settings()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Job", "Spec", "Enabled", "Retention"})
				for _, j := range a.Jobs().Schedules() {
					tw.AppendRow(table.Row{j.Name, j.Spec, s.MaintenanceEnabled, s.Retention})
				}
				tw.Render()
				return nil
			})
		},
	})
	return m
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studysched/internal/app"
	"studysched/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "studysched",
	Short: "Study activity scheduler",
	Long: `studysched turns a study's schedule plans into the concrete activities each
participant should see, and keeps the stored list in step with plan edits and
participant events.

- Plans: strategies plus schedules, authored as YAML or JSON files.
- Events: timestamped participant milestones (enrollment, finished activities,
  custom study events) that schedules anchor on.
- Activities: generated per participant on request and reconciled with what
  was stored before; started or finished activities are never rewritten.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("STUDYSCHED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "./studysched.yaml", "config file (yaml or json)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("study", "", "study id (overrides study.identifier)")
	rootCmd.PersistentFlags().String("zone", "", "participant time zone (overrides scheduling.timezone)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("study", rootCmd.PersistentFlags().Lookup("study"))
	_ = viper.BindPFlag("zone", rootCmd.PersistentFlags().Lookup("zone"))
}

func registerCommands() {
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(surveyCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(activitiesCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// withApp opens the app for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(viper.GetString("config"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func studyID(a *app.App) string {
	if s := strings.TrimSpace(viper.GetString("study")); s != "" {
		return s
	}
	return a.Config().Study.Identifier
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewConfigManager(viper.GetString("config")).Load()
			if err != nil {
				return err
			}
			s, err := config.Resolve(c)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"valid":           true,
					"max_horizon":     s.MaxHorizon.String(),
					"max_occurrences": s.MaxOccurrences,
					"timezone":        s.Zone.String(),
					"maintenance":     s.MaintenanceEnabled,
				})
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

// decodeFile reads a YAML or JSON file into v, rejecting unknown fields.
func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	jb, err := config.ToJSON(path, b)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// parseAt parses an RFC3339 timestamp; empty means now.
func parseAt(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339)", raw)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

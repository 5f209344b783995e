package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anvilcode/anvil/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Config prints the settings in effect after layering built-in defaults,
the user config file, the project-local .anvil.yaml, and ANVIL_*
environment variables.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	fmt.Println(headerStyle.Render("Executor"))
	fmt.Printf("  backend:            %s\n", cfg.Executor.Backend)
	fmt.Printf("  api_key:            %s\n", maskSecret(cfg.Executor.APIKey))
	fmt.Printf("  use_aws_bedrock:    %v\n", cfg.Executor.UseAWSBedrock)
	if cfg.Executor.UseAWSBedrock {
		fmt.Printf("  aws_region:         %s\n", cfg.Executor.AWSRegion)
		fmt.Printf("  aws_profile:        %s\n", cfg.Executor.AWSProfile)
	}
	fmt.Printf("  allowed_tools:      %s\n", strings.Join(cfg.Executor.AllowedTools, ", "))

	fmt.Println(headerStyle.Render("Defaults"))
	fmt.Printf("  model:              %s\n", cfg.Defaults.Model)
	fmt.Printf("  max_iterations:     %d\n", cfg.Defaults.MaxIterations)
	fmt.Printf("  budget_usd:         %.2f\n", cfg.Defaults.BudgetUSD)
	fmt.Printf("  completion_marker:  %s\n", orDefault(cfg.Defaults.CompletionMarker, "(built-in)"))
	fmt.Printf("  iteration_delay:    %s\n", cfg.Defaults.IterationDelay)
	fmt.Printf("  context_carry_over: %v\n", cfg.Defaults.ContextCarryOver)

	fmt.Println(headerStyle.Render("Parallel"))
	fmt.Printf("  workers:            %d\n", cfg.Parallel.Workers)
	fmt.Printf("  global_budget_usd:  %.2f\n", cfg.Parallel.GlobalBudgetUSD)
	fmt.Printf("  fail_fast:          %v\n", cfg.Parallel.FailFast)
	fmt.Printf("  isolate_workspaces: %v\n", cfg.Parallel.IsolateWorkspaces)

	fmt.Println(headerStyle.Render("State"))
	fmt.Printf("  dir:                %s\n", cfg.State.Dir)
	fmt.Printf("  retention_days:     %d\n", cfg.State.RetentionDays)

	if cfg.PriceFile != "" {
		fmt.Printf("\nprice_file: %s\n", cfg.PriceFile)
	}
	fmt.Printf("\nUser config: %s\n", config.XDGConfigPath())
	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

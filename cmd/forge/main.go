// Command forge is the thin CLI entrypoint for the build engine: it
// resolves the project path, loads engine settings, and invokes
// internal/project.Project, mapping any *ferrors.ForgeError back to its
// exit code.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/engineconfig"
	"github.com/forgebuild/forge/internal/executor"
	"github.com/forgebuild/forge/internal/ferrors"
	"github.com/forgebuild/forge/internal/logging"
	"github.com/forgebuild/forge/internal/project"
)

var (
	onlyFlag      []string
	componentFlag []string
	logLevelFlag  string
	noConsoleFlag bool
)

var rootCmd = &cobra.Command{
	Use:     "forge",
	Short:   "Parallel, incremental build orchestrator",
	Version: "0.1.0",
}

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Build a project's rule graph",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Remove a project's cache and content-addressed store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func init() {
	buildCmd.Flags().StringArrayVar(&onlyFlag, "only", nil, "restrict the build to this rule name (repeatable)")
	buildCmd.Flags().StringArrayVar(&componentFlag, "component", nil, "restrict the build to rules producing this output prefix (repeatable)")

	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&noConsoleFlag, "no-console", false, "disable console logging, file only")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func resolveProjectPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func buildCLIOverrides() map[string]interface{} {
	overrides := map[string]interface{}{}
	if logLevelFlag != "" {
		overrides["log_level"] = logLevelFlag
	}
	if noConsoleFlag {
		overrides["console_logging"] = false
	}
	return overrides
}

func setupLogger(settings engineconfig.Settings, projectPath string) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.FileLevel = logging.LevelFromString(settings.LogLevel)
	cfg.ConsoleLevel = logging.LevelFromString(settings.LogLevel)
	cfg.ConsoleEnabled = settings.ConsoleLogging
	return logging.NewLogger(cfg)
}

func runBuild(cmd *cobra.Command, args []string) error {
	projectPath := resolveProjectPath(args)

	settings, err := engineconfig.NewLoader().Load(projectPath, buildCLIOverrides())
	if err != nil {
		return err
	}

	logger, err := setupLogger(settings, projectPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p := project.New(projectPath, logger)
	p.Progress = func(evt executor.ProgressEvent) {
		if evt.Err != nil {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s: %s (%v)\n", evt.Done, evt.Total, evt.Rule, evt.Outcome, evt.Err)
			return
		}
		fmt.Printf("[%d/%d] %s: %s\n", evt.Done, evt.Total, evt.Rule, evt.Outcome)
	}

	opts := project.RunOptions{
		TargetFilters:    onlyFlag,
		ComponentFilters: componentFlag,
	}
	return p.Run(context.Background(), opts)
}

func runClean(cmd *cobra.Command, args []string) error {
	projectPath := resolveProjectPath(args)

	settings, err := engineconfig.NewLoader().Load(projectPath, buildCLIOverrides())
	if err != nil {
		return err
	}

	logger, err := setupLogger(settings, projectPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p := project.New(projectPath, logger)
	return p.Clean()
}

func exitCodeFor(err error) int {
	var forgeErr *ferrors.ForgeError
	if errors.As(err, &forgeErr) {
		return forgeErr.ExitCode.Int()
	}
	return ferrors.ExitGeneralError.Int()
}

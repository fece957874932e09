// Package main provides the CLI entrypoint for metacog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/verte-zerg/metacog/internal/config"
	"github.com/verte-zerg/metacog/internal/dataset"
	"github.com/verte-zerg/metacog/internal/domain"
	"github.com/verte-zerg/metacog/internal/meta"
	"github.com/verte-zerg/metacog/internal/model"
	"github.com/verte-zerg/metacog/internal/report"
	"github.com/verte-zerg/metacog/internal/reportui"
	"github.com/verte-zerg/metacog/internal/store"
)

const (
	defaultDecimals   = 3
	defaultPlotHeight = 10
	defaultSide       = meta.SideAuto
	maxDecimals       = 6
)

var (
	reportInput      string
	reportExclude    []string
	reportDomains    []string
	reportDecimals   int
	reportPlotHeight int
	reportSide       string
	reportNoArchive  bool

	historyLast int
	historyRun  int64
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "metacog",
		Short:         "Random-effects meta-analysis of cognitive domain studies",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runReportCmd,
	}

	rootCmd.PersistentFlags().StringVar(&reportInput, "input", "", "path to the study CSV")
	rootCmd.PersistentFlags().StringArrayVar(&reportExclude, "exclude", nil, "study label to exclude (repeatable)")
	rootCmd.PersistentFlags().IntVar(&reportDecimals, "decimals", defaultDecimals, "decimal places in coefficient tables")
	rootCmd.PersistentFlags().IntVar(&reportPlotHeight, "plot-height", defaultPlotHeight, "funnel plot height in rows")
	rootCmd.PersistentFlags().StringVar(&reportSide, "side", defaultSide, "trim-and-fill side: left, right, or auto")
	rootCmd.Flags().StringArrayVar(&reportDomains, "domain", nil, "restrict the report to a domain (repeatable)")
	rootCmd.Flags().BoolVar(&reportNoArchive, "no-archive", false, "skip archiving the run")

	rootCmd.AddCommand(newFunnelCmd())
	rootCmd.AddCommand(newDomainsCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func resolveReportConfig(cmd *cobra.Command) (model.ReportConfig, config.FileConfig, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return model.ReportConfig{}, config.FileConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	flags := cmd.Root().PersistentFlags()
	applyStringConfig(flags, "input", &reportInput, fileCfg.Report.Input)
	applyIntConfig(flags, "decimals", &reportDecimals, fileCfg.Report.Decimals)
	applyIntConfig(flags, "plot-height", &reportPlotHeight, fileCfg.Report.PlotHeight)
	applyStringConfig(flags, "side", &reportSide, fileCfg.Report.Side)
	if !flags.Changed("exclude") && len(fileCfg.Report.Exclude) > 0 {
		reportExclude = fileCfg.Report.Exclude
	}
	archive := !reportNoArchive
	if !reportNoArchive && fileCfg.Report.Archive != nil {
		archive = *fileCfg.Report.Archive
	}

	cfg := model.ReportConfig{
		InputPath:  reportInput,
		Excluded:   reportExclude,
		Domains:    reportDomains,
		Decimals:   reportDecimals,
		PlotHeight: reportPlotHeight,
		Side:       reportSide,
		Archive:    archive,
	}
	if err := validateReportConfig(cfg); err != nil {
		return model.ReportConfig{}, config.FileConfig{}, err
	}
	return cfg, fileCfg, nil
}

func validateReportConfig(cfg model.ReportConfig) error {
	if cfg.InputPath == "" {
		return fmt.Errorf("--input is required (or set input in %s)", config.DefaultConfigPath())
	}
	if cfg.Decimals < 1 || cfg.Decimals > maxDecimals {
		return fmt.Errorf("--decimals must be between 1 and %d", maxDecimals)
	}
	if cfg.PlotHeight <= 0 {
		return fmt.Errorf("--plot-height must be > 0")
	}
	switch cfg.Side {
	case meta.SideAuto, meta.SideLeft, meta.SideRight:
	default:
		return fmt.Errorf("--side must be left, right, or auto")
	}
	return nil
}

func buildSections(cfg model.ReportConfig, fileCfg config.FileConfig) ([]report.Section, int, error) {
	studies, err := dataset.Load(cfg.InputPath)
	if err != nil {
		return nil, 0, err
	}
	cleaned, err := dataset.Clean(studies, cfg.Excluded)
	if err != nil {
		return nil, 0, err
	}
	taxa, err := domain.Resolve(fileCfg.Domains, cfg.Domains)
	if err != nil {
		return nil, 0, err
	}
	return report.Build(cleaned, taxa, cfg.Side), len(cleaned), nil
}

func runReportCmd(cmd *cobra.Command, _ []string) error {
	cfg, fileCfg, err := resolveReportConfig(cmd)
	if err != nil {
		return err
	}
	startedAt := time.Now()
	sections, studies, err := buildSections(cfg, fileCfg)
	if err != nil {
		return err
	}

	opts := report.Options{Decimals: cfg.Decimals, PlotHeight: cfg.PlotHeight}
	if err := report.Render(cmd.OutOrStdout(), sections, opts); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if cfg.Archive {
		if err := archiveRun(cfg, startedAt, studies, sections); err != nil {
			logErrf("failed to archive run: %v\n", err)
		}
	}
	return nil
}

func archiveRun(cfg model.ReportConfig, startedAt time.Time, studies int, sections []report.Section) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open archive db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close archive db: %v\n", cerr)
		}
	}()

	run := model.RunSummary{
		StartedAt: startedAt,
		InputPath: cfg.InputPath,
		Studies:   studies,
	}
	var models []model.RunModel
	for _, section := range sections {
		for _, result := range []*model.ModelResult{section.Main, section.Moderator, section.TrimFill} {
			if result == nil {
				continue
			}
			pooled, ok := result.Pooled()
			if !ok {
				continue
			}
			models = append(models, model.RunModel{
				Domain:   section.Domain,
				Kind:     result.Kind,
				Estimate: pooled.Estimate,
				SE:       pooled.SE,
				CILower:  pooled.CILower,
				CIUpper:  pooled.CIUpper,
				Tau2:     result.Tau2,
				K:        result.K,
				Imputed:  result.Imputed,
			})
		}
	}
	if _, err := st.InsertRun(context.Background(), run, models); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func newFunnelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "funnel <domain>",
		Short: "Render one domain's funnel plot",
		Args:  cobra.ExactArgs(1),
		RunE:  runFunnelCmd,
	}
}

func runFunnelCmd(cmd *cobra.Command, args []string) error {
	cfg, fileCfg, err := resolveReportConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Domains = []string{args[0]}
	sections, _, err := buildSections(cfg, fileCfg)
	if err != nil {
		return err
	}
	section := sections[0]
	if section.Main == nil {
		for _, notice := range section.Notices {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Notice: %s\n", notice); err != nil {
				return err
			}
		}
		return nil
	}
	pooled, _ := section.Main.Pooled()
	title := fmt.Sprintf("Funnel Plot: %s", section.Domain)
	if err := report.PlotFunnel(cmd.OutOrStdout(), title, section.Effects, pooled.Estimate, 0, cfg.PlotHeight); err != nil {
		return fmt.Errorf("failed to render funnel plot: %w", err)
	}
	return nil
}

func newDomainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List domains and their measure allow-lists",
		Args:  cobra.NoArgs,
		RunE:  runDomainsCmd,
	}
}

func runDomainsCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	taxa, err := domain.Resolve(fileCfg.Domains, nil)
	if err != nil {
		return err
	}
	for _, t := range taxa {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.Name, strings.Join(t.Measures, ", ")); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Browse the report interactively",
		Args:  cobra.NoArgs,
		RunE:  runViewCmd,
	}
}

func runViewCmd(cmd *cobra.Command, _ []string) error {
	cfg, fileCfg, err := resolveReportConfig(cmd)
	if err != nil {
		return err
	}
	sections, _, err := buildSections(cfg, fileCfg)
	if err != nil {
		return err
	}
	opts := report.Options{Decimals: cfg.Decimals, PlotHeight: cfg.PlotHeight}
	uiModel := reportui.NewModel(sections, opts)
	program := tea.NewProgram(uiModel, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run report browser: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived report runs",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N runs")
	cmd.Flags().Int64Var(&historyRun, "run", 0, "show model summaries for one run")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open archive db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close archive db: %v\n", cerr)
		}
	}()

	ctx := context.Background()
	if historyRun > 0 {
		models, err := st.ListRunModels(ctx, historyRun)
		if err != nil {
			return fmt.Errorf("failed to list run models: %w", err)
		}
		if len(models) == 0 {
			return fmt.Errorf("no archived models for run %d", historyRun)
		}
		for _, m := range models {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\testimate=%.3f se=%.3f ci=[%.3f, %.3f] tau^2=%.3f k=%d imputed=%d\n",
				m.Domain, m.Kind, m.Estimate, m.SE, m.CILower, m.CIUpper, m.Tau2, m.K, m.Imputed); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
		return nil
	}

	runs, err := st.ListRuns(ctx, historyLast)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		return fmt.Errorf("no archived runs yet")
	}
	for _, run := range runs {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%d studies\n",
			run.RunID, run.StartedAt.Format(time.RFC3339), run.InputPath, run.Studies); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(flags *pflag.FlagSet, name string, target, value *string) {
	if value == nil {
		return
	}
	if flags.Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(flags *pflag.FlagSet, name string, target, value *int) {
	if value == nil {
		return
	}
	if flags.Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# metacog configuration
# Uncomment a value to enable it. CLI flags override config values.

[report]
# input = "studies.csv"   # Path to the study CSV
# exclude = []            # Study labels excluded before analysis
# decimals = %d            # Decimal places in coefficient tables
# plot-height = %d        # Funnel plot height in rows
# side = %q            # Trim-and-fill side: left, right, or auto
# archive = true          # Archive run summaries to the local database

# Domain allow-lists may be overridden per domain, e.g.:
# [domains]
# "memory" = ["working memory", "episodic memory"]
`,
		defaultDecimals,
		defaultPlotHeight,
		defaultSide,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

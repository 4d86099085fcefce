package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/audit"
	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/dom/memdoc"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/pkg/browser"
)

var (
	auditErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	auditWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	auditDimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run accessibility audits without a panel",
	}
	cmd.AddCommand(auditFocusOrderCmd())
	return cmd
}

func auditFocusOrderCmd() *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "focus-order <file.html|url>",
		Short: "Audit the keyboard tab order of an HTML file or a live page",
		Long: "Computes the tab order and reports positive tabindex values and focusable " +
			"elements without an accessible name. URLs are loaded in headless Chrome, which " +
			"also enables the rendered-box check. Exits non-zero when errors are found.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			report, err := runAudit(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(args[0], report)
			}
			if n := report.Errors(); n > 0 {
				return fmt.Errorf("%d error(s)", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall timeout for live pages")
	return cmd
}

func isURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") ||
		strings.HasPrefix(target, "file://")
}

func runAudit(ctx context.Context, cfg *config.Config, target string) (audit.Report, error) {
	if !isURL(target) {
		f, err := os.Open(target)
		if err != nil {
			return audit.Report{}, err
		}
		defer f.Close()
		doc, err := memdoc.Parse(f)
		if err != nil {
			return audit.Report{}, fmt.Errorf("parse %s: %w", target, err)
		}
		return auditDocument(doc, cfg, false)
	}

	mgr := browser.New(
		browser.WithHeadless(true),
		browser.WithBin(cfg.Browser.Bin),
		browser.WithRemoteURL(cfg.Browser.RemoteURL),
		browser.WithWindowSize(cfg.Browser.Width, cfg.Browser.Height),
	)
	if err := mgr.Start(ctx); err != nil {
		return audit.Report{}, err
	}
	defer mgr.Close()
	page, err := mgr.Open(ctx, target)
	if err != nil {
		return audit.Report{}, err
	}
	return auditDocument(page, cfg, true)
}

func auditDocument(doc dom.Document, cfg *config.Config, geometry bool) (audit.Report, error) {
	res, err := resolver.New(doc, resolver.Options{
		MinArea:     cfg.Inspector.MinArea,
		ExcludeExpr: cfg.Inspector.ExcludeExpr,
	})
	if err != nil {
		return audit.Report{}, err
	}
	return audit.Document(res, audit.Options{Geometry: geometry})
}

func printReport(target string, r audit.Report) {
	fmt.Printf("%s: %d tab stops, %d with positive tabindex\n", target, r.Total, r.PositiveTabIndex)
	for _, e := range r.Entries {
		ti := "-"
		if e.TabIndex != nil {
			ti = fmt.Sprint(*e.TabIndex)
		}
		fmt.Printf("  %3d  %s %s\n", e.Index, e.Selector, auditDimStyle.Render("tabindex="+ti))
	}
	if len(r.Findings) == 0 {
		fmt.Println("No findings.")
		return
	}
	fmt.Println()
	for _, f := range r.Findings {
		label := auditWarnStyle.Render("warning")
		if f.Severity == audit.SeverityError {
			label = auditErrStyle.Render("error  ")
		}
		fmt.Printf("  %s #%d %s: %s %s\n", label, f.Index, f.Selector, f.Message, auditDimStyle.Render("["+f.Rule+"]"))
	}
}

// Package audit turns a tab order into findings a reviewer can act on.
package audit

import (
	"fmt"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/focusorder"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule identifiers.
const (
	RulePositiveTabIndex = "positive-tabindex"
	RuleMissingName      = "missing-name"
	RuleNoBox            = "no-box"
)

type Finding struct {
	Index    int      `json:"index"`
	Selector string   `json:"selector"`
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type Report struct {
	bus.FocusOrderStats
	Findings []Finding `json:"findings"`
}

// Errors counts error-severity findings.
func (r Report) Errors() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Options selects which rules run.
type Options struct {
	// Geometry enables RuleNoBox. Documents without layout (parsed files)
	// have no boxes at all, so it is off for offline audits.
	Geometry bool
}

// InfoFunc looks up element details by selector.
type InfoFunc func(selector string) (resolver.ElementInfo, bool)

// Check audits an ordering. info may be nil, which skips name checks.
func Check(entries []bus.FocusOrderEntry, info InfoFunc, opts Options) Report {
	r := Report{FocusOrderStats: bus.FocusOrderStats{Total: len(entries), Entries: entries}}
	for _, e := range entries {
		if e.TabIndex != nil && *e.TabIndex > 0 {
			r.PositiveTabIndex++
			r.Findings = append(r.Findings, Finding{
				Index:    e.Index,
				Selector: e.Selector,
				Rule:     RulePositiveTabIndex,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("tabindex=%d overrides document order", *e.TabIndex),
			})
		}
		if opts.Geometry && e.Rect.Area() <= 0 {
			r.Findings = append(r.Findings, Finding{
				Index:    e.Index,
				Selector: e.Selector,
				Rule:     RuleNoBox,
				Severity: SeverityWarning,
				Message:  "focusable but not rendered",
			})
		}
		if info == nil {
			continue
		}
		if el, ok := info(e.Selector); ok && el.AccessibleName == "" {
			r.Findings = append(r.Findings, Finding{
				Index:    e.Index,
				Selector: e.Selector,
				Rule:     RuleMissingName,
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s has no accessible name", el.Role),
			})
		}
	}
	return r
}

// Document audits the tab order of the resolver's document.
func Document(res *resolver.Resolver, opts Options) (Report, error) {
	entries, err := focusorder.Order(res)
	if err != nil {
		return Report{}, err
	}
	infos := make(map[string]resolver.ElementInfo, len(entries))
	for _, e := range entries {
		infos[e.Selector] = res.Info(e.Element)
	}
	stats := focusorder.Stats(entries, true)
	return Check(stats.Entries, func(sel string) (resolver.ElementInfo, bool) {
		info, ok := infos[sel]
		return info, ok
	}, opts), nil
}

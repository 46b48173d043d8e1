// Package cli implements the approvalctl operational commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/quote-approvals/internal/approval"
)

// LimitsCLI inspects the configured role-limit table.
type LimitsCLI struct {
	loader    approval.LimitLoader
	threshold approval.Money
}

// NewLimitsCLI constructs the helper.
func NewLimitsCLI(loader approval.LimitLoader, threshold approval.Money) (*LimitsCLI, error) {
	if loader == nil {
		return nil, errors.New("limits cli: loader required")
	}
	return &LimitsCLI{loader: loader, threshold: threshold}, nil
}

// LimitsCheckOptions defines flags for limits check.
type LimitsCheckOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// LimitsCheckSummary is the JSON output of limits check.
type LimitsCheckSummary struct {
	OK                   bool           `json:"ok"`
	DualControlThreshold approval.Money `json:"dual_control_threshold"`
	Tiers                []LimitTier    `json:"tiers"`
	Problems             []string       `json:"problems"`
}

// LimitTier is one configured row.
type LimitTier struct {
	Role string          `json:"role"`
	Min  approval.Money  `json:"min"`
	Max  *approval.Money `json:"max"`
}

// CheckCommand loads and validates the table. Exit codes: 0 valid, 1 load
// failure, 10 validation problems.
func (c *LimitsCLI) CheckCommand(ctx context.Context, opts LimitsCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	rows, err := c.loader.ActiveLimits(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "limits check: %v\n", err)
		return 1
	}
	table := approval.NewLimitTable(rows, c.threshold)
	summary := buildLimitsSummary(table)

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "limits check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderLimitsHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildLimitsSummary(table *approval.LimitTable) LimitsCheckSummary {
	summary := LimitsCheckSummary{
		DualControlThreshold: table.DualControlThreshold(),
		Tiers:                make([]LimitTier, 0, len(table.Limits())),
		Problems:             []string{},
	}
	for _, l := range table.Limits() {
		summary.Tiers = append(summary.Tiers, LimitTier{Role: string(l.Role), Min: l.MinAmount, Max: l.MaxAmount})
	}
	if err := table.Validate(); err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, problem := range joined.Unwrap() {
				summary.Problems = append(summary.Problems, problem.Error())
			}
		} else {
			summary.Problems = append(summary.Problems, err.Error())
		}
	}
	summary.OK = len(summary.Problems) == 0
	return summary
}

func renderLimitsHuman(out io.Writer, summary LimitsCheckSummary) {
	_, _ = fmt.Fprintf(out, "Role limits (dual control above %s)\n", summary.DualControlThreshold)
	if len(summary.Tiers) == 0 {
		_, _ = fmt.Fprintln(out, "No active limits; every quote defaults to CSR approval.")
	}
	for _, tier := range summary.Tiers {
		upper := "unbounded"
		if tier.Max != nil {
			upper = tier.Max.String()
		}
		_, _ = fmt.Fprintf(out, " - %-10s %s .. %s\n", tier.Role, tier.Min, upper)
	}
	if summary.OK {
		_, _ = fmt.Fprintln(out, "Table is valid.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d problem(s) detected:\n", len(summary.Problems))
	for _, p := range summary.Problems {
		_, _ = fmt.Fprintf(out, " - %s\n", p)
	}
}

package approval

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultDualControlThreshold is the President-tier value above which two
// approvers are required.
var DefaultDualControlThreshold = Units(500000)

// LimitTable is an immutable snapshot of the active role limits, sorted
// ascending by MinAmount.
type LimitTable struct {
	limits    []RoleLimit
	threshold Money
}

// NewLimitTable snapshots limits.
func NewLimitTable(limits []RoleLimit, dualControlThreshold Money) *LimitTable {
	copied := make([]RoleLimit, 0, len(limits))
	for _, l := range limits {
		if l.MaxAmount != nil {
			ceiling := *l.MaxAmount
			l.MaxAmount = &ceiling
		}
		copied = append(copied, l)
	}
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].MinAmount < copied[j].MinAmount
	})
	return &LimitTable{limits: copied, threshold: dualControlThreshold}
}

// Limits returns a copy of the sorted limits.
func (t *LimitTable) Limits() []RoleLimit {
	if t == nil {
		return nil
	}
	out := make([]RoleLimit, len(t.limits))
	copy(out, t.limits)
	return out
}

// DualControlThreshold returns the configured threshold.
func (t *LimitTable) DualControlThreshold() Money {
	if t == nil {
		return DefaultDualControlThreshold
	}
	return t.threshold
}

// Empty reports whether no limits are configured.
func (t *LimitTable) Empty() bool {
	return t == nil || len(t.limits) == 0
}

// LimitFor returns the limit configured for role.
func (t *LimitTable) LimitFor(role RoleName) (RoleLimit, bool) {
	if t == nil {
		return RoleLimit{}, false
	}
	for _, l := range t.limits {
		if l.Role == role {
			return l, true
		}
	}
	return RoleLimit{}, false
}

// Validate reports configuration problems: ranges must start at zero, be
// contiguous at one-cent steps, not overlap, and end unbounded.
func (t *LimitTable) Validate() error {
	if t.Empty() {
		return errors.New("approval: no role limits configured")
	}
	var problems []error
	seen := make(map[RoleName]bool, len(t.limits))
	for i, l := range t.limits {
		if l.Role == RoleAdmin {
			problems = append(problems, errors.New("ADMIN must not carry a monetary limit"))
		} else if l.Role.Rank() == 0 {
			problems = append(problems, fmt.Errorf("unknown role %q", l.Role))
		}
		if seen[l.Role] {
			problems = append(problems, fmt.Errorf("role %s configured more than once", l.Role))
		}
		seen[l.Role] = true
		if l.MinAmount < 0 {
			problems = append(problems, fmt.Errorf("%s: negative min_amount", l.Role))
		}
		if l.MaxAmount != nil && *l.MaxAmount < l.MinAmount {
			problems = append(problems, fmt.Errorf("%s: max_amount %s below min_amount %s", l.Role, l.MaxAmount, l.MinAmount))
		}
		if i == 0 {
			if l.MinAmount != 0 {
				problems = append(problems, fmt.Errorf("%s: ladder starts at %s, not 0.00", l.Role, l.MinAmount))
			}
			continue
		}
		prev := t.limits[i-1]
		switch {
		case prev.MaxAmount == nil:
			problems = append(problems, fmt.Errorf("%s overlaps unbounded %s", l.Role, prev.Role))
		case l.MinAmount <= *prev.MaxAmount:
			problems = append(problems, fmt.Errorf("%s overlaps %s at %s", l.Role, prev.Role, l.MinAmount))
		case l.MinAmount > *prev.MaxAmount+1:
			problems = append(problems, fmt.Errorf("gap between %s and %s after %s", prev.Role, l.Role, prev.MaxAmount))
		}
	}
	if last := t.limits[len(t.limits)-1]; last.MaxAmount != nil {
		problems = append(problems, fmt.Errorf("%s: top tier must be unbounded", last.Role))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("approval: invalid role limits: %w", errors.Join(problems...))
}

// DefaultLadder returns the standard five-tier ladder.
func DefaultLadder() []RoleLimit {
	bound := func(m Money) *Money { return &m }
	return []RoleLimit{
		{Role: RoleCSR, MinAmount: 0, MaxAmount: bound(Units(25000) - 1)},
		{Role: RoleManager, MinAmount: Units(25000), MaxAmount: bound(Units(50000) - 1)},
		{Role: RoleDirector, MinAmount: Units(50000), MaxAmount: bound(Units(200000) - 1)},
		{Role: RoleVP, MinAmount: Units(200000), MaxAmount: bound(Units(300000) - 1)},
		{Role: RolePresident, MinAmount: Units(300000)},
	}
}

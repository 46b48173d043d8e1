package approval

import (
	"fmt"
	"strings"
)

// ResolveRequirement returns the tier and approver count a quote of value v
// needs. With no limits configured it fails open to a single CSR approval.
func (t *LimitTable) ResolveRequirement(v Money) Requirement {
	if t.Empty() {
		return Requirement{Level: RoleCSR, RequiredApprovers: 1}
	}
	req := Requirement{Level: RolePresident, RequiredApprovers: 1}
	for _, l := range t.limits {
		if l.Contains(v) {
			req.Level = l.Role
			break
		}
	}
	if req.Level == RolePresident && v > t.threshold {
		req.RequiredApprovers = 2
	}
	return req
}

// CanAutoApprove reports whether roles may approve v unilaterally. Admin
// always may.
func (t *LimitTable) CanAutoApprove(roles RoleSet, v Money) bool {
	if roles.Has(RoleAdmin) {
		return true
	}
	if t.Empty() {
		return false
	}
	for _, l := range t.limits {
		if roles.Has(l.Role) && l.Contains(v) {
			return true
		}
	}
	return false
}

// CanAct reports whether roles may decide req for a quote of value v. A
// ladder role at or above the request's tier qualifies, as does any held role
// whose range contains v.
func (t *LimitTable) CanAct(roles RoleSet, req ApprovalRequest, v Money) bool {
	if roles.Has(RoleAdmin) {
		return true
	}
	if level := req.ApprovalLevel.Rank(); level > 0 && roles.HighestRank() >= level {
		return true
	}
	return t.CanAutoApprove(roles, v)
}

// VerifyExercisedRole checks that role is held by p and qualifies on its own
// for req.
func (t *LimitTable) VerifyExercisedRole(p Principal, role RoleName, req ApprovalRequest, v Money) error {
	if role == "" {
		return fmt.Errorf("%w: exercised role required", ErrValidation)
	}
	if !p.Roles.Has(role) {
		return fmt.Errorf("%w: user %d does not hold role %s", ErrForbidden, p.UserID, role)
	}
	if !t.CanAct(RoleSet{role: {}}, req, v) {
		return fmt.Errorf("%w: role %s cannot decide a %s-tier request for %s", ErrForbidden, role, req.ApprovalLevel, v)
	}
	return nil
}

// DescribeRequirement explains which tiers may approve v.
func (t *LimitTable) DescribeRequirement(v Money) string {
	req := t.ResolveRequirement(v)
	suffix := ""
	if req.RequiredApprovers > 1 {
		suffix = fmt.Sprintf(" (%d approvers)", req.RequiredApprovers)
	}
	if t.Empty() {
		return fmt.Sprintf("no role limits configured; %s defaults to %s approval%s", v, req.Level, suffix)
	}
	var tiers []string
	for _, l := range t.limits {
		if l.Contains(v) {
			tiers = append(tiers, string(l.Role))
		}
	}
	if len(tiers) == 0 {
		return fmt.Sprintf("%s exceeds every configured tier; %s approval required%s", v, req.Level, suffix)
	}
	return fmt.Sprintf("%s requires %s approval%s", v, strings.Join(tiers, " or "), suffix)
}

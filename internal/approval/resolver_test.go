package approval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTable() *LimitTable {
	return NewLimitTable(DefaultLadder(), DefaultDualControlThreshold)
}

func TestResolveRequirementLadder(t *testing.T) {
	table := defaultTable()
	cases := []struct {
		value     string
		level     RoleName
		approvers int
	}{
		{"0", RoleCSR, 1},
		{"15000", RoleCSR, 1},
		{"24999.99", RoleCSR, 1},
		{"25000", RoleManager, 1},
		{"75000", RoleDirector, 1},
		{"200000", RoleVP, 1},
		{"300000", RolePresident, 1},
		{"500000", RolePresident, 1},
		{"500000.01", RolePresident, 2},
		{"600000", RolePresident, 2},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			req := table.ResolveRequirement(MustMoney(tc.value))
			assert.Equal(t, tc.level, req.Level)
			assert.Equal(t, tc.approvers, req.RequiredApprovers)
		})
	}
}

func TestResolveRequirementEmptyConfigFailsOpen(t *testing.T) {
	table := NewLimitTable(nil, DefaultDualControlThreshold)
	req := table.ResolveRequirement(Units(1_000_000))
	require.Equal(t, Requirement{Level: RoleCSR, RequiredApprovers: 1}, req)

	var nilTable *LimitTable
	require.Equal(t, Requirement{Level: RoleCSR, RequiredApprovers: 1}, nilTable.ResolveRequirement(Units(5)))
}

func TestResolveRequirementBeyondConfiguredRanges(t *testing.T) {
	capped := func(m Money) *Money { return &m }
	table := NewLimitTable([]RoleLimit{
		{Role: RoleCSR, MinAmount: 0, MaxAmount: capped(Units(1000))},
		{Role: RoleManager, MinAmount: Units(1000) + 1, MaxAmount: capped(Units(2000))},
	}, Units(10000))

	assert.Equal(t, Requirement{Level: RolePresident, RequiredApprovers: 1}, table.ResolveRequirement(Units(5000)))
	assert.Equal(t, Requirement{Level: RolePresident, RequiredApprovers: 2}, table.ResolveRequirement(Units(20000)))
}

func TestResolveRequirementIsDeterministic(t *testing.T) {
	table := defaultTable()
	v := MustMoney("123456.78")
	first := table.ResolveRequirement(v)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, table.ResolveRequirement(v))
	}
}

func TestCanAutoApprove(t *testing.T) {
	table := defaultTable()

	assert.True(t, table.CanAutoApprove(NewRoleSet("CSR"), Units(15000)))
	assert.False(t, table.CanAutoApprove(NewRoleSet("CSR"), Units(75000)))
	assert.True(t, table.CanAutoApprove(NewRoleSet("csr", "director"), Units(75000)))
	// Range semantics: a Director does not cover CSR-range values on its own.
	assert.False(t, table.CanAutoApprove(NewRoleSet("DIRECTOR"), Units(100)))
	assert.False(t, table.CanAutoApprove(RoleSet{}, Units(1)))
}

func TestCanAutoApproveAdminBypass(t *testing.T) {
	admin := NewRoleSet("ADMIN")
	for _, table := range []*LimitTable{defaultTable(), NewLimitTable(nil, 0), nil} {
		for _, v := range []Money{0, Units(1), Units(600000), Units(1_000_000_000)} {
			assert.True(t, table.CanAutoApprove(admin, v))
		}
	}
}

func TestCanActUsesRankOrRange(t *testing.T) {
	table := defaultTable()
	director := ApprovalRequest{ApprovalLevel: RoleDirector, RequiredApprovers: 1}
	value := Units(75000)

	assert.True(t, table.CanAct(NewRoleSet("DIRECTOR"), director, value))
	assert.True(t, table.CanAct(NewRoleSet("VP"), director, value))
	assert.True(t, table.CanAct(NewRoleSet("PRESIDENT"), director, value))
	assert.True(t, table.CanAct(NewRoleSet("ADMIN"), director, value))
	assert.False(t, table.CanAct(NewRoleSet("MANAGER"), director, value))
	assert.False(t, table.CanAct(NewRoleSet("CSR"), director, value))
}

func TestVerifyExercisedRole(t *testing.T) {
	table := defaultTable()
	req := ApprovalRequest{ApprovalLevel: RoleDirector, RequiredApprovers: 1}
	p := Principal{UserID: 7, Roles: NewRoleSet("CSR", "VP")}

	require.NoError(t, table.VerifyExercisedRole(p, RoleVP, req, Units(75000)))
	require.ErrorIs(t, table.VerifyExercisedRole(p, RoleCSR, req, Units(75000)), ErrForbidden)
	require.ErrorIs(t, table.VerifyExercisedRole(p, RoleDirector, req, Units(75000)), ErrForbidden)
	require.ErrorIs(t, table.VerifyExercisedRole(p, "", req, Units(75000)), ErrValidation)
}

func TestDescribeRequirement(t *testing.T) {
	table := defaultTable()
	assert.Equal(t, "75,000.00 requires DIRECTOR approval", table.DescribeRequirement(Units(75000)))
	assert.Equal(t, "600,000.00 requires PRESIDENT approval (2 approvers)", table.DescribeRequirement(Units(600000)))

	capped := func(m Money) *Money { return &m }
	overlapping := NewLimitTable([]RoleLimit{
		{Role: RoleManager, MinAmount: 0, MaxAmount: capped(Units(50000))},
		{Role: RoleDirector, MinAmount: Units(40000), MaxAmount: capped(Units(90000))},
	}, DefaultDualControlThreshold)
	assert.Equal(t, "45,000.00 requires MANAGER or DIRECTOR approval", overlapping.DescribeRequirement(Units(45000)))
	assert.True(t, strings.Contains(overlapping.DescribeRequirement(Units(95000)), "exceeds every configured tier"))

	empty := NewLimitTable(nil, DefaultDualControlThreshold)
	assert.Contains(t, empty.DescribeRequirement(Units(10)), "defaults to CSR")
}

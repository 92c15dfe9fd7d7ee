package rbac

import "github.com/rentledger/backend/internal/models"

// Permission constants
const (
	PermFundAccount       = "fund_account"
	PermCancelAccount     = "cancel_account"
	PermDisputeAccount    = "dispute_account"
	PermSubmitRelease     = "submit_release"
	PermApproveRelease    = "approve_release"
	PermCompleteMilestone = "complete_milestone"
)

// RolePermissions defines what each escrow party can do.
var RolePermissions = map[string][]string{
	models.RolePayer: {
		PermFundAccount, PermCancelAccount, PermDisputeAccount,
		PermSubmitRelease, PermApproveRelease,
	},
	models.RolePayee: {
		PermDisputeAccount, PermSubmitRelease, PermApproveRelease,
		PermCompleteMilestone,
		// Payee CANNOT: PermFundAccount, PermCancelAccount
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation checks if a permission moves money.
func IsFinancialOperation(permission string) bool {
	return permission == PermFundAccount || permission == PermApproveRelease
}

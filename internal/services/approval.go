package services

import "github.com/rentledger/backend/internal/models"

// RequiredApprovers decides which parties must approve a release request.
// The requester's own role never gates its own submission. An empty result
// means the request is auto-approvable immediately.
func RequiredApprovers(conditions models.ReleaseConditions, requesterRole string) []string {
	var approvers []string
	if conditions.RequiresPayerApproval && requesterRole != models.RolePayer {
		approvers = append(approvers, models.RolePayer)
	}
	if conditions.RequiresPayeeConfirmation && requesterRole != models.RolePayee {
		approvers = append(approvers, models.RolePayee)
	}
	return approvers
}

// IsRequiredApprover reports whether role is in the approver set for the
// given conditions and requester.
func IsRequiredApprover(conditions models.ReleaseConditions, requesterRole, role string) bool {
	for _, r := range RequiredApprovers(conditions, requesterRole) {
		if r == role {
			return true
		}
	}
	return false
}

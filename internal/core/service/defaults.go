package service

import "github.com/propeval/access-core/internal/core/domain"

// Baseline resources and the role every deployment starts with.
const (
	ResourceCustomer             = "customer"
	ResourceProperty             = "property"
	ResourceLoanRequest          = "loan_request"
	ResourceCollateralEvaluation = "collateral_evaluation"
	ResourceUserManagement       = "user_management"
	ResourceRoleManagement       = "role_management"

	RoleAdmin      = "Admin"
	RoleViewer     = "Viewer"
	RoleInputter   = "Inputter"
	RoleAuthorizer = "Authorizer"
)

type baselineRole struct {
	name        string
	description string
	actions     map[string]bool // nil means every baseline permission
}

// baselinePermissions is the catalogue SeedDefaults guarantees.
func baselinePermissions() []domain.Permission {
	var perms []domain.Permission
	for _, res := range []string{ResourceCustomer, ResourceProperty, ResourceLoanRequest} {
		for _, action := range []string{"read", "create", "update", "delete"} {
			perms = append(perms, domain.Permission{Action: action, Resource: res, Description: action + " " + res + " records"})
		}
	}
	for _, action := range []string{"read", "edit", "clear", "authorize", "comment"} {
		perms = append(perms, domain.Permission{Action: action, Resource: ResourceCollateralEvaluation, Description: action + " collateral evaluations"})
	}
	for _, res := range []string{ResourceUserManagement, ResourceRoleManagement} {
		perms = append(perms,
			domain.Permission{Action: "read", Resource: res, Description: "view " + res},
			domain.Permission{Action: "edit", Resource: res, Description: "manage " + res},
		)
	}
	return perms
}

var baselineRoles = []baselineRole{
	{name: RoleViewer, description: "Can only view records", actions: map[string]bool{"read": true}},
	{name: RoleInputter, description: "Can input and edit records", actions: map[string]bool{"read": true, "create": true, "update": true, "edit": true, "clear": true}},
	{name: RoleAuthorizer, description: "Can authorize collateral evaluations", actions: map[string]bool{"read": true, "update": true, "edit": true, "authorize": true, "comment": true}},
	{name: RoleAdmin, description: "Full system administration access"},
}

func isManagementResource(resource string) bool {
	return resource == ResourceUserManagement || resource == ResourceRoleManagement
}

// permissionsFor selects the baseline permissions of r. Management resources
// are reserved to the administrative role.
func (r baselineRole) permissionsFor(all []domain.Permission) []domain.Permission {
	if r.actions == nil {
		return all
	}
	var out []domain.Permission
	for _, p := range all {
		if isManagementResource(p.Resource) {
			continue
		}
		if r.actions[p.Action] {
			out = append(out, p)
		}
	}
	return out
}

package pipeline

import "strings"

// Roles accepted by the pipeline.
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
)

// defaultSensitiveTerms gate queries to the admin role.
var defaultSensitiveTerms = []string{
	"internal", "confidential", "secret", "password", "ssn", "credit card",
}

// defaultAllowedRoles are the roles the pipeline accepts.
var defaultAllowedRoles = []string{RoleUser, RoleAdmin, RoleAnalyst}

// accessPolicy decides whether a role may run a query.
type accessPolicy struct {
	sensitiveTerms []string
	allowedRoles   map[string]bool
}

func newAccessPolicy(sensitiveTerms, allowedRoles []string) *accessPolicy {
	if len(sensitiveTerms) == 0 {
		sensitiveTerms = defaultSensitiveTerms
	}
	if len(allowedRoles) == 0 {
		allowedRoles = defaultAllowedRoles
	}

	roles := make(map[string]bool, len(allowedRoles))
	for _, role := range allowedRoles {
		roles[role] = true
	}
	return &accessPolicy{sensitiveTerms: sensitiveTerms, allowedRoles: roles}
}

// roleKnown reports whether the role is on the whitelist.
func (p *accessPolicy) roleKnown(role string) bool {
	return p.allowedRoles[role]
}

// blocked reports whether the query touches sensitive terms the role may
// not see. Only admins may query sensitive content.
func (p *accessPolicy) blocked(query, role string) bool {
	if role == RoleAdmin {
		return false
	}
	lowered := strings.ToLower(query)
	for _, term := range p.sensitiveTerms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

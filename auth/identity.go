package auth

import (
	"context"
	"fmt"
)

// CompanyLookup resolves a company id from an agent email. Implemented by company.Manager.
type CompanyLookup interface {
	CompanyIDByAgentEmail(ctx context.Context, email string) (string, error)
}

// Identity resolves "which company is this request about" with a single,
// fixed precedence order instead of ad hoc per-endpoint lookups:
//  1. an explicit company id supplied by an admin/support agent
//  2. the company id embedded in the agent's token
//  3. the company the agent's email belongs to
type Identity struct {
	Lookup CompanyLookup
}

// ErrNoCompany is returned when no step of the precedence chain yields a company
var ErrNoCompany = fmt.Errorf("no company can be resolved for the current agent")

// ResolveCompany returns the company id the request targets, or ErrNoCompany
func (i *Identity) ResolveCompany(ctx context.Context, claims *Claims, explicit string) (string, error) {
	if claims == nil {
		return "", ErrNoCompany
	}
	if len(explicit) > 0 {
		if claims.Role == RoleAdmin || claims.Role == RoleSupport {
			return explicit, nil
		}
		// a company agent may only name its own company
		if claims.CompanyID == explicit {
			return explicit, nil
		}
		return "", ErrNoCompany
	}
	if len(claims.CompanyID) > 0 {
		return claims.CompanyID, nil
	}
	if i.Lookup != nil && len(claims.Email) > 0 {
		id, err := i.Lookup.CompanyIDByAgentEmail(ctx, claims.Email)
		if err != nil {
			return "", err
		}
		if len(id) > 0 {
			return id, nil
		}
	}
	return "", ErrNoCompany
}

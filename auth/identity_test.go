package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticLookup map[string]string

func (s staticLookup) CompanyIDByAgentEmail(ctx context.Context, email string) (string, error) {
	return s[email], nil
}

func TestResolveCompany(t *testing.T) {
	lookup := staticLookup{
		"agente@inmo.test": "company-1",
	}

	testCases := []struct {
		name     string
		claims   *Claims
		explicit string
		expected string
		wantErr  bool
	}{
		{
			name:    "nil claims",
			wantErr: true,
		},
		{
			name:     "admin can name any company",
			claims:   &Claims{Role: RoleAdmin},
			explicit: "company-9",
			expected: "company-9",
		},
		{
			name:     "support can name any company",
			claims:   &Claims{Role: RoleSupport},
			explicit: "company-9",
			expected: "company-9",
		},
		{
			name:     "company agent can name its own company",
			claims:   &Claims{Role: RoleCompany, CompanyID: "company-1"},
			explicit: "company-1",
			expected: "company-1",
		},
		{
			name:     "company agent cannot name another company",
			claims:   &Claims{Role: RoleCompany, CompanyID: "company-1"},
			explicit: "company-2",
			wantErr:  true,
		},
		{
			name:     "claims company wins when nothing explicit",
			claims:   &Claims{Role: RoleCompany, CompanyID: "company-1", Email: "agente@inmo.test"},
			expected: "company-1",
		},
		{
			name:     "email lookup as last resort",
			claims:   &Claims{Role: RoleCompany, Email: "agente@inmo.test"},
			expected: "company-1",
		},
		{
			name:    "unknown email resolves nothing",
			claims:  &Claims{Role: RoleCompany, Email: "nadie@inmo.test"},
			wantErr: true,
		},
	}

	identity := &Identity{Lookup: lookup}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := identity.ResolveCompany(context.Background(), tc.claims, tc.explicit)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoCompany)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

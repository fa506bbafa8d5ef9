package sla

import (
	"context"
	"fmt"

	"github.com/opendesk-io/opendesk-ce/internal/models"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
)

// PolicyResolver finds the SLA policy applicable to a ticket's priority
// and category.
type PolicyResolver struct {
	policies repository.SLAPolicyRepository
}

// NewPolicyResolver creates a resolver over the policy repository.
func NewPolicyResolver(policies repository.SLAPolicyRepository) *PolicyResolver {
	return &PolicyResolver{policies: policies}
}

// Resolve returns the applicable active policy: the exact
// (priority, category) match when one exists, else the priority's general
// policy (category unset). Returns (nil, nil) when no policy applies;
// callers skip tracking in that case, it is not an error.
func (r *PolicyResolver) Resolve(ctx context.Context, priorityID int, categoryID *int) (*models.SLAPolicy, error) {
	if categoryID != nil {
		policy, err := r.policies.FindActive(ctx, priorityID, categoryID)
		if err != nil {
			return nil, fmt.Errorf("resolve specific policy: %w", err)
		}
		if policy != nil {
			return policy, nil
		}
	}

	policy, err := r.policies.FindActive(ctx, priorityID, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve general policy: %w", err)
	}
	return policy, nil
}

package broadcast

import (
	"context"
	"fmt"
	"sort"
)

// AudienceResolver computes the push recipient set as a pure function of
// channel membership intersected with the audience filter. Delivery mechanics
// stay out of this type on purpose.
type AudienceResolver struct {
	memberships   MembershipRepository
	registrations RegistrationRepository
}

func NewAudienceResolver(memberships MembershipRepository, registrations RegistrationRepository) *AudienceResolver {
	return &AudienceResolver{
		memberships:   memberships,
		registrations: registrations,
	}
}

// Resolve returns the deduplicated, sorted user IDs holding an active
// membership in any of the target channels, narrowed by the filter if one is
// set.
func (r *AudienceResolver) Resolve(ctx context.Context, workspaceID string, channelIDs []string, filter *AudienceFilter) ([]string, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}

	members, err := r.memberships.ActiveUserIDs(ctx, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel members: %w", err)
	}

	recipients := dedupe(members)

	if !filter.Empty() {
		matching, err := r.registrations.MatchingUserIDs(ctx, workspaceID, *filter)
		if err != nil {
			return nil, fmt.Errorf("failed to apply audience filter: %w", err)
		}
		recipients = intersect(recipients, matching)
	}

	sort.Strings(recipients)
	return recipients, nil
}

func dedupe(userIDs []string) []string {
	seen := make(map[string]bool, len(userIDs))
	result := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}
	return result
}

func intersect(a, b []string) []string {
	allowed := make(map[string]bool, len(b))
	for _, id := range b {
		allowed[id] = true
	}
	result := make([]string, 0, len(a))
	for _, id := range a {
		if allowed[id] {
			result = append(result, id)
		}
	}
	return result
}

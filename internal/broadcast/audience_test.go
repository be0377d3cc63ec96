package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembershipRepository struct {
	userIDs []string
	err     error
	calls   int
}

func (f *fakeMembershipRepository) ActiveUserIDs(context.Context, []string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.userIDs, nil
}

type fakeRegistrationRepository struct {
	userIDs []string
	err     error
	calls   int
}

func (f *fakeRegistrationRepository) MatchingUserIDs(context.Context, string, AudienceFilter) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.userIDs, nil
}

func TestResolve_DeduplicatesAndSorts(t *testing.T) {
	memberships := &fakeMembershipRepository{userIDs: []string{"user-c", "user-a", "user-c", "user-b", "user-a"}}
	registrations := &fakeRegistrationRepository{}
	resolver := NewAudienceResolver(memberships, registrations)

	got, err := resolver.Resolve(context.Background(), "ws-1", []string{"ch-1", "ch-2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-a", "user-b", "user-c"}, got)
	assert.Equal(t, 0, registrations.calls, "empty filter must not query registrations")
}

func TestResolve_NoChannels(t *testing.T) {
	memberships := &fakeMembershipRepository{userIDs: []string{"user-a"}}
	resolver := NewAudienceResolver(memberships, &fakeRegistrationRepository{})

	got, err := resolver.Resolve(context.Background(), "ws-1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, memberships.calls)
}

func TestResolve_FilterIntersectsMembers(t *testing.T) {
	memberships := &fakeMembershipRepository{userIDs: []string{"user-a", "user-b", "user-c"}}
	registrations := &fakeRegistrationRepository{userIDs: []string{"user-b", "user-d"}}
	resolver := NewAudienceResolver(memberships, registrations)

	filter := &AudienceFilter{TicketType: "vip"}
	got, err := resolver.Resolve(context.Background(), "ws-1", []string{"ch-1"}, filter)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-b"}, got, "filter-only matches outside the channels are excluded")
}

func TestResolve_EmptyFilterSkipsRegistrationLookup(t *testing.T) {
	memberships := &fakeMembershipRepository{userIDs: []string{"user-a"}}
	registrations := &fakeRegistrationRepository{userIDs: []string{}}
	resolver := NewAudienceResolver(memberships, registrations)

	got, err := resolver.Resolve(context.Background(), "ws-1", []string{"ch-1"}, &AudienceFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-a"}, got)
	assert.Equal(t, 0, registrations.calls)
}

func TestResolve_MembershipLookupFailure(t *testing.T) {
	memberships := &fakeMembershipRepository{err: errors.New("connection refused")}
	resolver := NewAudienceResolver(memberships, &fakeRegistrationRepository{})

	_, err := resolver.Resolve(context.Background(), "ws-1", []string{"ch-1"}, nil)
	require.Error(t, err)
}

func TestAudienceFilter_Empty(t *testing.T) {
	tests := []struct {
		name   string
		filter *AudienceFilter
		want   bool
	}{
		{name: "nil filter", filter: nil, want: true},
		{name: "zero filter", filter: &AudienceFilter{}, want: true},
		{name: "status set", filter: &AudienceFilter{RegistrationStatus: "confirmed"}, want: false},
		{name: "ticket type set", filter: &AudienceFilter{TicketType: "vip"}, want: false},
		{name: "session set", filter: &AudienceFilter{SessionID: "session-1"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Empty())
		})
	}
}

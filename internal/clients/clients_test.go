package clients

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/circulation"
	"libranexus-lending/internal/command"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/membership"
	"libranexus-lending/internal/policy"
	"libranexus-lending/internal/storage/memory"
)

func startMembership(t *testing.T) (membership.Service, *httptest.Server) {
	t.Helper()
	svc := membership.NewService(membership.WithRateLimit(rate.Inf, 1))
	r := chi.NewRouter()
	membership.NewHandler(svc).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, srv
}

func startCirculation(t *testing.T, dir policy.Directory) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	circulation.NewHandler(circulation.NewService(memory.New(), dir)).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestMembershipClientAnswersCapabilities(t *testing.T) {
	ctx := context.Background()
	members, srv := startMembership(t)
	scholar, err := members.RegisterMember(ctx, "s@example.org", "S", "pw", membership.RoleScholar)
	require.NoError(t, err)

	client := NewMembershipClient(srv.URL, nil)
	ok, err := client.HasCapability(ctx, scholar.ID.String(), policy.CapabilityAccessRestricted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.HasCapability(ctx, "nobody", policy.CapabilityAccessRestricted)
	require.NoError(t, err)
	assert.False(t, ok)

	broken := NewMembershipClient("http://127.0.0.1:0", nil)
	_, err = broken.HasCapability(ctx, "x", "y")
	assert.Error(t, err)
}

func TestLendingClientEndToEnd(t *testing.T) {
	ctx := context.Background()
	members, msrv := startMembership(t)
	scholar, err := members.RegisterMember(ctx, "s@example.org", "S", "pw", membership.RoleScholar)
	require.NoError(t, err)
	guest, err := members.RegisterMember(ctx, "g@example.org", "G", "pw", membership.RoleGuest)
	require.NoError(t, err)

	srv := startCirculation(t, NewMembershipClient(msrv.URL, nil))
	client := NewLendingClient(srv.URL, nil)

	_, err = client.AddAsset(ctx, &catalog.Asset{ID: "ISBN002", Title: "Rare Manuscript", Metadata: map[string]any{"access": "Restricted"}})
	require.NoError(t, err)

	_, err = client.AddAsset(ctx, &catalog.Asset{ID: "ISBN002", Title: "Another Manuscript"})
	assert.ErrorIs(t, err, catalog.ErrAssetExists)

	_, err = client.Borrow(ctx, "ISBN002", guest.ID.String(), policy.Public)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, circulation.KindNotBorrowable, apiErr.Kind)
	assert.Equal(t, string(lifecycle.ReasonRestrictedAccessDenied), apiErr.Reason)

	due, err := client.Borrow(ctx, "ISBN002", scholar.ID.String(), policy.Restricted)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), due, time.Minute)

	borrowed, err := client.ListAssets(ctx, lifecycle.Borrowed)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)

	history, err := client.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	fee, err := client.Return(ctx, "ISBN002", scholar.ID.String())
	require.NoError(t, err)
	assert.Zero(t, fee)

	entry, err := client.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "return", entry.Kind)
	_, err = client.Undo(ctx)
	require.NoError(t, err)
	_, err = client.Undo(ctx)
	assert.ErrorIs(t, err, command.ErrNoHistory)

	require.NoError(t, client.FlagForRestoration(ctx, "ISBN002", circulation.ConditionReportInput{Rating: 2}))
	queue, err := client.RestorationQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	restored, err := client.Restore(ctx, "ISBN002")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Available, restored.State)

	overdue, err := client.Overdue(ctx)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	_, err = client.GetAsset(ctx, "missing")
	assert.ErrorIs(t, err, catalog.ErrAssetNotFound)
}

func TestMembershipClientRegistersAndLogsIn(t *testing.T) {
	ctx := context.Background()
	_, srv := startMembership(t)
	client := NewMembershipClient(srv.URL, nil)

	m, err := client.Register(ctx, "Reader@Example.org", "Reader", "s3cret", "scholar")
	require.NoError(t, err)
	assert.Equal(t, "reader@example.org", m.Email)
	assert.Equal(t, membership.RoleScholar, m.Role)

	_, err = client.Register(ctx, "reader@example.org", "Again", "pw", "")
	assert.ErrorContains(t, err, "409")

	got, err := client.Login(ctx, "reader@example.org", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = client.Login(ctx, "reader@example.org", "wrong")
	assert.ErrorContains(t, err, "401")
}

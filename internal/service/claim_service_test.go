package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository/memory"
	"pulse-api/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingMailer struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (m *capturingMailer) SendClaimLink(_ context.Context, _, link string, _ *domain.XpClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.links = append(m.links, link)
	return nil
}

type claimFixture struct {
	svc    *ClaimService
	store  *memory.Store
	mailer *capturingMailer
	voter  *domain.VoterHandle
	clock  *fakeClock
}

func newClaimFixture(t *testing.T, balance int) *claimFixture {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	voter := seedVoter(t, repos, "tok1")
	if balance > 0 {
		_, err := repos.Ledger.Append(context.Background(), &domain.XpLedgerEntry{
			VoterID: voter.ID, Amount: balance, Reason: domain.ReasonBonus, ReferenceID: "seed",
		})
		require.NoError(t, err)
	}

	mailer := &capturingMailer{}
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewClaimService(repos.Claims, repos.Voters, repos.Ledger, mailer, "https://pulse.example/", 24*time.Hour, logger.NewNop())
	svc.now = clock.Now
	return &claimFixture{svc: svc, store: store, mailer: mailer, voter: voter, clock: clock}
}

func TestClaimService_IssueAndRedeemOnce(t *testing.T) {
	f := newClaimFixture(t, 55)
	ctx := context.Background()

	claim, err := f.svc.IssueClaim(ctx, f.voter.ID, " fan@example.com ")
	require.NoError(t, err)
	assert.Equal(t, 55, claim.TotalXp)
	assert.Equal(t, domain.ClaimPending, claim.Status)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), claim.ExpiresAt)
	require.Len(t, f.mailer.links, 1)
	assert.Equal(t, "https://pulse.example/claim/"+claim.Token, f.mailer.links[0])

	// XP earned after issuance is not part of the claim
	_, err = f.store.Repositories().Ledger.Append(ctx, &domain.XpLedgerEntry{
		VoterID: f.voter.ID, Amount: 10, Reason: domain.ReasonVote, ReferenceID: "later",
	})
	require.NoError(t, err)

	res, err := f.svc.Redeem(ctx, claim.Token)
	require.NoError(t, err)
	assert.Equal(t, &domain.RedeemResult{TotalXp: 55, Email: "fan@example.com"}, res)

	_, err = f.svc.Redeem(ctx, claim.Token)
	assert.ErrorIs(t, err, domain.ErrClaimInvalid)

	got, err := f.svc.Inspect(ctx, claim.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimClaimed, got.Status)
}

func TestClaimService_ExpiredClaimIsInvalid(t *testing.T) {
	f := newClaimFixture(t, 20)
	ctx := context.Background()

	claim, err := f.svc.IssueClaim(ctx, f.voter.ID, "fan@example.com")
	require.NoError(t, err)

	f.clock.Advance(24*time.Hour + time.Second)

	_, err = f.svc.Redeem(ctx, claim.Token)
	assert.ErrorIs(t, err, domain.ErrClaimInvalid)

	got, err := f.svc.Inspect(ctx, claim.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimExpired, got.Status)
}

func TestClaimService_RedeemAtExpiryInstant(t *testing.T) {
	f := newClaimFixture(t, 20)
	ctx := context.Background()

	claim, err := f.svc.IssueClaim(ctx, f.voter.ID, "fan@example.com")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)

	res, err := f.svc.Redeem(ctx, claim.Token)
	require.NoError(t, err)
	assert.Equal(t, 20, res.TotalXp)
}

func TestClaimService_ConcurrentRedeemSucceedsOnce(t *testing.T) {
	f := newClaimFixture(t, 30)
	ctx := context.Background()
	claim, err := f.svc.IssueClaim(ctx, f.voter.ID, "fan@example.com")
	require.NoError(t, err)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Redeem(ctx, claim.Token)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, domain.ErrClaimInvalid) {
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, invalid)
}

func TestClaimService_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown voter", func(t *testing.T) {
		f := newClaimFixture(t, 0)
		_, err := f.svc.IssueClaim(ctx, "nobody", "fan@example.com")
		assert.ErrorIs(t, err, domain.ErrVoterNotFound)
	})

	t.Run("mailer down", func(t *testing.T) {
		f := newClaimFixture(t, 0)
		f.mailer.err = errors.New("smtp timeout")
		_, err := f.svc.IssueClaim(ctx, f.voter.ID, "fan@example.com")
		assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	})

	t.Run("malformed token", func(t *testing.T) {
		f := newClaimFixture(t, 0)
		for _, token := range []string{"", "abc", strings.Repeat("z", 64)} {
			_, err := f.svc.Redeem(ctx, token)
			assert.ErrorIs(t, err, domain.ErrClaimInvalid, token)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newClaimFixture(t, 0)
		_, err := f.svc.Redeem(ctx, strings.Repeat("ab", 32))
		assert.ErrorIs(t, err, domain.ErrClaimInvalid)
	})
}

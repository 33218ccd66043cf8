package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeRebuildsMonthAndTotalBonus(t *testing.T) {
	svc, repo, dir, clock := newTestService(t)
	seedLevels(repo)
	newBatch(t, repo, "batch-1")
	newBatch(t, repo, "batch-2")
	ctx := context.Background()

	require.NoError(t, svc.ImportBets(ctx, "batch-1", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(1200)},
	}))
	clock.Set(date(2025, time.March, 19, 10))
	require.NoError(t, svc.ImportBets(ctx, "batch-2", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(4000)},
	}))

	// Both cycles are closed by week three, so the replay covers everything.
	clock.Set(date(2025, time.March, 26, 10))
	require.NoError(t, svc.Recompute(ctx))

	s := memberSummary(t, repo, dir, "alice")
	assert.True(t, s.TotalBonus.Equal(amount(300)),
		"250 tier-range bonus + 10 and 40 weekly, got %s", s.TotalBonus)

	monthly, err := repo.GetMonthly(ctx, nil, s.MemberID, GameTypeElectronics, 2025, 3)
	require.NoError(t, err)
	assert.True(t, monthly.TotalBet.Equal(amount(5200)))
	assert.True(t, monthly.AccumulatedBonus.Equal(amount(250)))
	assert.True(t, monthly.TotalWeeklyBonus.Equal(amount(50)))
	assert.True(t, monthly.MonthBonus.IsZero(), "no cycle opened the month")
	require.NotNil(t, monthly.LevelID)
	level, err := repo.GetLevel(ctx, *monthly.LevelID)
	require.NoError(t, err)
	assert.True(t, level.TotalBet.Equal(amount(5000)))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	svc, repo, dir, clock := newTestService(t)
	seedLevels(repo)
	newBatch(t, repo, "batch-1")
	newBatch(t, repo, "batch-2")
	ctx := context.Background()

	require.NoError(t, svc.ImportBets(ctx, "batch-1", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(1200)},
	}))
	clock.Set(date(2025, time.March, 19, 10))
	require.NoError(t, svc.ImportBets(ctx, "batch-2", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(4000)},
	}))
	clock.Set(date(2025, time.March, 26, 10))

	require.NoError(t, svc.Recompute(ctx))
	s1 := memberSummary(t, repo, dir, "alice")
	m1, err := repo.GetMonthly(ctx, nil, s1.MemberID, GameTypeElectronics, 2025, 3)
	require.NoError(t, err)

	require.NoError(t, svc.Recompute(ctx))
	s2 := memberSummary(t, repo, dir, "alice")
	m2, err := repo.GetMonthly(ctx, nil, s2.MemberID, GameTypeElectronics, 2025, 3)
	require.NoError(t, err)

	assert.True(t, s1.TotalBonus.Equal(s2.TotalBonus))
	assert.True(t, s1.TotalBet.Equal(s2.TotalBet))
	assert.True(t, m1.TotalBet.Equal(m2.TotalBet))
	assert.True(t, m1.AccumulatedBonus.Equal(m2.AccumulatedBonus))
	assert.True(t, m1.TotalWeeklyBonus.Equal(m2.TotalWeeklyBonus))
	assert.True(t, m1.MonthBonus.Equal(m2.MonthBonus))
}

func TestRecomputeExcludesOpenCycle(t *testing.T) {
	svc, repo, dir, clock := newTestService(t)
	seedLevels(repo)
	newBatch(t, repo, "batch-1")
	newBatch(t, repo, "batch-2")
	ctx := context.Background()

	require.NoError(t, svc.ImportBets(ctx, "batch-1", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(1200)},
	}))
	clock.Set(date(2025, time.March, 19, 10))
	require.NoError(t, svc.ImportBets(ctx, "batch-2", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(4000)},
	}))

	// Still inside week two: its deposit's figures are moving and stay out.
	require.NoError(t, svc.Recompute(ctx))

	s := memberSummary(t, repo, dir, "alice")
	assert.True(t, s.TotalBonus.Equal(amount(60)), "closed week one only: 50 + 10, got %s", s.TotalBonus)

	monthly, err := repo.GetMonthly(ctx, nil, s.MemberID, GameTypeElectronics, 2025, 3)
	require.NoError(t, err)
	assert.True(t, monthly.TotalBet.Equal(amount(1200)))
	assert.True(t, monthly.TotalWeeklyBonus.Equal(amount(10)))
}

func TestRecomputeExcludesRevertedBets(t *testing.T) {
	svc, repo, dir, clock := newTestService(t)
	seedLevels(repo)
	newBatch(t, repo, "batch-1")
	newBatch(t, repo, "batch-2")
	ctx := context.Background()

	require.NoError(t, svc.ImportBets(ctx, "batch-1", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(1200)},
	}))
	bets, err := repo.ActiveBatchBets(ctx, "batch-1")
	require.NoError(t, err)
	require.NoError(t, svc.RevertBets(ctx, []string{bets[0].BetID}, "admin"))

	clock.Set(date(2025, time.March, 19, 10))
	require.NoError(t, svc.ImportBets(ctx, "batch-2", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(4000)},
	}))
	clock.Set(date(2025, time.March, 26, 10))

	require.NoError(t, svc.Recompute(ctx))

	s := memberSummary(t, repo, dir, "alice")
	assert.True(t, s.TotalBonus.Equal(amount(60)), "only the 4000 deposit counts: 50 + 10, got %s", s.TotalBonus)

	monthly, err := repo.GetMonthly(ctx, nil, s.MemberID, GameTypeElectronics, 2025, 3)
	require.NoError(t, err)
	assert.True(t, monthly.TotalBet.Equal(amount(4000)))
}

func TestRecomputeSetsMonthBonusForFirstWeekCycle(t *testing.T) {
	svc, repo, dir, clock := newTestService(t)
	seedLevels(repo)
	newBatch(t, repo, "batch-1")
	ctx := context.Background()

	// Monday June 2 opens the month, so its cycle carries the entry bonus.
	clock.Set(date(2025, time.June, 4, 10))
	require.NoError(t, svc.ImportBets(ctx, "batch-1", GameTypeElectronics, "admin", []ImportRecord{
		{Username: "alice", Amount: amount(1200)},
	}))
	clock.Set(date(2025, time.June, 11, 10))

	require.NoError(t, svc.Recompute(ctx))

	s := memberSummary(t, repo, dir, "alice")
	assert.True(t, s.TotalBonus.Equal(amount(160)), "50 tier + 10 weekly + 100 month entry, got %s", s.TotalBonus)

	monthly, err := repo.GetMonthly(ctx, nil, s.MemberID, GameTypeElectronics, 2025, 6)
	require.NoError(t, err)
	assert.True(t, monthly.MonthBonus.Equal(amount(100)))
}

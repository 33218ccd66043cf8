package promotion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"promo_service/internal/member"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// fakeClock drives both the service and the fake store so updated_at
// bookkeeping matches the simulated calendar.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func (c *fakeClock) Set(t time.Time) { c.t = t }

type fakeRepo struct {
	now func() time.Time

	levels    map[GameType][]BetLevel
	batches   map[string]*ImportBatch
	summaries map[string]*Summary
	bets      map[string]*Bet
	betSeq    map[string]int
	monthlies map[string]*MonthlyBet

	nextID uint
	seq    int

	failSaveBet bool
}

func newFakeRepo(clock *fakeClock) *fakeRepo {
	return &fakeRepo{
		now:       clock.Now,
		levels:    make(map[GameType][]BetLevel),
		batches:   make(map[string]*ImportBatch),
		summaries: make(map[string]*Summary),
		bets:      make(map[string]*Bet),
		betSeq:    make(map[string]int),
		monthlies: make(map[string]*MonthlyBet),
	}
}

func (f *fakeRepo) addLevel(gameType GameType, threshold, bonus, weekly, monthly float64) BetLevel {
	f.nextID++
	level := BetLevel{
		LevelID:      f.nextID,
		GameType:     gameType,
		TotalBet:     decimal.NewFromFloat(threshold),
		Bonus:        decimal.NewFromFloat(bonus),
		WeeklyBonus:  decimal.NewFromFloat(weekly),
		MonthlyBonus: decimal.NewFromFloat(monthly),
	}
	f.levels[gameType] = append(f.levels[gameType], level)
	sort.Slice(f.levels[gameType], func(i, j int) bool {
		return f.levels[gameType][i].TotalBet.LessThan(f.levels[gameType][j].TotalBet)
	})
	return level
}

func summaryKey(memberID string, gameType GameType) string {
	return fmt.Sprintf("%s|%d", memberID, gameType)
}

func monthlyKey(memberID string, gameType GameType, year, month int) string {
	return fmt.Sprintf("%s|%d|%d|%d", memberID, gameType, year, month)
}

type repoSnapshot struct {
	batches   map[string]*ImportBatch
	summaries map[string]*Summary
	bets      map[string]*Bet
	betSeq    map[string]int
	monthlies map[string]*MonthlyBet
	nextID    uint
	seq       int
}

func (f *fakeRepo) snapshot() repoSnapshot {
	s := repoSnapshot{
		batches:   make(map[string]*ImportBatch, len(f.batches)),
		summaries: make(map[string]*Summary, len(f.summaries)),
		bets:      make(map[string]*Bet, len(f.bets)),
		betSeq:    make(map[string]int, len(f.betSeq)),
		monthlies: make(map[string]*MonthlyBet, len(f.monthlies)),
		nextID:    f.nextID,
		seq:       f.seq,
	}
	for k, v := range f.batches {
		c := *v
		s.batches[k] = &c
	}
	for k, v := range f.summaries {
		c := *v
		s.summaries[k] = &c
	}
	for k, v := range f.bets {
		c := *v
		s.bets[k] = &c
	}
	for k, v := range f.betSeq {
		s.betSeq[k] = v
	}
	for k, v := range f.monthlies {
		c := *v
		s.monthlies[k] = &c
	}
	return s
}

func (f *fakeRepo) restore(s repoSnapshot) {
	f.batches = s.batches
	f.summaries = s.summaries
	f.bets = s.bets
	f.betSeq = s.betSeq
	f.monthlies = s.monthlies
	f.nextID = s.nextID
	f.seq = s.seq
}

func (f *fakeRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	snap := f.snapshot()
	if err := fn(nil); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeRepo) LevelsForGame(ctx context.Context, tx *gorm.DB, gameType GameType) ([]BetLevel, error) {
	return f.levels[gameType], nil
}

func (f *fakeRepo) GetLevel(ctx context.Context, levelID uint) (*BetLevel, error) {
	for _, levels := range f.levels {
		for i := range levels {
			if levels[i].LevelID == levelID {
				c := levels[i]
				return &c, nil
			}
		}
	}
	return nil, ErrLevelNotFound
}

func (f *fakeRepo) GetBatch(ctx context.Context, batchID string) (*ImportBatch, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	c := *b
	return &c, nil
}

func (f *fakeRepo) CreateBatch(ctx context.Context, batch *ImportBatch) error {
	c := *batch
	c.CreatedAt = f.now()
	c.UpdatedAt = f.now()
	f.batches[batch.BatchID] = &c
	return nil
}

func (f *fakeRepo) UpdateBatchStatus(ctx context.Context, tx *gorm.DB, batchID string, from string, to string, memo string) error {
	b, ok := f.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	if b.Status != from {
		return ErrBatchTerminal
	}
	b.Status = to
	b.Memo = memo
	b.UpdatedAt = f.now()
	return nil
}

func (f *fakeRepo) GetSummary(ctx context.Context, memberID string, gameType GameType) (*Summary, error) {
	s, ok := f.summaries[summaryKey(memberID, gameType)]
	if !ok {
		return nil, ErrSummaryNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeRepo) GetSummaryForUpdate(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType) (*Summary, error) {
	return f.GetSummary(ctx, memberID, gameType)
}

func (f *fakeRepo) CreateSummary(ctx context.Context, tx *gorm.DB, summary *Summary) error {
	f.nextID++
	summary.SummaryID = f.nextID
	c := *summary
	c.CreatedAt = f.now()
	c.UpdatedAt = f.now()
	f.summaries[summaryKey(summary.MemberID, summary.GameType)] = &c
	return nil
}

func (f *fakeRepo) saveSummaryWithVersion(summary *Summary) error {
	for _, s := range f.summaries {
		if s.SummaryID == summary.SummaryID {
			if s.Version != summary.Version {
				return ErrOptimisticLock
			}
			c := *summary
			c.Version = s.Version + 1
			c.CreatedAt = s.CreatedAt
			c.UpdatedAt = f.now()
			f.summaries[summaryKey(s.MemberID, s.GameType)] = &c
			summary.Version++
			return nil
		}
	}
	return ErrSummaryNotFound
}

func (f *fakeRepo) SaveSummary(ctx context.Context, tx *gorm.DB, summary *Summary) error {
	return f.saveSummaryWithVersion(summary)
}

func (f *fakeRepo) SaveSummaryRollover(ctx context.Context, tx *gorm.DB, summary *Summary) error {
	return f.saveSummaryWithVersion(summary)
}

func (f *fakeRepo) DueSummaries(ctx context.Context, tx *gorm.DB, weekBegin time.Time) ([]Summary, error) {
	var due []Summary
	for _, s := range f.summaries {
		if s.UpdatedAt.Before(weekBegin) && s.CurrentLevelID != nil {
			due = append(due, *s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SummaryID < due[j].SummaryID })
	return due, nil
}

func (f *fakeRepo) MemberIDsWithLevel(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range f.summaries {
		if s.CurrentLevelID != nil && !seen[s.MemberID] {
			seen[s.MemberID] = true
			ids = append(ids, s.MemberID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeRepo) CreateBets(ctx context.Context, tx *gorm.DB, bets []*Bet) error {
	for _, bet := range bets {
		f.seq++
		c := *bet
		c.CreatedAt = f.now()
		c.UpdatedAt = f.now()
		f.bets[bet.BetID] = &c
		f.betSeq[bet.BetID] = f.seq
	}
	return nil
}

func (f *fakeRepo) SaveBet(ctx context.Context, tx *gorm.DB, bet *Bet) error {
	if f.failSaveBet {
		return errors.New("induced save failure")
	}
	b, ok := f.bets[bet.BetID]
	if !ok {
		return ErrBetNotFound
	}
	b.LevelID = bet.LevelID
	b.Active = bet.Active
	b.UpdatedAt = f.now()
	return nil
}

func (f *fakeRepo) GetBet(ctx context.Context, betID string) (*Bet, error) {
	b, ok := f.bets[betID]
	if !ok {
		return nil, ErrBetNotFound
	}
	c := *b
	return &c, nil
}

func (f *fakeRepo) sortedBets(filter func(*Bet) bool) []Bet {
	var out []Bet
	for _, b := range f.bets {
		if filter(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return f.betSeq[out[i].BetID] < f.betSeq[out[j].BetID]
	})
	return out
}

func (f *fakeRepo) ActiveBatchBets(ctx context.Context, batchID string) ([]Bet, error) {
	return f.sortedBets(func(b *Bet) bool {
		return b.BatchID == batchID && b.Active
	}), nil
}

func (f *fakeRepo) ActiveBetsByMember(ctx context.Context, memberID string) ([]Bet, error) {
	bets := f.sortedBets(func(b *Bet) bool {
		return b.MemberID == memberID && b.Active
	})
	sort.SliceStable(bets, func(i, j int) bool {
		return bets[i].GameType < bets[j].GameType
	})
	return bets, nil
}

func (f *fakeRepo) LastActiveBetBefore(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, before time.Time) (*Bet, error) {
	var last *Bet
	for _, b := range f.bets {
		if b.MemberID != memberID || b.GameType != gameType || !b.Active {
			continue
		}
		if !b.CycleBegin.Before(before) {
			continue
		}
		if last == nil || b.CycleBegin.After(last.CycleBegin) {
			c := *b
			last = &c
		}
	}
	return last, nil
}

func (f *fakeRepo) ActiveBetTotalBefore(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, before time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range f.bets {
		if b.MemberID == memberID && b.GameType == gameType && b.Active && b.CycleBegin.Before(before) {
			total = total.Add(b.Amount)
		}
	}
	return total, nil
}

func (f *fakeRepo) DeactivateBet(ctx context.Context, tx *gorm.DB, betID string) error {
	b, ok := f.bets[betID]
	if !ok || !b.Active {
		return ErrBetNotFound
	}
	b.Active = false
	b.UpdatedAt = f.now()
	return nil
}

func (f *fakeRepo) GetMonthly(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, year int, month int) (*MonthlyBet, error) {
	m, ok := f.monthlies[monthlyKey(memberID, gameType, year, month)]
	if !ok {
		return nil, ErrMonthlyNotFound
	}
	c := *m
	return &c, nil
}

func (f *fakeRepo) CreateMonthly(ctx context.Context, tx *gorm.DB, monthly *MonthlyBet) error {
	f.nextID++
	monthly.MonthlyBetID = f.nextID
	c := *monthly
	c.CreatedAt = f.now()
	c.UpdatedAt = f.now()
	f.monthlies[monthlyKey(monthly.MemberID, monthly.GameType, monthly.CycleYear, monthly.CycleMonth)] = &c
	return nil
}

func (f *fakeRepo) SaveMonthly(ctx context.Context, tx *gorm.DB, monthly *MonthlyBet) error {
	for k, m := range f.monthlies {
		if m.MonthlyBetID == monthly.MonthlyBetID {
			c := *monthly
			c.CreatedAt = m.CreatedAt
			c.UpdatedAt = f.now()
			f.monthlies[k] = &c
			return nil
		}
	}
	return ErrMonthlyNotFound
}

type fakeDirectory struct {
	byUsername map[string]*member.Member
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byUsername: make(map[string]*member.Member)}
}

func (d *fakeDirectory) GetByUsername(ctx context.Context, username string) (*member.Member, error) {
	m, ok := d.byUsername[username]
	if !ok {
		return nil, member.ErrMemberNotFound
	}
	return m, nil
}

func (d *fakeDirectory) GetOrCreate(ctx context.Context, tx *gorm.DB, username string, actorID string) (*member.Member, bool, error) {
	if m, ok := d.byUsername[username]; ok {
		m.UpdatedBy = actorID
		return m, false, nil
	}
	m := &member.Member{
		MemberID:  uuid.New().String(),
		Username:  username,
		CreatedBy: actorID,
	}
	d.byUsername[username] = m
	return m, true, nil
}

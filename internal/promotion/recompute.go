package promotion

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// monthAccrual is one calendar month's rebuilt figures for a member and
// game type.
type monthAccrual struct {
	cycleYear        int
	cycleMonth       int
	cycleBegin       time.Time
	cycleEnd         time.Time
	totalBet         decimal.Decimal
	totalWeeklyBonus decimal.Decimal
	monthBonus       decimal.Decimal
}

// Recompute is the authoritative ground-truth reconciliation: for every
// member holding a tier it replays all closed-cycle active bets in
// chronological order, rebuilds each month's aggregate from scratch and
// overwrites the summary's total bonus with the grand total. Running it
// twice with no intervening bets yields identical rows.
func (s *Service) Recompute(ctx context.Context) error {
	now := s.now()

	memberIDs, err := s.repo.MemberIDsWithLevel(ctx)
	if err != nil {
		return err
	}
	s.log.WithField("members", len(memberIDs)).Info("recompute started")

	for _, memberID := range memberIDs {
		bets, err := s.repo.ActiveBetsByMember(ctx, memberID)
		if err != nil {
			return err
		}
		if len(bets) == 0 {
			continue
		}

		// Bets come ordered by game type then creation time.
		byGame := make(map[GameType][]Bet)
		var order []GameType
		for _, bet := range bets {
			if _, seen := byGame[bet.GameType]; !seen {
				order = append(order, bet.GameType)
			}
			byGame[bet.GameType] = append(byGame[bet.GameType], bet)
		}

		for _, gameType := range order {
			if err := s.recomputeGame(ctx, memberID, gameType, byGame[gameType], now); err != nil {
				return err
			}
		}
	}

	s.log.Info("recompute completed")
	return nil
}

func (s *Service) recomputeGame(ctx context.Context, memberID string, gameType GameType, bets []Bet, now time.Time) error {
	return s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		levels, err := s.repo.LevelsForGame(ctx, tx, gameType)
		if err != nil {
			return err
		}

		months, keys := replayBets(levels, bets, now)

		runningTotal := decimal.Zero
		grandTotal := decimal.Zero
		for _, key := range keys {
			m := months[key]
			monthEndTotal := runningTotal.Add(m.totalBet)
			accumulated := BonusBetween(levels, runningTotal, monthEndTotal)
			level := LevelFor(levels, monthEndTotal)
			runningTotal = monthEndTotal

			if err := s.writeMonthly(ctx, tx, memberID, gameType, m, accumulated, level); err != nil {
				return err
			}
			grandTotal = grandTotal.Add(accumulated).Add(m.totalWeeklyBonus).Add(m.monthBonus)
		}

		summary, err := s.repo.GetSummaryForUpdate(ctx, tx, memberID, gameType)
		if errors.Is(err, ErrSummaryNotFound) {
			summary = &Summary{
				MemberID:         memberID,
				GameType:         gameType,
				TotalBet:         decimal.Zero,
				TotalBonus:       decimal.Zero,
				CurrentWeekBonus: decimal.Zero,
				Version:          1,
			}
			if err := s.repo.CreateSummary(ctx, tx, summary); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		summary.TotalBonus = grandTotal
		if err := s.repo.SaveSummary(ctx, tx, summary); err != nil {
			return err
		}

		s.log.WithFields(logrus.Fields{
			"member_id":   memberID,
			"game_type":   gameType,
			"total_bonus": grandTotal.StringFixed(2),
		}).Debug("summary bonus recomputed")
		return nil
	})
}

// replayBets walks closed-cycle bets chronologically and folds them into
// per-month accruals. Within one cycle a later bet replaces the earlier
// tier's weekly bonus rather than stacking on it; the last first-week cycle
// of a month sets its entry bonus.
func replayBets(levels []BetLevel, bets []Bet, now time.Time) (map[string]*monthAccrual, []string) {
	months := make(map[string]*monthAccrual)
	var keys []string

	runningTotal := decimal.Zero
	var previousLevel *BetLevel
	var previousCycle time.Time

	for i := range bets {
		bet := &bets[i]
		// The open cycle is excluded: its figures are still moving.
		if !bet.CycleBegin.After(now) && !bet.CycleEnd.Before(now) {
			continue
		}

		runningTotal = runningTotal.Add(bet.Amount)
		key := bet.CycleBegin.Format("200601")
		m, ok := months[key]
		if !ok {
			m = &monthAccrual{
				cycleYear:        bet.CycleBegin.Year(),
				cycleMonth:       int(bet.CycleBegin.Month()),
				cycleBegin:       bet.CycleBegin,
				totalBet:         decimal.Zero,
				totalWeeklyBonus: decimal.Zero,
				monthBonus:       decimal.Zero,
			}
			months[key] = m
			keys = append(keys, key)
		}
		m.cycleEnd = bet.CycleEnd
		m.totalBet = m.totalBet.Add(bet.Amount)

		if level := LevelFor(levels, runningTotal); level != nil {
			if FirstWeek(bet.CycleBegin) {
				m.monthBonus = level.MonthlyBonus
			}
			if previousLevel != nil && previousCycle.Equal(bet.CycleBegin) {
				m.totalWeeklyBonus = m.totalWeeklyBonus.Sub(previousLevel.WeeklyBonus)
			}
			m.totalWeeklyBonus = m.totalWeeklyBonus.Add(level.WeeklyBonus)
			previousLevel = level
		}
		previousCycle = bet.CycleBegin
	}

	return months, keys
}

func (s *Service) writeMonthly(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, m *monthAccrual, accumulated decimal.Decimal, level *BetLevel) error {
	monthly, err := s.repo.GetMonthly(ctx, tx, memberID, gameType, m.cycleYear, m.cycleMonth)
	if errors.Is(err, ErrMonthlyNotFound) {
		monthly = &MonthlyBet{
			MemberID:   memberID,
			GameType:   gameType,
			CycleYear:  m.cycleYear,
			CycleMonth: m.cycleMonth,
			TotalBet:   decimal.Zero,
		}
		if err := s.repo.CreateMonthly(ctx, tx, monthly); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	monthly.CycleBegin = m.cycleBegin
	monthly.CycleEnd = m.cycleEnd
	monthly.TotalBet = m.totalBet
	monthly.AccumulatedBonus = accumulated
	monthly.TotalWeeklyBonus = m.totalWeeklyBonus
	monthly.MonthBonus = m.monthBonus
	if level != nil {
		monthly.LevelID = &level.LevelID
	} else {
		monthly.LevelID = nil
	}
	return s.repo.SaveMonthly(ctx, tx, monthly)
}

package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promo_service/internal/member"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrNegativeAmount   = errors.New("negative bet amount")
	ErrUnknownGameType  = errors.New("unknown game type")
	ErrBetAlreadyClosed = errors.New("bet already reverted")
)

type PromotionService interface {
	ImportBets(ctx context.Context, batchID string, gameType GameType, actorID string, records []ImportRecord) error
	Rollover(ctx context.Context) error
	Recompute(ctx context.Context) error
	RevertBets(ctx context.Context, betIDs []string, actorID string) error
	DeleteBatch(ctx context.Context, batchID string, actorID string) error
	CancelStaleBatch(ctx context.Context, batchID string) error
	SummaryFor(ctx context.Context, username string, gameType GameType) (*SummaryView, error)
}

type Service struct {
	repo    Repository
	members member.Directory
	log     *logrus.Logger
	now     func() time.Time
}

func NewService(repo Repository, members member.Directory, log *logrus.Logger) *Service {
	return &Service{
		repo:    repo,
		members: members,
		log:     log,
		now:     time.Now,
	}
}

// ImportBets ingests one batch of imported deposit records and runs the
// accrual step for each resulting bet. The whole batch executes inside a
// single transaction: a failure anywhere leaves zero persisted side effects,
// and the batch is marked canceled with the cause as memo.
//
// Records arrive newest-first and are applied oldest-first, so the slice is
// walked in reverse.
func (s *Service) ImportBets(ctx context.Context, batchID string, gameType GameType, actorID string, records []ImportRecord) error {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Terminal() {
		s.log.WithFields(logrus.Fields{
			"batch_id": batchID,
			"status":   batch.Status,
		}).Warn("skipping import for finished batch")
		return ErrBatchTerminal
	}

	if !gameType.Valid() {
		return s.cancelBatch(ctx, batchID, fmt.Sprintf("Unknown game type: %d", gameType))
	}

	now := s.now()
	weekBegin, weekEnd := WeekWindow(now)

	// Close any cycles that ended before this week's deposits land.
	if err := s.Rollover(ctx); err != nil {
		return s.cancelBatch(ctx, batchID, fmt.Sprintf("Error: %v", err))
	}

	// Amount validation is a strict precondition: one bad record cancels the
	// batch before anything is created.
	for _, record := range records {
		if record.Amount.IsNegative() {
			memo := fmt.Sprintf("Negative amount found in imported data: %s (%s)",
				record.Username, record.Amount.StringFixed(2))
			return s.cancelBatch(ctx, batchID, memo)
		}
	}

	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		levels, err := s.repo.LevelsForGame(ctx, tx, gameType)
		if err != nil {
			return err
		}

		bets := make([]*Bet, 0, len(records))
		for i := len(records) - 1; i >= 0; i-- {
			record := records[i]
			m, created, err := s.members.GetOrCreate(ctx, tx, record.Username, actorID)
			if err != nil {
				return err
			}
			if created {
				s.log.WithField("username", record.Username).Info("member created on import")
			}
			bets = append(bets, &Bet{
				BetID:      uuid.New().String(),
				MemberID:   m.MemberID,
				Username:   record.Username,
				GameType:   gameType,
				Amount:     record.Amount,
				CycleBegin: weekBegin,
				CycleEnd:   weekEnd,
				Active:     true,
				BatchID:    batchID,
				CreatedBy:  actorID,
			})
		}

		if err := s.repo.CreateBets(ctx, tx, bets); err != nil {
			return err
		}

		for _, bet := range bets {
			if err := s.applyBet(ctx, tx, levels, bet, actorID, weekBegin, weekEnd); err != nil {
				return fmt.Errorf("bet for %s: %w", bet.Username, err)
			}
		}

		// The completion write is part of the transaction and guarded on the
		// batch still being ongoing: if the auto-cancel timer fired mid-import,
		// the whole batch rolls back instead of overwriting the terminal state.
		return s.repo.UpdateBatchStatus(ctx, tx, batchID, BatchStatusOngoing, BatchStatusCompleted, "")
	})
	if err != nil {
		return s.cancelBatch(ctx, batchID, fmt.Sprintf("Error: %v", err))
	}

	s.log.WithFields(logrus.Fields{
		"batch_id": batchID,
		"bets":     len(records),
	}).Info("import complete")
	return nil
}

// applyBet runs the accrual step for one freshly created bet: recompute the
// member's cumulative total, credit any cycle-crossing bonus, refresh the
// current tier and week bonus, and fold the amount into the month aggregate.
func (s *Service) applyBet(ctx context.Context, tx *gorm.DB, levels []BetLevel, bet *Bet, actorID string, weekBegin, weekEnd time.Time) error {
	summary, err := s.repo.GetSummaryForUpdate(ctx, tx, bet.MemberID, bet.GameType)
	if errors.Is(err, ErrSummaryNotFound) {
		summary = &Summary{
			MemberID:         bet.MemberID,
			GameType:         bet.GameType,
			TotalBet:         decimal.Zero,
			TotalBonus:       decimal.Zero,
			CurrentWeekBonus: decimal.Zero,
			Version:          1,
			CreatedBy:        actorID,
		}
		if err := s.repo.CreateSummary(ctx, tx, summary); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		summary.UpdatedBy = actorID
	}

	newTotal := summary.TotalBet.Add(bet.Amount)
	newLevel := LevelFor(levels, newTotal)

	previousBet, err := s.repo.LastActiveBetBefore(ctx, tx, bet.MemberID, bet.GameType, weekBegin)
	if err != nil {
		return err
	}
	previousTotal, err := s.repo.ActiveBetTotalBefore(ctx, tx, bet.MemberID, bet.GameType, weekBegin)
	if err != nil {
		return err
	}

	// First deposit after an older cycle: the standing tier's weekly bonus is
	// credited, plus its monthly bonus when the closed cycle opened the month.
	if previousBet != nil && summary.CurrentLevelID != nil {
		standing := levelByID(levels, *summary.CurrentLevelID)
		if standing != nil {
			summary.TotalBonus = summary.TotalBonus.Add(standing.WeeklyBonus)
			if FirstWeek(previousBet.CycleBegin) {
				summary.TotalBonus = summary.TotalBonus.Add(standing.MonthlyBonus)
			}
		}
	}

	summary.TotalBet = newTotal
	if newLevel != nil {
		summary.CurrentLevelID = &newLevel.LevelID
		bet.LevelID = &newLevel.LevelID
	} else {
		summary.CurrentLevelID = nil
		bet.LevelID = nil
	}

	// Tiers newly entered this cycle, re-summed fresh on every deposit.
	summary.CurrentWeekBonus = BonusBetween(levels, previousTotal, newTotal)

	if err := s.upsertMonthly(ctx, tx, summary, bet, newLevel, weekBegin, weekEnd); err != nil {
		return err
	}
	if err := s.repo.SaveSummary(ctx, tx, summary); err != nil {
		return err
	}
	return s.repo.SaveBet(ctx, tx, bet)
}

func (s *Service) upsertMonthly(ctx context.Context, tx *gorm.DB, summary *Summary, bet *Bet, newLevel *BetLevel, weekBegin, weekEnd time.Time) error {
	cycleYear := weekBegin.Year()
	cycleMonth := int(weekBegin.Month())

	monthly, err := s.repo.GetMonthly(ctx, tx, bet.MemberID, bet.GameType, cycleYear, cycleMonth)
	if errors.Is(err, ErrMonthlyNotFound) {
		monthly = &MonthlyBet{
			MemberID:   bet.MemberID,
			GameType:   bet.GameType,
			CycleYear:  cycleYear,
			CycleMonth: cycleMonth,
			CycleBegin: weekBegin,
			TotalBet:   decimal.Zero,
		}
		if err := s.repo.CreateMonthly(ctx, tx, monthly); err != nil {
			return err
		}

		// A new month row closes the previous one: snapshot its tier.
		prev := time.Date(cycleYear, time.Month(cycleMonth), 1, 0, 0, 0, 0, weekBegin.Location()).AddDate(0, -1, 0)
		previousMonthly, err := s.repo.GetMonthly(ctx, tx, bet.MemberID, bet.GameType, prev.Year(), int(prev.Month()))
		if err == nil && previousMonthly.LevelID != nil {
			summary.PreviousMonthLevelID = previousMonthly.LevelID
		} else if err != nil && !errors.Is(err, ErrMonthlyNotFound) {
			return err
		}
	} else if err != nil {
		return err
	}

	monthly.TotalBet = monthly.TotalBet.Add(bet.Amount)
	if newLevel != nil {
		monthly.LevelID = &newLevel.LevelID
	} else {
		monthly.LevelID = nil
	}
	monthly.CycleEnd = weekEnd

	return s.repo.SaveMonthly(ctx, tx, monthly)
}

// Rollover closes every summary whose weekly cycle has ended: the accrued
// week bonus folds into the running total and the standing tier is
// snapshotted as the previous week's (and, across a month boundary, the
// previous month's). Idempotent per call boundary: a closed row's updated_at
// moves into the current week and excludes it from the next sweep.
func (s *Service) Rollover(ctx context.Context) error {
	now := s.now()
	weekBegin, _ := WeekWindow(now)

	return s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		summaries, err := s.repo.DueSummaries(ctx, tx, weekBegin)
		if err != nil {
			return err
		}
		for i := range summaries {
			summary := &summaries[i]
			if !CycleClosed(summary.UpdatedAt, now) {
				continue
			}
			summary.TotalBonus = summary.TotalBonus.Add(summary.CurrentWeekBonus)
			summary.CurrentWeekBonus = decimal.Zero
			summary.PreviousWeekLevelID = summary.CurrentLevelID
			if MonthClosed(summary.UpdatedAt, now) {
				summary.PreviousMonthLevelID = summary.CurrentLevelID
			}
			if err := s.repo.SaveSummaryRollover(ctx, tx, summary); err != nil {
				return err
			}
		}
		if len(summaries) > 0 {
			s.log.WithField("count", len(summaries)).Info("weekly rollover applied")
		}
		return nil
	})
}

// RevertBets undoes each listed bet's effect on its summary and month
// aggregate. Every bet reverts in its own transaction; an already reverted
// bet is skipped quietly.
func (s *Service) RevertBets(ctx context.Context, betIDs []string, actorID string) error {
	for _, betID := range betIDs {
		bet, err := s.repo.GetBet(ctx, betID)
		if err != nil {
			return err
		}
		if !bet.Active {
			s.log.WithField("bet_id", betID).Warn("bet already reverted, skipping")
			continue
		}
		err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
			return s.revertBet(ctx, tx, bet, actorID)
		})
		if err != nil {
			return fmt.Errorf("revert bet %s: %w", betID, err)
		}
	}
	return nil
}

// DeleteBatch reverses every still-active bet of a batch and marks the batch
// deleted, all in one transaction.
func (s *Service) DeleteBatch(ctx context.Context, batchID string, actorID string) error {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status == BatchStatusDeleted {
		return nil
	}
	bets, err := s.repo.ActiveBatchBets(ctx, batchID)
	if err != nil {
		return err
	}
	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		for i := range bets {
			if err := s.revertBet(ctx, tx, &bets[i], actorID); err != nil {
				return err
			}
		}
		return s.repo.UpdateBatchStatus(ctx, tx, batchID, batch.Status, BatchStatusDeleted, fmt.Sprintf("%d bets reverted", len(bets)))
	})
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", batchID, err)
	}
	s.log.WithFields(logrus.Fields{
		"batch_id": batchID,
		"bets":     len(bets),
	}).Info("import batch deleted")
	return nil
}

// revertBet is the compensating step for one applied bet. Bonus deductions
// are clamped at zero: a reversal never drives total_bonus or month_bonus
// negative.
func (s *Service) revertBet(ctx context.Context, tx *gorm.DB, bet *Bet, actorID string) error {
	now := s.now()
	weekBegin, _ := WeekWindow(now)
	cycleBegin := bet.CycleBegin

	s.log.WithFields(logrus.Fields{
		"bet_id":   bet.BetID,
		"username": bet.Username,
		"amount":   bet.Amount.StringFixed(2),
	}).Info("reverting bet")

	levels, err := s.repo.LevelsForGame(ctx, tx, bet.GameType)
	if err != nil {
		return err
	}

	summary, err := s.repo.GetSummaryForUpdate(ctx, tx, bet.MemberID, bet.GameType)
	if err != nil {
		return err
	}
	summary.TotalBet = summary.TotalBet.Sub(bet.Amount)
	summary.UpdatedBy = actorID

	if newLevel := LevelFor(levels, summary.TotalBet); newLevel != nil {
		summary.CurrentLevelID = &newLevel.LevelID
	} else {
		summary.CurrentLevelID = nil
	}

	previousTotal, err := s.repo.ActiveBetTotalBefore(ctx, tx, bet.MemberID, bet.GameType, cycleBegin)
	if err != nil {
		return err
	}

	monthly, err := s.repo.GetMonthly(ctx, tx, bet.MemberID, bet.GameType, cycleBegin.Year(), int(cycleBegin.Month()))
	if err != nil {
		return err
	}
	monthly.TotalBet = monthly.TotalBet.Sub(bet.Amount)

	if weekBegin.Equal(cycleBegin) {
		// Current cycle: the week bonus simply re-sums for the reduced total.
		summary.CurrentWeekBonus = BonusBetween(levels, previousTotal, summary.TotalBet)
		if FirstWeek(cycleBegin) {
			monthly.MonthBonus = decimal.Zero
		}
	} else {
		// Past cycle: take back the tier-range bonus this bet contributed and
		// the weekly bonus of the tier it had reached.
		restoredTotal := previousTotal.Add(bet.Amount)
		reachedLevel := LevelFor(levels, restoredTotal)
		if reachedLevel != nil {
			accumulated := BonusBetween(levels, previousTotal, restoredTotal)
			monthly.AccumulatedBonus = monthly.AccumulatedBonus.Sub(accumulated)
			monthly.TotalWeeklyBonus = monthly.TotalWeeklyBonus.Sub(reachedLevel.WeeklyBonus)

			deduction := accumulated.Add(reachedLevel.WeeklyBonus)
			if summary.TotalBonus.LessThanOrEqual(deduction) {
				summary.TotalBonus = decimal.Zero
			} else {
				summary.TotalBonus = summary.TotalBonus.Sub(deduction)
			}

			if FirstWeek(cycleBegin) {
				if summary.TotalBonus.GreaterThanOrEqual(reachedLevel.MonthlyBonus) {
					summary.TotalBonus = summary.TotalBonus.Sub(reachedLevel.MonthlyBonus)
				}
				if monthly.MonthBonus.GreaterThanOrEqual(reachedLevel.MonthlyBonus) {
					monthly.MonthBonus = monthly.MonthBonus.Sub(reachedLevel.MonthlyBonus)
				}
			}
		}
	}

	if err := s.repo.SaveMonthly(ctx, tx, monthly); err != nil {
		return err
	}
	if err := s.repo.SaveSummary(ctx, tx, summary); err != nil {
		return err
	}
	return s.repo.DeactivateBet(ctx, tx, bet.BetID)
}

// CancelStaleBatch is the dead-man's switch for stuck imports: a batch still
// ongoing when the timer fires is marked canceled. The in-flight task is not
// interrupted; it simply finds the batch terminal.
func (s *Service) CancelStaleBatch(ctx context.Context, batchID string) error {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Terminal() {
		return nil
	}
	s.log.WithField("batch_id", batchID).Warn("canceling stale import batch")
	err = s.repo.UpdateBatchStatus(ctx, nil, batchID, BatchStatusOngoing, BatchStatusCanceled, "Request canceled")
	if errors.Is(err, ErrBatchTerminal) {
		return nil
	}
	return err
}

func (s *Service) SummaryFor(ctx context.Context, username string, gameType GameType) (*SummaryView, error) {
	m, err := s.members.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	summary, err := s.repo.GetSummary(ctx, m.MemberID, gameType)
	if err != nil {
		return nil, err
	}

	view := &SummaryView{
		Username:         username,
		GameType:         gameType,
		TotalBet:         summary.TotalBet,
		TotalBonus:       summary.TotalBonus,
		CurrentWeekBonus: summary.CurrentWeekBonus,
	}
	if summary.CurrentLevelID != nil {
		level, err := s.repo.GetLevel(ctx, *summary.CurrentLevelID)
		if err != nil {
			return nil, err
		}
		view.CurrentLevel = level
	}
	return view, nil
}

func (s *Service) cancelBatch(ctx context.Context, batchID string, memo string) error {
	s.log.WithFields(logrus.Fields{
		"batch_id": batchID,
		"memo":     memo,
	}).Error("import batch canceled")
	err := s.repo.UpdateBatchStatus(ctx, nil, batchID, BatchStatusOngoing, BatchStatusCanceled, memo)
	if errors.Is(err, ErrBatchTerminal) {
		s.log.WithField("batch_id", batchID).Warn("batch already finished, cancel skipped")
		return nil
	}
	return err
}

func levelByID(levels []BetLevel, id uint) *BetLevel {
	for i := range levels {
		if levels[i].LevelID == id {
			return &levels[i]
		}
	}
	return nil
}

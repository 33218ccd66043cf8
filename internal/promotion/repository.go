package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSummaryNotFound = errors.New("summary not found")
	ErrBetNotFound     = errors.New("bet not found")
	ErrBatchNotFound   = errors.New("import batch not found")
	ErrBatchTerminal   = errors.New("import batch already finished")
	ErrMonthlyNotFound = errors.New("monthly aggregate not found")
	ErrLevelNotFound   = errors.New("bet level not found")
	ErrOptimisticLock  = errors.New("optimistic lock error")
)

type Repository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	LevelsForGame(ctx context.Context, tx *gorm.DB, gameType GameType) ([]BetLevel, error)
	GetLevel(ctx context.Context, levelID uint) (*BetLevel, error)

	GetBatch(ctx context.Context, batchID string) (*ImportBatch, error)
	CreateBatch(ctx context.Context, batch *ImportBatch) error
	UpdateBatchStatus(ctx context.Context, tx *gorm.DB, batchID string, from string, to string, memo string) error

	GetSummary(ctx context.Context, memberID string, gameType GameType) (*Summary, error)
	GetSummaryForUpdate(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType) (*Summary, error)
	CreateSummary(ctx context.Context, tx *gorm.DB, summary *Summary) error
	SaveSummary(ctx context.Context, tx *gorm.DB, summary *Summary) error
	SaveSummaryRollover(ctx context.Context, tx *gorm.DB, summary *Summary) error
	DueSummaries(ctx context.Context, tx *gorm.DB, weekBegin time.Time) ([]Summary, error)
	MemberIDsWithLevel(ctx context.Context) ([]string, error)

	CreateBets(ctx context.Context, tx *gorm.DB, bets []*Bet) error
	SaveBet(ctx context.Context, tx *gorm.DB, bet *Bet) error
	GetBet(ctx context.Context, betID string) (*Bet, error)
	ActiveBatchBets(ctx context.Context, batchID string) ([]Bet, error)
	ActiveBetsByMember(ctx context.Context, memberID string) ([]Bet, error)
	LastActiveBetBefore(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, before time.Time) (*Bet, error)
	ActiveBetTotalBefore(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, before time.Time) (decimal.Decimal, error)
	DeactivateBet(ctx context.Context, tx *gorm.DB, betID string) error

	GetMonthly(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, year int, month int) (*MonthlyBet, error)
	CreateMonthly(ctx context.Context, tx *gorm.DB, monthly *MonthlyBet) error
	SaveMonthly(ctx context.Context, tx *gorm.DB, monthly *MonthlyBet) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *RepositoryImpl) injected(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *RepositoryImpl) LevelsForGame(ctx context.Context, tx *gorm.DB, gameType GameType) ([]BetLevel, error) {
	var levels []BetLevel
	err := r.injected(tx).WithContext(ctx).
		Where("game_type = ?", gameType).
		Order("total_bet ASC").
		Find(&levels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load bet levels: %w", err)
	}
	return levels, nil
}

func (r *RepositoryImpl) GetLevel(ctx context.Context, levelID uint) (*BetLevel, error) {
	var level BetLevel
	err := r.db.WithContext(ctx).Where("level_id = ?", levelID).First(&level).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLevelNotFound
		}
		return nil, fmt.Errorf("failed to get bet level: %w", err)
	}
	return &level, nil
}

func (r *RepositoryImpl) GetBatch(ctx context.Context, batchID string) (*ImportBatch, error) {
	var batch ImportBatch
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get import batch: %w", err)
	}
	return &batch, nil
}

func (r *RepositoryImpl) CreateBatch(ctx context.Context, batch *ImportBatch) error {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}
	return nil
}

// UpdateBatchStatus transitions a batch only when its current status matches
// from, so a concurrent writer can never regress a terminal state.
func (r *RepositoryImpl) UpdateBatchStatus(ctx context.Context, tx *gorm.DB, batchID string, from string, to string, memo string) error {
	result := r.injected(tx).WithContext(ctx).
		Model(&ImportBatch{}).
		Where("batch_id = ? AND status = ?", batchID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"memo":       memo,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update batch status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetBatch(ctx, batchID); err != nil {
			return err
		}
		return ErrBatchTerminal
	}
	return nil
}

func (r *RepositoryImpl) GetSummary(ctx context.Context, memberID string, gameType GameType) (*Summary, error) {
	var summary Summary
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND game_type = ?", memberID, gameType).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSummaryNotFound
		}
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &summary, nil
}

func (r *RepositoryImpl) GetSummaryForUpdate(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType) (*Summary, error) {
	var summary Summary
	err := r.injected(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ? AND game_type = ?", memberID, gameType).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSummaryNotFound
		}
		return nil, fmt.Errorf("failed to lock summary: %w", err)
	}
	return &summary, nil
}

func (r *RepositoryImpl) CreateSummary(ctx context.Context, tx *gorm.DB, summary *Summary) error {
	if err := r.injected(tx).WithContext(ctx).Create(summary).Error; err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) SaveSummary(ctx context.Context, tx *gorm.DB, summary *Summary) error {
	result := r.injected(tx).WithContext(ctx).
		Model(&Summary{}).
		Where("summary_id = ? AND version = ?", summary.SummaryID, summary.Version).
		Updates(map[string]interface{}{
			"total_bet":               summary.TotalBet,
			"total_bonus":             summary.TotalBonus,
			"current_week_bonus":      summary.CurrentWeekBonus,
			"current_level_id":        summary.CurrentLevelID,
			"previous_week_level_id":  summary.PreviousWeekLevelID,
			"previous_month_level_id": summary.PreviousMonthLevelID,
			"updated_by":              summary.UpdatedBy,
			"version":                 gorm.Expr("version + 1"),
			"updated_at":              time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save summary: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	summary.Version++
	return nil
}

// SaveSummaryRollover persists only the period-close fields.
func (r *RepositoryImpl) SaveSummaryRollover(ctx context.Context, tx *gorm.DB, summary *Summary) error {
	result := r.injected(tx).WithContext(ctx).
		Model(&Summary{}).
		Where("summary_id = ? AND version = ?", summary.SummaryID, summary.Version).
		Updates(map[string]interface{}{
			"total_bonus":             summary.TotalBonus,
			"current_week_bonus":      summary.CurrentWeekBonus,
			"previous_week_level_id":  summary.PreviousWeekLevelID,
			"previous_month_level_id": summary.PreviousMonthLevelID,
			"version":                 gorm.Expr("version + 1"),
			"updated_at":              time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save summary rollover: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	summary.Version++
	return nil
}

func (r *RepositoryImpl) DueSummaries(ctx context.Context, tx *gorm.DB, weekBegin time.Time) ([]Summary, error) {
	var summaries []Summary
	err := r.injected(tx).WithContext(ctx).
		Where("updated_at < ? AND current_level_id IS NOT NULL", weekBegin).
		Order("updated_at DESC").
		Find(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load due summaries: %w", err)
	}
	return summaries, nil
}

func (r *RepositoryImpl) MemberIDsWithLevel(ctx context.Context) ([]string, error) {
	var memberIDs []string
	err := r.db.WithContext(ctx).
		Model(&Summary{}).
		Where("current_level_id IS NOT NULL").
		Distinct("member_id").
		Order("member_id").
		Pluck("member_id", &memberIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members with level: %w", err)
	}
	return memberIDs, nil
}

func (r *RepositoryImpl) CreateBets(ctx context.Context, tx *gorm.DB, bets []*Bet) error {
	if len(bets) == 0 {
		return nil
	}
	if err := r.injected(tx).WithContext(ctx).Create(bets).Error; err != nil {
		return fmt.Errorf("failed to create bets: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) SaveBet(ctx context.Context, tx *gorm.DB, bet *Bet) error {
	result := r.injected(tx).WithContext(ctx).
		Model(&Bet{}).
		Where("bet_id = ?", bet.BetID).
		Updates(map[string]interface{}{
			"level_id":   bet.LevelID,
			"active":     bet.Active,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save bet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBetNotFound
	}
	return nil
}

func (r *RepositoryImpl) GetBet(ctx context.Context, betID string) (*Bet, error) {
	var bet Bet
	err := r.db.WithContext(ctx).Where("bet_id = ?", betID).First(&bet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}
	return &bet, nil
}

func (r *RepositoryImpl) ActiveBatchBets(ctx context.Context, batchID string) ([]Bet, error) {
	var bets []Bet
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND active = ?", batchID, true).
		Order("created_at ASC").
		Find(&bets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list batch bets: %w", err)
	}
	return bets, nil
}

func (r *RepositoryImpl) ActiveBetsByMember(ctx context.Context, memberID string) ([]Bet, error) {
	var bets []Bet
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND active = ?", memberID, true).
		Order("game_type ASC, created_at ASC").
		Find(&bets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list member bets: %w", err)
	}
	return bets, nil
}

// LastActiveBetBefore returns the member's most recent active bet from a
// cycle strictly before the given window begin, or nil when none exists.
func (r *RepositoryImpl) LastActiveBetBefore(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, before time.Time) (*Bet, error) {
	var bet Bet
	err := r.injected(tx).WithContext(ctx).
		Where("member_id = ? AND game_type = ? AND cycle_begin < ? AND active = ?",
			memberID, gameType, before, true).
		Order("cycle_begin DESC").
		First(&bet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get previous bet: %w", err)
	}
	return &bet, nil
}

func (r *RepositoryImpl) ActiveBetTotalBefore(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, before time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.injected(tx).WithContext(ctx).
		Model(&Bet{}).
		Where("member_id = ? AND game_type = ? AND cycle_begin < ? AND active = ?",
			memberID, gameType, before, true).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum previous bets: %w", err)
	}
	return total, nil
}

func (r *RepositoryImpl) DeactivateBet(ctx context.Context, tx *gorm.DB, betID string) error {
	result := r.injected(tx).WithContext(ctx).
		Model(&Bet{}).
		Where("bet_id = ? AND active = ?", betID, true).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate bet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBetNotFound
	}
	return nil
}

func (r *RepositoryImpl) GetMonthly(ctx context.Context, tx *gorm.DB, memberID string, gameType GameType, year int, month int) (*MonthlyBet, error) {
	var monthly MonthlyBet
	err := r.injected(tx).WithContext(ctx).
		Where("member_id = ? AND game_type = ? AND cycle_year = ? AND cycle_month = ?",
			memberID, gameType, year, month).
		First(&monthly).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMonthlyNotFound
		}
		return nil, fmt.Errorf("failed to get monthly aggregate: %w", err)
	}
	return &monthly, nil
}

func (r *RepositoryImpl) CreateMonthly(ctx context.Context, tx *gorm.DB, monthly *MonthlyBet) error {
	if err := r.injected(tx).WithContext(ctx).Create(monthly).Error; err != nil {
		return fmt.Errorf("failed to create monthly aggregate: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) SaveMonthly(ctx context.Context, tx *gorm.DB, monthly *MonthlyBet) error {
	result := r.injected(tx).WithContext(ctx).
		Model(&MonthlyBet{}).
		Where("monthly_bet_id = ?", monthly.MonthlyBetID).
		Updates(map[string]interface{}{
			"cycle_begin":        monthly.CycleBegin,
			"cycle_end":          monthly.CycleEnd,
			"total_bet":          monthly.TotalBet,
			"level_id":           monthly.LevelID,
			"accumulated_bonus":  monthly.AccumulatedBonus,
			"total_weekly_bonus": monthly.TotalWeeklyBonus,
			"month_bonus":        monthly.MonthBonus,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save monthly aggregate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMonthlyNotFound
	}
	return nil
}

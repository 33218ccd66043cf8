package promotion

import (
	"time"

	"github.com/shopspring/decimal"
)

// GameType is a closed set; bet level tables are configured per game type.
type GameType int

const (
	GameTypeElectronics GameType = 0
	GameTypeLive        GameType = 1
)

func (g GameType) Valid() bool {
	return g == GameTypeElectronics || g == GameTypeLive
}

// BetLevel is immutable reference data. Thresholds are strictly increasing
// within a game type; the current tier for a cumulative total is the highest
// threshold <= total.
type BetLevel struct {
	LevelID      uint            `gorm:"column:level_id;primaryKey;autoIncrement"`
	GameType     GameType        `gorm:"column:game_type;not null;index:idx_level_game_threshold,unique"`
	TotalBet     decimal.Decimal `gorm:"column:total_bet;type:numeric(20,2);not null;index:idx_level_game_threshold,unique"`
	Bonus        decimal.Decimal `gorm:"column:bonus;type:numeric(20,2);not null;default:0"`
	WeeklyBonus  decimal.Decimal `gorm:"column:weekly_bonus;type:numeric(20,2);not null;default:0"`
	MonthlyBonus decimal.Decimal `gorm:"column:monthly_bonus;type:numeric(20,2);not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null;default:now()"`
}

// Summary is the per-member, per-game-type accrual state. Version guards
// the read-modify-write cycle against lost updates from concurrent batches.
type Summary struct {
	SummaryID            uint            `gorm:"column:summary_id;primaryKey;autoIncrement"`
	MemberID             string          `gorm:"column:member_id;type:uuid;not null;index:idx_summary_member_game,unique"`
	GameType             GameType        `gorm:"column:game_type;not null;index:idx_summary_member_game,unique"`
	TotalBet             decimal.Decimal `gorm:"column:total_bet;type:numeric(20,2);not null;default:0"`
	TotalBonus           decimal.Decimal `gorm:"column:total_bonus;type:numeric(20,2);not null;default:0"`
	CurrentWeekBonus     decimal.Decimal `gorm:"column:current_week_bonus;type:numeric(20,2);not null;default:0"`
	CurrentLevelID       *uint           `gorm:"column:current_level_id"`
	PreviousWeekLevelID  *uint           `gorm:"column:previous_week_level_id"`
	PreviousMonthLevelID *uint           `gorm:"column:previous_month_level_id"`
	Version              int             `gorm:"column:version;not null;default:1"`
	CreatedBy            string          `gorm:"column:created_by;type:varchar(255)"`
	UpdatedBy            string          `gorm:"column:updated_by;type:varchar(255)"`
	CreatedAt            time.Time       `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

// Bet is one imported deposit, tagged with the ISO week it landed in.
// Once Active is false the row is terminal and never reactivated.
type Bet struct {
	BetID      string          `gorm:"column:bet_id;primaryKey;type:uuid"`
	MemberID   string          `gorm:"column:member_id;type:uuid;not null;index"`
	Username   string          `gorm:"column:username;type:varchar(255);not null"`
	GameType   GameType        `gorm:"column:game_type;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	CycleBegin time.Time       `gorm:"column:cycle_begin;not null;index"`
	CycleEnd   time.Time       `gorm:"column:cycle_end;not null"`
	LevelID    *uint           `gorm:"column:level_id"`
	Active     bool            `gorm:"column:active;not null;default:true"`
	BatchID    string          `gorm:"column:batch_id;type:uuid;not null;index"`
	CreatedBy  string          `gorm:"column:created_by;type:varchar(255)"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

// MonthlyBet aggregates a member's bets per game type and calendar month.
type MonthlyBet struct {
	MonthlyBetID     uint            `gorm:"column:monthly_bet_id;primaryKey;autoIncrement"`
	MemberID         string          `gorm:"column:member_id;type:uuid;not null;index:idx_monthly_member_game_cycle,unique"`
	GameType         GameType        `gorm:"column:game_type;not null;index:idx_monthly_member_game_cycle,unique"`
	CycleYear        int             `gorm:"column:cycle_year;not null;index:idx_monthly_member_game_cycle,unique"`
	CycleMonth       int             `gorm:"column:cycle_month;not null;index:idx_monthly_member_game_cycle,unique"`
	CycleBegin       time.Time       `gorm:"column:cycle_begin"`
	CycleEnd         time.Time       `gorm:"column:cycle_end"`
	TotalBet         decimal.Decimal `gorm:"column:total_bet;type:numeric(20,2);not null;default:0"`
	LevelID          *uint           `gorm:"column:level_id"`
	AccumulatedBonus decimal.Decimal `gorm:"column:accumulated_bonus;type:numeric(20,2);not null;default:0"`
	TotalWeeklyBonus decimal.Decimal `gorm:"column:total_weekly_bonus;type:numeric(20,2);not null;default:0"`
	MonthBonus       decimal.Decimal `gorm:"column:month_bonus;type:numeric(20,2);not null;default:0"`
	CreatedAt        time.Time       `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;not null;default:now()"`
}

const (
	BatchStatusOngoing   = "ongoing"
	BatchStatusCompleted = "completed"
	BatchStatusCanceled  = "canceled"
	BatchStatusDeleted   = "deleted"
)

// ImportBatch tracks one ingestion operation. Completed, canceled and
// deleted are terminal.
type ImportBatch struct {
	BatchID   string    `gorm:"column:batch_id;primaryKey;type:uuid"`
	Status    string    `gorm:"column:status;type:varchar(20);not null;default:'ongoing'"`
	Filename  string    `gorm:"column:filename;type:varchar(255)"`
	Memo      string    `gorm:"column:memo;type:text"`
	CreatedBy string    `gorm:"column:created_by;type:varchar(255)"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

func (b *ImportBatch) Terminal() bool {
	return b.Status != BatchStatusOngoing
}

// ImportRecord is one raw row of an import payload.
type ImportRecord struct {
	Username string          `json:"username"`
	Amount   decimal.Decimal `json:"amount"`
}

// SummaryView is the read-only projection served to downstream consumers.
type SummaryView struct {
	Username         string          `json:"username"`
	GameType         GameType        `json:"game_type"`
	TotalBet         decimal.Decimal `json:"total_bet"`
	TotalBonus       decimal.Decimal `json:"total_bonus"`
	CurrentWeekBonus decimal.Decimal `json:"current_week_bonus"`
	CurrentLevel     *BetLevel       `json:"current_level,omitempty"`
}

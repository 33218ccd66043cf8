package queue

import (
	"encoding/json"
	"fmt"

	"promo_service/internal/promotion"
)

const (
	JobImportBets  = "promotion_bet_import"
	JobRollover    = "promotion_rollover"
	JobRecompute   = "compute_total_bonus"
	JobRevertBets  = "revert_bets"
	JobDeleteBatch = "delete_request"
	JobCancelBatch = "promotion_cancel_request"
)

// Job is the envelope every queued task travels in.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ImportBetsPayload struct {
	BatchID  string                   `json:"batch_id"`
	GameType promotion.GameType       `json:"game_type"`
	ActorID  string                   `json:"actor_id"`
	Records  []promotion.ImportRecord `json:"records"`
}

type RevertBetsPayload struct {
	BetIDs  []string `json:"bet_ids"`
	ActorID string   `json:"actor_id"`
}

type BatchPayload struct {
	BatchID string `json:"batch_id"`
	ActorID string `json:"actor_id"`
}

func NewJob(jobType string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}
	return &Job{Type: jobType, Payload: raw}, nil
}

package member

import "time"

type Member struct {
	MemberID  string    `gorm:"column:member_id;primaryKey;type:uuid;default:uuid_generate_v4()"`
	Username  string    `gorm:"column:username;type:varchar(255);not null;unique"`
	CreatedBy string    `gorm:"column:created_by;type:varchar(255)"`
	UpdatedBy string    `gorm:"column:updated_by;type:varchar(255)"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

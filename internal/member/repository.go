package member

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrMemberNotFound = errors.New("member not found")

// Directory is the narrow contract the promotion engine has with the
// account subsystem: resolve-or-create by username.
type Directory interface {
	GetByUsername(ctx context.Context, username string) (*Member, error)
	GetOrCreate(ctx context.Context, tx *gorm.DB, username string, actorID string) (*Member, bool, error)
}

type DirectoryImpl struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *DirectoryImpl {
	return &DirectoryImpl{db: db}
}

func (d *DirectoryImpl) GetByUsername(ctx context.Context, username string) (*Member, error) {
	var m Member
	err := d.db.WithContext(ctx).Where("username = ?", username).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

func (d *DirectoryImpl) GetOrCreate(ctx context.Context, tx *gorm.DB, username string, actorID string) (*Member, bool, error) {
	if tx == nil {
		tx = d.db
	}

	var m Member
	err := tx.WithContext(ctx).Where("username = ?", username).First(&m).Error
	if err == nil {
		if updateErr := tx.WithContext(ctx).Model(&Member{}).
			Where("member_id = ?", m.MemberID).
			Update("updated_by", actorID).Error; updateErr != nil {
			return nil, false, fmt.Errorf("failed to touch member: %w", updateErr)
		}
		return &m, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up member: %w", err)
	}

	m = Member{
		MemberID:  uuid.New().String(),
		Username:  username,
		CreatedBy: actorID,
	}
	if err := tx.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create member: %w", err)
	}
	return &m, true, nil
}

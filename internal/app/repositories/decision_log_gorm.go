package repositories

import (
	"context"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type decisionLogModel struct {
	CommunityID   string    `gorm:"column:community_id;primaryKey"`
	DecisionKey   string    `gorm:"column:decision_key;primaryKey"`
	Kind          string    `gorm:"column:kind;not null"`
	RecordID      string    `gorm:"column:record_id;not null"`
	Outcome       string    `gorm:"column:outcome;not null"`
	WinningChoice string    `gorm:"column:winning_choice"`
	Subject       string    `gorm:"column:subject"`
	EffectError   string    `gorm:"column:effect_error"`
	FinalizedAt   time.Time `gorm:"column:finalized_at;index"`
}

func (decisionLogModel) TableName() string { return "decision_log" }

type gormDecisionLog struct {
	db *gorm.DB
}

// NewGormDecisionLog migrates and returns the postgres-backed ledger.
func NewGormDecisionLog(db *gorm.DB) (DecisionLog, error) {
	if err := db.AutoMigrate(&decisionLogModel{}); err != nil {
		return nil, err
	}
	return &gormDecisionLog{db: db}, nil
}

func (l *gormDecisionLog) Append(ctx context.Context, evt community.DecisionEvent) error {
	row := decisionLogModel{
		CommunityID:   evt.CommunityID,
		DecisionKey:   evt.DecisionKey,
		Kind:          string(evt.Kind),
		RecordID:      evt.RecordID,
		Outcome:       string(evt.Outcome),
		WinningChoice: string(evt.WinningChoice),
		Subject:       evt.Subject,
		EffectError:   evt.EffectError,
		FinalizedAt:   evt.Timestamp.UTC(),
	}
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (l *gormDecisionLog) List(ctx context.Context, communityID string, limit int) ([]community.DecisionEvent, error) {
	var rows []decisionLogModel
	q := l.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("finalized_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]community.DecisionEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, community.DecisionEvent{
			Timestamp:     row.FinalizedAt,
			CommunityID:   row.CommunityID,
			DecisionKey:   row.DecisionKey,
			Kind:          decision.Kind(row.Kind),
			RecordID:      row.RecordID,
			Outcome:       decision.Outcome(row.Outcome),
			WinningChoice: decision.Choice(row.WinningChoice),
			Subject:       row.Subject,
			EffectError:   row.EffectError,
		})
	}
	return out, nil
}

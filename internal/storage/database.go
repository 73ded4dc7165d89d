package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/callpilot-ai/callpilot-backend/internal/models"
)

// DatabaseStore persists everything through GORM/PostgreSQL
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a new database-backed store
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Call operations

func (d *DatabaseStore) CreateCall(call *models.CallSession) (*models.CallSession, error) {
	if call.CallID == "" {
		return nil, fmt.Errorf("call id required")
	}
	if err := d.db.Create(call).Error; err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}
	return call, nil
}

func (d *DatabaseStore) GetCall(callID string) (*models.CallSession, error) {
	var call models.CallSession
	err := d.db.Where("call_id = ?", callID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("call not found")
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (d *DatabaseStore) GetCallByLegID(legID string) (*models.CallSession, error) {
	var call models.CallSession
	err := d.db.Where("leg_id = ?", legID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("call not found")
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (d *DatabaseStore) UpdateCall(call *models.CallSession) error {
	return d.db.Save(call).Error
}

// CompareAndSetStatus runs the guard and the write in a single UPDATE so
// duplicate or out-of-order callbacks cannot race each other.
func (d *DatabaseStore) CompareAndSetStatus(callID, to string, allowedFrom []string) (bool, error) {
	res := d.db.Model(&models.CallSession{}).
		Where("call_id = ? AND status IN ?", callID, allowedFrom).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (d *DatabaseStore) GetActiveCallsOlderThan(age time.Duration) ([]*models.CallSession, error) {
	cutoff := time.Now().Add(-age)
	var calls []*models.CallSession
	err := d.db.
		Where("status IN ? AND created_at < ?", models.ActiveStatuses, cutoff).
		Find(&calls).Error
	return calls, err
}

// Transcript operations

func (d *DatabaseStore) AppendTranscript(entry *models.TranscriptEntry) error {
	return d.db.Create(entry).Error
}

func (d *DatabaseStore) GetTranscript(callID string) ([]*models.TranscriptEntry, error) {
	var entries []*models.TranscriptEntry
	err := d.db.Where("call_id = ?", callID).Order("id asc").Find(&entries).Error
	return entries, err
}

func (d *DatabaseStore) AppendConversationItem(entry *models.ConversationLogEntry) error {
	// ON CONFLICT DO NOTHING keeps duplicate engine deliveries harmless
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}, {Name: "item_id"}},
		DoNothing: true,
	}).Create(entry).Error
}

func (d *DatabaseStore) GetConversationLog(callID string) ([]*models.ConversationLogEntry, error) {
	var entries []*models.ConversationLogEntry
	err := d.db.Where("call_id = ?", callID).Order("id asc").Find(&entries).Error
	return entries, err
}

// Handoff operations

func (d *DatabaseStore) CreateHandoff(rec *models.HandoffRecord) (*models.HandoffRecord, error) {
	if err := d.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create handoff record: %w", err)
	}
	return rec, nil
}

func (d *DatabaseStore) GetActiveHandoff(callID string) (*models.HandoffRecord, error) {
	var rec models.HandoffRecord
	err := d.db.
		Where("call_id = ? AND status IN ?", callID,
			[]string{models.StatusTransferring, models.StatusHumanConnected}).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("handoff not found")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *DatabaseStore) GetHandoffByOperatorLeg(legID string) (*models.HandoffRecord, error) {
	var rec models.HandoffRecord
	err := d.db.Where("operator_leg_id = ?", legID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("handoff not found")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *DatabaseStore) UpdateHandoff(rec *models.HandoffRecord) error {
	return d.db.Save(rec).Error
}

func (d *DatabaseStore) DeleteActiveHandoff(callID string) error {
	return d.db.
		Where("call_id = ? AND status IN ?", callID,
			[]string{models.StatusTransferring, models.StatusHumanConnected}).
		Delete(&models.HandoffRecord{}).Error
}

// Operator operations

func (d *DatabaseStore) CreateOperator(op *models.Operator) (*models.Operator, error) {
	if err := d.db.Create(op).Error; err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}
	return op, nil
}

func (d *DatabaseStore) GetOperator(operatorID string) (*models.Operator, error) {
	var op models.Operator
	err := d.db.Where("operator_id = ?", operatorID).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("operator not found")
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (d *DatabaseStore) GetAvailableOperator(department string) (*models.Operator, error) {
	var op models.Operator
	q := d.db.Where("available = ?", true)
	if department != "" {
		q = q.Where("department = ?", department)
	}
	err := q.Order("last_call_at asc nulls first").First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no operator available")
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (d *DatabaseStore) UpdateOperator(op *models.Operator) error {
	return d.db.Save(op).Error
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Operator is a human agent that calls can be handed off to
type Operator struct {
	gorm.Model
	OperatorID  string     `json:"operator_id" gorm:"uniqueIndex"`
	Name        string     `json:"name"`
	PhoneNumber string     `json:"phone_number"`
	Department  string     `json:"department"`
	Available   bool       `json:"available"`
	LastCallAt  *time.Time `json:"last_call_at"`
}

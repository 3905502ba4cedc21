package amqp

import (
	"encoding/json"
	"time"
)

// Ledger event operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// LedgerEventMessage describes one applied balance mutation. It carries only
// identifiers and the signed delta; consumers fetch anything else they need
// from the database.
type LedgerEventMessage struct {
	Op            string    `json:"op"`
	TransactionID int64     `json:"transaction_id"`
	AccountID     int64     `json:"account_id"`
	DeltaCents    int64     `json:"delta_cents"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerEventMessage(op string, transactionID, accountID, deltaCents int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		Op:            op,
		TransactionID: transactionID,
		AccountID:     accountID,
		DeltaCents:    deltaCents,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON creates a message from JSON bytes.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

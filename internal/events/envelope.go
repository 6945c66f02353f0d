// Package events defines the settlement engine's outbound event
// schema and a buffered, concurrency-limited outbox publisher.
// Real transport (Kafka, NATS, etc.) is an external collaborator per
// the system's scope; this package only defines the envelope, the
// typed payloads, and the buffering contract.
package events

import "time"

// Type identifies the shape of an event's Payload.
type Type string

const (
	TransactionSettled  Type = "TransactionSettled"
	TransactionReversed Type = "TransactionReversed"
	BatchCreated        Type = "BatchCreated"
	BatchCompleted      Type = "BatchCompleted"
	PositionCalculated  Type = "PositionCalculated"
	NettingCompleted    Type = "NettingCompleted"
	SettlementCompleted Type = "SettlementCompleted"
)

// Envelope wraps every emitted event in a common header.
type Envelope struct {
	EventID       string      `json:"eventId"`
	EventType     Type        `json:"eventType"`
	Timestamp     time.Time   `json:"timestamp"`
	Source        string      `json:"source"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Payload       interface{} `json:"payload"`
}

// TransactionSettledPayload is the payload for TransactionSettled.
type TransactionSettledPayload struct {
	TransactionID string `json:"txId"`
	ExternalID    string `json:"externalId"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Source        string `json:"src"`
	Destination   string `json:"dst"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Fee           string `json:"fee"`
	Net           string `json:"net"`
	BatchID       string `json:"batchId,omitempty"`
}

// TransactionReversedPayload is the payload for TransactionReversed.
type TransactionReversedPayload struct {
	TransactionID         string `json:"txId"`
	OriginalTransactionID string `json:"originalTxId"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
}

// BatchPayload is the payload for BatchCreated/BatchCompleted.
type BatchPayload struct {
	BatchID           string     `json:"batchId"`
	Status            string     `json:"status"`
	SettlementDate    string     `json:"settlementDate"`
	Currency          string     `json:"currency"`
	TransactionCount  int        `json:"transactionCount"`
	GrossAmount       string     `json:"gross"`
	NetAmount         string     `json:"net"`
	FeeAmount         string     `json:"fee"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// PositionCalculatedPayload is the payload for PositionCalculated.
type PositionCalculatedPayload struct {
	BatchID          string `json:"batchId"`
	ParticipantID    string `json:"participantId"`
	Currency         string `json:"currency"`
	GrossReceivable  string `json:"grossReceivable"`
	GrossPayable     string `json:"grossPayable"`
	NetPosition      string `json:"netPosition"`
	TransactionCount int    `json:"transactionCount"`
}

// NettingCompletedPayload is the payload for NettingCompleted.
type NettingCompletedPayload struct {
	BatchID           string `json:"batchId"`
	Currency          string `json:"currency"`
	ParticipantCount  int    `json:"participantCount"`
	GrossVolume       string `json:"grossVolume"`
	NetVolume         string `json:"netVolume"`
	ReductionAmount   string `json:"reductionAmount"`
	InstructionCount  int    `json:"instructionCount"`
}

// SettlementCompletedPayload is the payload for SettlementCompleted.
type SettlementCompletedPayload struct {
	BatchID           string `json:"batchId"`
	Currency          string `json:"currency"`
	SettlementDate    string `json:"settlementDate"`
	GrossAmount       string `json:"gross"`
	NetAmount         string `json:"net"`
	NettingEfficiency string `json:"nettingEfficiency"`
	ProcessingTimeMs  int64  `json:"processingTimeMs"`
}

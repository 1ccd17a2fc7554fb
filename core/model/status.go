package model

// Status is the lifecycle state of a planboard document.
type Status string

const (
	StatusNew                Status = "NEW"
	StatusSent               Status = "SENT"
	StatusReceived           Status = "RECEIVED"
	StatusAccepted           Status = "ACCEPTED"
	StatusRejected           Status = "REJECTED"
	StatusDisputed           Status = "DISPUTED"
	StatusProcessed          Status = "PROCESSED"
	StatusArchived           Status = "ARCHIVED"
	StatusToBeRecreated      Status = "TO_BE_RECREATED"
	StatusReceivedOffer      Status = "RECEIVED_OFFER"
	StatusReceivedEmptyOffer Status = "RECEIVED_EMPTY_OFFER"
	StatusExpired            Status = "EXPIRED"
)

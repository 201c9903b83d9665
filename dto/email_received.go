package dto

import "time"

// EmailReceived is published for every newly discovered message. The
// consumer side deduplicates on (UserID, Folder, UID, UIDValidity).
type EmailReceived struct {
	UserID       string    `json:"userId"`
	EmailAddress string    `json:"emailAddress"`
	Folder       string    `json:"folder"`
	UID          uint32    `json:"uid"`
	UIDValidity  string    `json:"uidValidity"`
	MessageID    string    `json:"messageId"`
	Subject      string    `json:"subject"`
	From         string    `json:"from"`
	To           []string  `json:"to"`
	InternalDate time.Time `json:"internalDate"`
	PlainBody    string    `json:"plainBody"`
	HTMLBody     string    `json:"htmlBody"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

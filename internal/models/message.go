package models

import "time"

// RawMessage is a message fetched by UID, before MIME parsing.
type RawMessage struct {
	UID          uint32
	Folder       string
	InternalDate time.Time
	Subject      string
	MessageID    string
	Raw          []byte
}

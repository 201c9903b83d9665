package utils

import "time"

// ImapDateFormat is the day-granular date layout IMAP SEARCH expects
// (RFC 3501, e.g. "07-Nov-2024").
const ImapDateFormat = "02-Jan-2006"

func Now() time.Time {
	return time.Now().UTC()
}

func NowPtr() *time.Time {
	now := Now()
	return &now
}

package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

// User is one synchronized account. LastUID and LastUIDValidity form the
// sync cursor: LastUID is only meaningful for the UID space identified by
// LastUIDValidity and is nulled whenever the server rotates it.
type User struct {
	ID           string             `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	EmailAddress string             `gorm:"column:email_address;type:varchar(255);index;not null" json:"emailAddress"`
	Provider     enum.EmailProvider `gorm:"column:provider;type:varchar(50);index;not null" json:"provider"`
	// IMAP Configuration
	ImapServer   string             `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapUsername string             `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapPassword string             `gorm:"column:imap_password;type:varchar(255)" json:"-"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(20);not null;default:'tls'" json:"imapSecurity"`
	// OAuth providers authenticate with XOAUTH2 instead of a password
	OAuthAccessToken string `gorm:"column:oauth_access_token;type:text" json:"-"`
	// Folder preference override; empty means the default preference list
	Folders pq.StringArray `gorm:"column:folders;type:text[]" json:"folders"`
	// Sync cursor
	LastUID         *uint32    `gorm:"column:last_uid" json:"lastUid"`
	LastUIDValidity *string    `gorm:"column:last_uid_validity;type:varchar(50)" json:"lastUidValidity"`
	LastEmailAt     *time.Time `gorm:"column:last_email_at;type:timestamp" json:"lastEmailAt"`
	LastLoginAt     time.Time  `gorm:"column:last_login_at;type:timestamp" json:"lastLoginAt"`
	// Status Information
	ConnectionStatus enum.ConnectionStatus `gorm:"column:connection_status;type:varchar(50)" json:"connectionStatus"`
	ErrorMessage     string                `gorm:"column:error_message;type:text" json:"errorMessage"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName sets the table name
func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = utils.GenerateNanoIDWithPrefix("user", 16)
	}
	return nil
}

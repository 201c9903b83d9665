package repository

import (
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
)

type Repositories struct {
	UserRepository interfaces.UserRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		UserRepository: NewUserRepository(db),
	}
}

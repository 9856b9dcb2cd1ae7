package entity

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	// WrappedMasterKey is the per-user data key sealed under the server KEK.
	// It only changes on explicit rotation.
	WrappedMasterKey []byte
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

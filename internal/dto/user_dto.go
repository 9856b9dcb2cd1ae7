package dto

import (
	"time"

	"github.com/google/uuid"
)

type UserResponse struct {
	Id        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Records   int64     `json:"records"`
	CreatedAt time.Time `json:"created_at"`
}

// DeleteAccountRequest asks for the password again before everything the
// user owns is removed.
type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

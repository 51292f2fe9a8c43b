// Package domain contains the relay's entities: plain data plus
// validation, no behavior.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrUnknownUser        = errors.New("unknown user")
)

type UserID string

// User is the directory's view of an identity: the stable id behind the
// client token plus the name contacts see on status and call events.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}

func NewUser(displayName string) (*User, error) {
	if err := validDisplayName(displayName); err != nil {
		return nil, err
	}
	return &User{ID: UserID(uuid.NewString()), DisplayName: displayName}, nil
}

func (u *User) SetDisplayName(displayName string) error {
	if err := validDisplayName(displayName); err != nil {
		return err
	}
	u.DisplayName = displayName
	return nil
}

func validDisplayName(displayName string) error {
	if len(displayName) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

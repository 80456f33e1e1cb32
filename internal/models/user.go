package models

import "time"

// User is the identity collaborator's surface as this service sees it: an id
// and an optional Google refresh credential. Registration and login live in
// the identity service.
type User struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Email string `gorm:"uniqueIndex;not null" json:"email"`

	GoogleRefreshToken *string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLinked reports whether the user has connected a Google account.
func (u *User) IsLinked() bool {
	return u.GoogleRefreshToken != nil && *u.GoogleRefreshToken != ""
}

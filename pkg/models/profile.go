package models

import "time"

// Role is a platform user role
type Role string

const (
	RoleUser      Role = "user"
	RoleAuthor    Role = "author"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	// RoleNone is returned when the caller has no profile
	RoleNone Role = ""
)

// Profile links an authenticated identity to its platform role
type Profile struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Username  *string   `db:"username" json:"username,omitempty"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Profile) TableName() string {
	return "profiles"
}

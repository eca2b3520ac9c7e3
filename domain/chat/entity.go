package chat

import "time"

// IdleActivity is the activity reported for a user who is connected but not playing anything.
const IdleActivity = "Idle"

// Message represents a persisted chat message between two users.
type Message struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	SenderID   string    `gorm:"size:36;not null;index:idx_messages_pair,priority:1" json:"senderId"`
	ReceiverID string    `gorm:"size:36;not null;index:idx_messages_pair,priority:2;index" json:"receiverId"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName returns the table name for the Message entity.
func (Message) TableName() string {
	return "messages"
}

// User represents a registered listener.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:50" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the table name for the User entity.
func (User) TableName() string {
	return "users"
}

// Identity is the verified owner of a session credential.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

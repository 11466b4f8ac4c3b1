package model

import "time"

type Notification struct {
	ID        string    `json:"id" bson:"_id,omitempty"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Title     string    `json:"title" bson:"title"`
	Message   string    `json:"message" bson:"message"`
	Type      string    `json:"type" bson:"type"`
	Link      string    `json:"link,omitempty" bson:"link,omitempty"`
	Read      bool      `json:"read" bson:"read"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// PushToken maps a device identity to a delivery token. The (user, token)
// pair is unique; expiry is the push provider's problem, not ours.
type PushToken struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	Token     string    `json:"token" bson:"token"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

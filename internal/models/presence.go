package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceUser is ephemeral and never written to durable storage. It exists only
// while the owning client holds a live presence subscription.
type PresenceUser struct {
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
	Color    string    `json:"color"`
	OnlineAt time.Time `json:"online_at"`
}

// presencePalette is the fixed set of cursor colors. Assignment must be a pure
// function of the user id so every client renders the same user in the same
// color without coordination.
var presencePalette = []string{
	"#E53E3E", // red
	"#DD6B20", // orange
	"#D69E2E", // yellow
	"#38A169", // green
	"#319795", // teal
	"#3182CE", // blue
	"#805AD5", // purple
	"#D53F8C", // pink
}

// ColorFor derives a stable color for a user: sum of the character codes of the
// id string, modulo the palette size.
func ColorFor(userID uuid.UUID) string {
	sum := 0
	for _, c := range userID.String() {
		sum += int(c)
	}
	return presencePalette[sum%len(presencePalette)]
}

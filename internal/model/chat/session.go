package chat

import "time"

// Session describes a live, ephemeral conversation. Nothing survives the
// connection that created it.
type Session struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"personaId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Package types holds the JSON bodies exchanged with HTTP clients.
package types

// CreateRoomRequest opens a room and seats PlayerID. Tier picks a configured
// stake by name; Stake overrides it.
type CreateRoomRequest struct {
	PlayerID         string `json:"playerId"`
	Name             string `json:"name,omitempty"`
	Tier             string `json:"tier,omitempty"`
	Stake            int64  `json:"stake,omitempty"`
	MinPlayers       int    `json:"minPlayers,omitempty"`
	MaxPlayers       int    `json:"maxPlayers,omitempty"`
	AllowTransfer    *bool  `json:"allowTransfer,omitempty"`
	ForfeitOnAbandon *bool  `json:"forfeitOnAbandon,omitempty"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// PlayerRequest is the body of join, start and leave.
type PlayerRequest struct {
	PlayerID string `json:"playerId"`
	Stake    int64  `json:"stake,omitempty"`
}

// MoveIntent is a player's move. Card uses the short form ("10S", "AH").
// Target is the table index a defense answers.
type MoveIntent struct {
	RoomID   string `json:"roomId,omitempty"`
	PlayerID string `json:"playerId"`
	Kind     string `json:"kind"`
	Card     string `json:"card,omitempty"`
	Target   *int   `json:"target,omitempty"`
}

type ChatRequest struct {
	PlayerID string `json:"playerId"`
	Text     string `json:"text"`
}

type AccountResponse struct {
	Account   string `json:"account"`
	Balance   int64  `json:"balance"`
	Formatted string `json:"formatted"`
	Created   bool   `json:"created,omitempty"`
}

type PurchaseRequest struct {
	PlayerID string `json:"playerId"`
	ItemID   string `json:"itemId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

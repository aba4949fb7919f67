package dto

// BlacklistResponse reports a user's blacklist state after a change.
type BlacklistResponse struct {
	UserID      string `json:"user_id"`
	Blacklisted bool   `json:"blacklisted"`
}

// UserHistoryResponse lists a user's closed tickets.
type UserHistoryResponse struct {
	UserID      string                 `json:"user_id"`
	Blacklisted bool                   `json:"blacklisted"`
	Active      []TicketSummary        `json:"active"`
	Closed      []ClosedTicketResponse `json:"closed"`
}

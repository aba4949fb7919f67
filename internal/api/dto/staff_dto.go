package dto

import "time"

// StaffLoginRequest payload.
type StaffLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StaffResponse describes the authenticated staff member.
type StaffResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// internal/domain/auth/dto.go
package auth

import "time"

// SessionCredential is the access/refresh pair handed to a client.
type SessionCredential struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ActionTokenRequest struct {
	Purpose   string `json:"purpose" binding:"required"`
	StationID string `json:"station_id"`
}

type ActionTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ScanRequest struct {
	Token     string `json:"token" binding:"required"`
	Purpose   string `json:"purpose"`
	StationID string `json:"station_id"`
}

type ScanResponse struct {
	PrincipalID int64     `json:"principal_id"`
	Purpose     string    `json:"purpose"`
	StationID   string    `json:"station_id,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

package store

import "time"

// Language is one row of the installed-language ledger.
type Language struct {
	Name        string    `json:"name"`
	InstalledAt time.Time `json:"installed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Scopes overrides the built-in scope list when non-empty.
	Scopes []string `json:"scopes,omitempty"`
}

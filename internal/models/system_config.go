package models

// Default values served when the singleton config row has not been written.
const (
	DefaultSignupTokens  = 0
	DefaultMaxTextLength = 1000000
)

// SystemConfig is the global, admin-editable configuration. Singleton row;
// read fresh on every submission so limit changes apply immediately.
type SystemConfig struct {
	DefaultTokens int `json:"defaultTokens"`
	MaxTextLength int `json:"maxTextLength"`
}

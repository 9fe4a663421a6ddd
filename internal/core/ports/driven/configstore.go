package driven

// ConfigStore provides access to persisted configuration values.
type ConfigStore interface {
	// Get retrieves a raw value by key.
	Get(key string) (any, bool)

	// GetString retrieves a string value, or "" if unset.
	GetString(key string) string

	// GetInt retrieves an integer value, or 0 if unset.
	GetInt(key string) int

	// GetFloat retrieves a float value, or 0 if unset.
	GetFloat(key string) float64

	// GetBool retrieves a boolean value, or false if unset.
	GetBool(key string) bool

	// GetStringSlice retrieves a string slice value, or nil if unset.
	GetStringSlice(key string) []string

	// GetIntMap retrieves a table of integer values, or nil if unset.
	GetIntMap(key string) map[string]int

	// Set stores a value and persists it.
	Set(key string, value any) error
}

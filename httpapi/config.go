package httpapi

// DefaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is unset.
const DefaultMaxBodyBytes int64 = 8 << 20

// Config defines HTTP shell settings.
type Config struct {
	Addr     string
	BasePath string
	// HubHistory bounds how many stream events are kept for replay.
	HubHistory int
	// MaxBodyBytes bounds JSON request bodies; larger bodies get 413.
	MaxBodyBytes int64
}

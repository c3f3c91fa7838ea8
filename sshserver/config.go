package sshserver

// Config defines SSH shell settings.
type Config struct {
	Addr        string
	HostKeyPath string

	// AuthorizedKeysPath lists the public keys allowed to log in. Empty
	// disables authentication.
	AuthorizedKeysPath string
	Prompt             string
}

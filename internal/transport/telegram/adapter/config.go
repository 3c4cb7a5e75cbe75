package adapter

import "time"

type Config struct {
	Token string
	// Offline skips the getMe handshake; used in tests and dry runs.
	Offline bool
	Timeout time.Duration
}

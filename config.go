package wsecho

import (
	"math"

	"golang.org/x/time/rate"
	"golang.org/x/xerrors"
)

// DefaultMaxPayload is the largest message the server accepts by default.
const DefaultMaxPayload = 1 << 20

// DefaultFarewellReason is the reason sent back when the client closes
// the connection with anything but StatusGoingAway.
const DefaultFarewellReason = "Sorry to see you go. Please open a new connection."

// Config is the policy shared by every connection.
// It must not be modified once it has been passed to Accept or Server.
type Config struct {
	// MaxPayload is the largest aggregate payload a single message,
	// summed over all of its frames, may have.
	// Larger messages close the connection with StatusMessageTooBig.
	MaxPayload uint64

	// AllowedOrigins lists the exact Origin header values that may
	// open a connection. Include "" to allow clients that send none.
	AllowedOrigins []string

	// FarewellReason is the reason sent in reply to a client close frame.
	FarewellReason string

	// EchoLimit and EchoBurst bound how fast a single connection has its
	// messages echoed. The zero EchoLimit is treated as rate.Inf.
	EchoLimit rate.Limit
	EchoBurst int
}

// DefaultConfig returns a Config allowing pages served from
// localhost:5500 and files opened directly in a browser.
func DefaultConfig() *Config {
	return &Config{
		MaxPayload: DefaultMaxPayload,
		AllowedOrigins: []string{
			"http://localhost:5500",
			"http://127.0.0.1:5500",
			"https://localhost:5500",
			"https://127.0.0.1:5500",
			// Sent by browsers for pages opened from the file system.
			"null",
		},
		FarewellReason: DefaultFarewellReason,
		EchoLimit:      rate.Inf,
	}
}

// Validate reports whether c can be used.
func (c *Config) Validate() error {
	if c.MaxPayload == 0 {
		return xerrors.New("max payload must be positive")
	}
	if c.MaxPayload > math.MaxInt32 {
		return xerrors.Errorf("max payload %v does not fit in memory on every platform", c.MaxPayload)
	}
	if c.EchoLimit < 0 {
		return xerrors.Errorf("echo limit %v cannot be negative", c.EchoLimit)
	}
	if c.EchoLimit != rate.Inf && c.EchoLimit != 0 && c.EchoBurst < 1 {
		return xerrors.Errorf("echo burst must be at least 1 with an echo limit of %v", c.EchoLimit)
	}
	return nil
}

func (c *Config) originAllowed(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (c *Config) newLimiter() *rate.Limiter {
	if c.EchoLimit == 0 || c.EchoLimit == rate.Inf {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(c.EchoLimit, c.EchoBurst)
}

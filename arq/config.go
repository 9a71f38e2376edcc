package arq

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_CHUNK_SIZE      = 4096
	DEFAULT_WINDOW_SIZE     = 5
	DEFAULT_TIMEOUT         = 2 * time.Second
	DEFAULT_CONTROL_TIMEOUT = 1 * time.Second
	DEFAULT_MAX_RETRIES     = 20
	DEFAULT_LINGER          = 3 * time.Second

	// MAX_WINDOW_SIZE keeps base+size far from wrapping the sequence space.
	MAX_WINDOW_SIZE = 1 << 16

	// MAX_DATAGRAM is the largest UDP payload over IPv4.
	MAX_DATAGRAM = 65507
)

// Config carries the protocol parameters for one sender or receiver.
type Config struct {
	ChunkSize      int           `desc:"max DATA payload in bytes"`
	WindowSize     int           `desc:"max DATA frames in flight"`
	Timeout        time.Duration `desc:"retransmission timeout for DATA frames"`
	ControlTimeout time.Duration `desc:"retransmission timeout for FILENAME and EOF"`
	MaxRetries     int           `desc:"retransmissions without progress before giving up, 0 retries forever"`
	MaxElapsed     time.Duration `desc:"wall clock ceiling for a whole transfer, 0 disables"`
	Linger         time.Duration `desc:"how long the receiver answers re-sent EOF after closing"`
	PinPeer        bool          `desc:"drop datagrams not from the session peer"`
	Logger         logrus.FieldLogger
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:      DEFAULT_CHUNK_SIZE,
		WindowSize:     DEFAULT_WINDOW_SIZE,
		Timeout:        DEFAULT_TIMEOUT,
		ControlTimeout: DEFAULT_CONTROL_TIMEOUT,
		MaxRetries:     DEFAULT_MAX_RETRIES,
		Linger:         DEFAULT_LINGER,
		PinPeer:        true,
		Logger:         logrus.StandardLogger(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.ChunkSize < 1 || c.ChunkSize > MAX_DATAGRAM-HeaderSize:
		return fmt.Errorf("%w: chunk size %d out of range 1..%d", errBadConfig, c.ChunkSize, MAX_DATAGRAM-HeaderSize)
	case c.WindowSize < 1 || c.WindowSize > MAX_WINDOW_SIZE:
		return fmt.Errorf("%w: window size %d out of range 1..%d", errBadConfig, c.WindowSize, MAX_WINDOW_SIZE)
	case c.Timeout <= 0 || c.ControlTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", errBadConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries %d", errBadConfig, c.MaxRetries)
	case c.MaxElapsed < 0 || c.Linger < 0:
		return fmt.Errorf("%w: negative duration", errBadConfig)
	}
	return nil
}

func (c Config) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

package telegram

import "time"

// ConnEventKind is a transport connection state change
type ConnEventKind int

const (
	// Opened means updates are being received
	Opened ConnEventKind = iota + 1
	// Closed means polling stopped, see Reconnectable
	Closed
	// QRChallenge is for transports that pair by scanning a code. Telegram
	// authenticates with a token and never emits it.
	QRChallenge
)

func (k ConnEventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case QRChallenge:
		return "qr_challenge"
	default:
		return "unknown"
	}
}

// ConnEvent reports a connection state change
type ConnEvent struct {
	Kind          ConnEventKind
	Reason        string
	Reconnectable bool
	// RetryIn is the backoff before the next attempt, set on reconnectable closes
	RetryIn time.Duration
	QR      string
}

// backoff doubles the delay up to max
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &backoff{initial: initial, max: max}
}

// Next returns the delay to wait before the next attempt
func (b *backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	return b.current
}

// Reset starts over from the initial delay
func (b *backoff) Reset() {
	b.current = 0
}

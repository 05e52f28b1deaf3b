package gateway

import "time"

// Backoff doubles from Base up to Max. It is not safe for concurrent use.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

func (b *Backoff) Next() time.Duration {
	d := b.Max
	// past 30 doublings any sane base has hit the cap; stop shifting before it overflows
	if b.attempt < 30 {
		if shifted := b.Base << b.attempt; shifted > 0 && shifted < b.Max {
			d = shifted
		}
	}
	b.attempt++
	return d
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

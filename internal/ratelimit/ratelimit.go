// Package ratelimit throttles data-channel streams with a token bucket.
package ratelimit

import (
	"io"
	"time"
)

// maxWait bounds a single sleep so a large request cannot stall a stream.
const maxWait = time.Second

// Limiter is a token bucket refilled at a fixed number of bytes per second.
// The bucket holds one second worth of tokens and starts full.
//
// A Limiter belongs to one stream and is not safe for concurrent use.
type Limiter struct {
	rate   float64
	burst  float64
	tokens float64
	last   time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a limiter for bytesPerSecond, or nil (no limit) when it is not positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:   rate,
		burst:  rate,
		tokens: rate,
		last:   time.Now(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Rate returns the configured bytes per second. A nil limiter reports 0.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}

func (l *Limiter) refill() {
	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now
}

// Wait blocks until n bytes may pass.
func (l *Limiter) Wait(n int) {
	if l == nil || n <= 0 {
		return
	}

	l.refill()
	need := float64(n)
	if l.tokens >= need {
		l.tokens -= need
		return
	}

	wait := time.Duration((need - l.tokens) / l.rate * float64(time.Second))
	if wait > maxWait {
		wait = maxWait
	}
	l.sleep(wait)

	l.refill()
	l.tokens -= need
	if l.tokens < 0 {
		l.tokens = 0
	}
}

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader limits reads from r. A nil limiter returns r unchanged.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	const chunk = 8 * 1024
	if len(p) > chunk {
		p = p[:chunk]
	}
	r.l.Wait(len(p))
	return r.r.Read(p)
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter limits writes to w. A nil limiter returns w unchanged.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	const chunk = 64 * 1024
	written := 0
	for written < len(p) {
		end := min(written+chunk, len(p))
		w.l.Wait(end - written)
		n, err := w.w.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

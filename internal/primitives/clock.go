// Package primitives collects the cryptographic and time primitives shared
// by the authorization server, the authorization engine, and the proxy:
// secure randomness, hashing, AES-GCM, RSA signing, and codecs. None of it
// is domain-specific; every subsystem takes these as constructor
// dependencies rather than reaching for package-level globals, so tests can
// substitute fakes.
package primitives

import "time"

// Clock abstracts wall-clock time so tests can control expiry decisions
// deterministically instead of racing against time.Now.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Useful in tests that need to
// assert exact expiry boundaries.
type FixedClock struct {
	T time.Time
}

func (f FixedClock) Now() time.Time { return f.T }

// OffsetClock wraps another Clock and adds a fixed offset, useful for
// simulating "time has passed" in tests without constructing a new clock.
type OffsetClock struct {
	Base   Clock
	Offset time.Duration
}

func (o OffsetClock) Now() time.Time { return o.Base.Now().Add(o.Offset) }

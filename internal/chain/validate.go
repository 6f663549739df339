package chain

import (
	"fmt"

	"github.com/untoldecay/trustchain/internal/clock"
	"github.com/untoldecay/trustchain/internal/event"
)

// TimestampValidator rejects events whose timestamp falls outside the
// chain's configured NTP tolerance window. It is wired into every
// chain regardless of IntegrityMode. An event carrying no timestamp at
// all (the dio batch-linter cover event) passes unchecked.
type TimestampValidator struct {
	Clock clock.Source
}

// Validate implements Validator.
func (v TimestampValidator) Validate(hdr event.Header) error {
	ts, ok := hdr.Meta.Timestamp()
	if !ok {
		return nil
	}
	if !clock.InTolerance(v.Clock, ts) {
		return fmt.Errorf("chain: event timestamp %d outside tolerance window", ts)
	}
	return nil
}

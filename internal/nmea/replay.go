package nmea

import (
	"context"
	"errors"

	"github.com/goblimey/outpost/internal/fix"
)

// ErrReplayExhausted is returned once a ReplaySource has yielded every
// fix it was seeded with.
var ErrReplayExhausted = errors.New("nmea: replay source exhausted")

// ReplaySource is a test and simulation double for Source: it yields a
// fixed slice of Fixes in order, then returns ErrReplayExhausted.
type ReplaySource struct {
	fixes []fix.Fix
	pos   int
}

// NewReplaySource returns a Source that yields fixes in order.
func NewReplaySource(fixes []fix.Fix) *ReplaySource {
	return &ReplaySource{fixes: fixes}
}

func (r *ReplaySource) Next(ctx context.Context) (fix.Fix, error) {
	if err := ctx.Err(); err != nil {
		return fix.Fix{}, err
	}
	if r.pos >= len(r.fixes) {
		return fix.Fix{}, ErrReplayExhausted
	}
	f := r.fixes[r.pos]
	r.pos++
	return f, nil
}

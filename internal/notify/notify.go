// Package notify fans committed marketplace events out to downstream sinks.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/leafsii/nft-marketplace/internal/marketplace"
)

// Multi delivers every event to each sink in order. A failing sink does not
// stop delivery to the rest; all errors are returned together.
type Multi []marketplace.Notifier

// NewMulti drops nil sinks.
func NewMulti(sinks ...marketplace.Notifier) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) Notify(ctx context.Context, evt marketplace.Event) error {
	var err error
	for i, sink := range m {
		if e := sink.Notify(ctx, evt); e != nil {
			err = multierr.Append(err, fmt.Errorf("sink %d: %w", i, e))
		}
	}
	return err
}

package persistence

import (
	"context"

	"SynthEngine/internal/event"
	"SynthEngine/internal/observability"
)

// FanOutAudit forwards committed audit records to the persistence worker
// and the outbound publisher. It is the sole sender on both output
// channels and closes them when it returns, so a shutdown can never race
// a send against a close. The persist send blocks, the worker drains its
// input until close; the publish send drops when full, the audit table is
// the durable copy.
//
// On cancellation the fan-out first hands off everything the engine
// already committed to the input channel, then closes the outputs, which
// is what tells the worker and publisher to finish.
func FanOutAudit(
	ctx context.Context,
	in <-chan event.Envelope,
	persistOut chan<- event.Envelope,
	publishOut chan<- event.Envelope,
	metrics *observability.Metrics,
) {
	defer close(publishOut)
	defer close(persistOut)

	forward := func(env event.Envelope) {
		persistOut <- env

		select {
		case publishOut <- env:
		default:
			if metrics != nil {
				metrics.AuditDropped.Inc()
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case env, ok := <-in:
					if !ok {
						return
					}
					forward(env)
				default:
					return
				}
			}

		case env, ok := <-in:
			if !ok {
				return
			}
			forward(env)
		}
	}
}

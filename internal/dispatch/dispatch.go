package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
)

// Relay abstracts the physical relay channel.
type Relay interface {
	On() error
	Off() error
}

// Dispatcher executes actuation requests after the verdict is final. It
// owns hardware timing: one request pulses the relay for the hold
// duration. The engine guarantees at most one request per suppression
// window, so repeated calls within a crossing never reach here.
type Dispatcher struct {
	relay Relay
	hold  time.Duration
	clock clock.Clock
	log   zerolog.Logger
}

func New(relay Relay, hold time.Duration, clk clock.Clock, log zerolog.Logger) *Dispatcher {
	if hold <= 0 {
		hold = 2 * time.Second
	}
	return &Dispatcher{relay: relay, hold: hold, clock: clk, log: log}
}

// Dispatch performs the requested action. Errors are reported to the
// caller for logging; by this point the decision record is already
// durable and is never rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, req gate.ActuationRequest) error {
	if req.Kind != gate.OpenGate {
		return fmt.Errorf("unknown actuation kind %q", req.Kind)
	}

	if err := d.relay.On(); err != nil {
		return fmt.Errorf("relay on: %w", err)
	}
	d.clock.Sleep(d.hold)
	if err := d.relay.Off(); err != nil {
		return fmt.Errorf("relay off: %w", err)
	}
	d.log.Info().Dur("hold", d.hold).Msg("relay pulsed to open the gate")
	return nil
}

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
)

type fakeRelay struct {
	ops    []string
	onErr  error
	offErr error
}

func (r *fakeRelay) On() error {
	r.ops = append(r.ops, "on")
	return r.onErr
}

func (r *fakeRelay) Off() error {
	r.ops = append(r.ops, "off")
	return r.offErr
}

func TestDispatchPulsesRelay(t *testing.T) {
	relay := &fakeRelay{}
	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	d := New(relay, 2*time.Second, clk, zerolog.Nop())

	err := d.Dispatch(context.Background(), gate.ActuationRequest{Kind: gate.OpenGate})
	require.NoError(t, err)
	assert.Equal(t, []string{"on", "off"}, relay.ops)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 2, 0, time.UTC), clk.Now())
}

func TestDispatchDefaultHold(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	d := New(&fakeRelay{}, 0, clk, zerolog.Nop())

	require.NoError(t, d.Dispatch(context.Background(), gate.ActuationRequest{Kind: gate.OpenGate}))
	assert.Equal(t, 2*time.Second, clk.Now().Sub(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))
}

func TestDispatchUnknownKind(t *testing.T) {
	relay := &fakeRelay{}
	d := New(relay, time.Second, clock.NewFake(time.Now()), zerolog.Nop())

	err := d.Dispatch(context.Background(), gate.ActuationRequest{Kind: "close_gate"})
	require.Error(t, err)
	assert.Empty(t, relay.ops)
}

func TestDispatchRelayOnFailure(t *testing.T) {
	relay := &fakeRelay{onErr: errors.New("gpio write failed")}
	d := New(relay, time.Second, clock.NewFake(time.Now()), zerolog.Nop())

	err := d.Dispatch(context.Background(), gate.ActuationRequest{Kind: gate.OpenGate})
	require.Error(t, err)
	assert.Equal(t, []string{"on"}, relay.ops)
}

func TestDispatchRelayOffFailure(t *testing.T) {
	relay := &fakeRelay{offErr: errors.New("gpio write failed")}
	d := New(relay, time.Second, clock.NewFake(time.Now()), zerolog.Nop())

	err := d.Dispatch(context.Background(), gate.ActuationRequest{Kind: gate.OpenGate})
	require.Error(t, err)
	assert.Equal(t, []string{"on", "off"}, relay.ops)
}

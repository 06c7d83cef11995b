package readiness

import (
	"context"
	"fmt"

	"github.com/defibridge/bridgedata/interaction"
)

// Oracle decides whether an interaction may be finalised. It reads local
// state and the ledger clock and never mutates anything.
type Oracle struct {
	registry interaction.Registry
	clock    interaction.Clock
}

// New creates an Oracle
func New(registry interaction.Registry, clock interaction.Clock) *Oracle {
	return &Oracle{
		registry: registry,
		clock:    clock,
	}
}

// CanFinalise returns true when the interaction has reached its expiry and has
// not been finalised yet. It fails with interaction.ErrUnknownNonce for nonces
// that were never registered.
func (o *Oracle) CanFinalise(ctx context.Context, nonce uint64) (bool, error) {
	state, err := o.State(ctx, nonce)
	if err != nil {
		return false, err
	}
	return state == interaction.StateReady, nil
}

// State returns the current lifecycle state, deriving StateReady from the clock
func (o *Oracle) State(ctx context.Context, nonce uint64) (interaction.State, error) {
	i, err := o.registry.Get(ctx, nonce)
	if err != nil {
		return "", err
	}
	return o.StateOf(ctx, i)
}

// StateOf is State for an interaction already read from the registry
func (o *Oracle) StateOf(ctx context.Context, i *interaction.Interaction) (interaction.State, error) {
	if i.State == interaction.StateFinalised {
		return interaction.StateFinalised, nil
	}
	if i.Terminal == nil {
		// async interactions always carry a terminal fact
		return "", fmt.Errorf("nonce %d has no terminal fact", i.Nonce)
	}
	now, err := o.clock.Now(ctx)
	if err != nil {
		return "", fmt.Errorf("error reading clock: %w", err)
	}
	if now >= i.Terminal.Expiry {
		return interaction.StateReady, nil
	}
	return interaction.StatePending, nil
}

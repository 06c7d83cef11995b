package presentvalue

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	bdcommon "github.com/defibridge/bridgedata/common"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/log"
)

// EventLocator returns the entry event of an interaction
type EventLocator interface {
	Lookup(ctx context.Context, nonce uint64) (*eventindex.EventRecord, error)
}

// Estimate is the marked-to-market value of an unfinalised interaction
type Estimate struct {
	Nonce          uint64   `json:"nonce"`
	EntryValue     *big.Int `json:"entryValue"`
	TerminalValue  *big.Int `json:"terminalValue"`
	EntryTimestamp uint64   `json:"entryTimestamp"`
	Expiry         uint64   `json:"expiry"`
	Now            uint64   `json:"now"`
	// BatchValue is the present value of the whole interaction
	BatchValue *big.Int `json:"batchValue"`
	// InputValue is the part of the interaction the estimate is for
	InputValue *big.Int `json:"inputValue"`
	// Value is the present value of InputValue
	Value *big.Int `json:"value"`
}

// Estimator values pending interactions by interpolating between their entry
// event and their terminal fact
type Estimator struct {
	logger   *log.Logger
	events   EventLocator
	registry interaction.Registry
	clock    interaction.Clock
}

// NewEstimator creates an Estimator
func NewEstimator(
	logger *log.Logger,
	events EventLocator,
	registry interaction.Registry,
	clock interaction.Clock,
) *Estimator {
	return &Estimator{
		logger:   logger,
		events:   events,
		registry: registry,
		clock:    clock,
	}
}

type inputs struct {
	record   *eventindex.EventRecord
	terminal *interaction.TerminalFact
}

// load returns nil inputs when the interaction has no computable value
func (e *Estimator) load(ctx context.Context, nonce uint64) (*inputs, error) {
	record, err := e.events.Lookup(ctx, nonce)
	if errors.Is(err, interaction.ErrEventNotFound) {
		e.logger.Debugf("entry event of nonce %d not located, present value unknown: %v", nonce, err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up entry event of nonce %d: %w", nonce, err)
	}

	i, err := e.registry.Get(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if !i.IsAsync || i.Terminal == nil || i.Terminal.ProjectedTerminalValue == nil {
		e.logger.Debugf("nonce %d has no terminal fact, present value unknown", nonce)
		return nil, nil
	}
	return &inputs{record: record, terminal: i.Terminal}, nil
}

// PresentValue estimates the current value of inputValue units of the
// interaction. A nil inputValue means the whole interaction. A nil estimate
// with no error means the value can not be computed.
func (e *Estimator) PresentValue(ctx context.Context, nonce uint64, inputValue *big.Int) (*Estimate, error) {
	in, err := e.load(ctx, nonce)
	if err != nil || in == nil {
		return nil, err
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading clock: %w", err)
	}

	entryValue := in.record.TotalInputValue
	batchValue, err := Interpolate(entryValue, in.terminal.ProjectedTerminalValue,
		in.record.Timestamp, in.terminal.Expiry, now)
	if err != nil {
		return nil, fmt.Errorf("nonce %d: %w", nonce, err)
	}

	value := bdcommon.CopyBig(batchValue)
	input := bdcommon.CopyBig(entryValue)
	if inputValue != nil {
		if inputValue.Sign() < 0 || inputValue.Cmp(entryValue) > 0 {
			return nil, fmt.Errorf("nonce %d: input value %s outside [0, %s]", nonce, inputValue, entryValue)
		}
		input = bdcommon.CopyBig(inputValue)
		if value, err = Share(batchValue, inputValue, entryValue); err != nil {
			return nil, fmt.Errorf("nonce %d: %w", nonce, err)
		}
	}

	return &Estimate{
		Nonce:          nonce,
		EntryValue:     bdcommon.CopyBig(entryValue),
		TerminalValue:  bdcommon.CopyBig(in.terminal.ProjectedTerminalValue),
		EntryTimestamp: in.record.Timestamp,
		Expiry:         in.terminal.Expiry,
		Now:            now,
		BatchValue:     batchValue,
		InputValue:     input,
		Value:          value,
	}, nil
}

// APR returns the annualised yield of the interaction, nil when unknown
func (e *Estimator) APR(ctx context.Context, nonce uint64) (*Yield, error) {
	in, err := e.load(ctx, nonce)
	if err != nil || in == nil {
		return nil, err
	}
	y, err := AnnualisedYield(in.record.TotalInputValue, in.terminal.ProjectedTerminalValue,
		in.record.Timestamp, in.terminal.Expiry)
	if err != nil {
		return nil, fmt.Errorf("nonce %d: %w", nonce, err)
	}
	return y, nil
}

package interaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defibridge/bridgedata/db"
	"github.com/defibridge/bridgedata/interaction/migrations"
	"github.com/defibridge/bridgedata/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// MaxNonce is the largest nonce sqlite can hold in an INTEGER column
const MaxNonce = uint64(1<<63 - 1)

// Registry is the local view of every interaction this process registered
type Registry interface {
	// Insert stores a new interaction. A nonce already present is rejected
	// with ErrDuplicateNonce and the stored record is left untouched
	Insert(ctx context.Context, d Descriptor, fact *TerminalFact, state State) error
	// Get returns the interaction for nonce or ErrUnknownNonce
	Get(ctx context.Context, nonce uint64) (*Interaction, error)
	// MarkFinalised moves an interaction to StateFinalised. Finalised is
	// absorbing, marking it twice keeps the first finalisation timestamp
	MarkFinalised(ctx context.Context, nonce, finalisedAt uint64) error
	// UpdateProjectedTerminalValue revises the projected terminal value of a
	// pending interaction
	UpdateProjectedTerminalValue(ctx context.Context, nonce uint64, value *big.Int) error
	// GetByState returns the interactions in the given persisted states, nonce ascending
	GetByState(ctx context.Context, states ...State) ([]*Interaction, error)
}

var _ Registry = (*RegistrySQLStorage)(nil)

type interactionRow struct {
	Nonce                  uint64         `meddler:"nonce"`
	BridgeAddr             common.Address `meddler:"bridge_addr,address"`
	BridgeID               []byte         `meddler:"bridge_id"`
	TotalInputValue        *big.Int       `meddler:"total_input_value,bigint"`
	EntryTimestamp         uint64         `meddler:"entry_timestamp"`
	AuxData                uint64         `meddler:"aux_data"`
	IsAsync                bool           `meddler:"is_async"`
	DescriptorHash         common.Hash    `meddler:"descriptor_hash,hash"`
	State                  State          `meddler:"state"`
	Expiry                 uint64         `meddler:"expiry"`
	ProjectedTerminalValue *big.Int       `meddler:"projected_terminal_value,bigint"`
	FinalisedAt            uint64         `meddler:"finalised_at"`
	UpdatedAt              int64          `meddler:"updated_at"`
}

func newInteractionRow(d Descriptor, fact *TerminalFact, state State) *interactionRow {
	row := &interactionRow{
		Nonce:                  d.Nonce,
		BridgeAddr:             d.BridgeAddr,
		BridgeID:               d.BridgeID,
		TotalInputValue:        d.TotalInputValue,
		EntryTimestamp:         d.EntryTimestamp,
		AuxData:                d.AuxData,
		IsAsync:                d.IsAsync,
		DescriptorHash:         d.Hash(),
		State:                  state,
		ProjectedTerminalValue: big.NewInt(0),
		UpdatedAt:              time.Now().UTC().Unix(),
	}
	if state == StateFinalised {
		// resolved at registration
		row.FinalisedAt = d.EntryTimestamp
	}
	if fact != nil {
		row.Expiry = fact.Expiry
		if fact.ProjectedTerminalValue != nil {
			row.ProjectedTerminalValue = fact.ProjectedTerminalValue
		}
	}
	return row
}

func (r *interactionRow) toInteraction() *Interaction {
	i := &Interaction{
		Descriptor: Descriptor{
			Nonce:           r.Nonce,
			BridgeAddr:      r.BridgeAddr,
			BridgeID:        r.BridgeID,
			TotalInputValue: r.TotalInputValue,
			EntryTimestamp:  r.EntryTimestamp,
			AuxData:         r.AuxData,
			IsAsync:         r.IsAsync,
		},
		State:       r.State,
		FinalisedAt: r.FinalisedAt,
	}
	if r.IsAsync {
		i.Terminal = &TerminalFact{
			Expiry:                 r.Expiry,
			ProjectedTerminalValue: r.ProjectedTerminalValue,
		}
	}
	return i
}

// RegistrySQLStorage is the sqlite implementation of Registry
type RegistrySQLStorage struct {
	logger *log.Logger
	db     *sql.DB
}

// NewRegistrySQLStorage runs the migrations on dbPath and opens it
func NewRegistrySQLStorage(logger *log.Logger, dbPath string) (*RegistrySQLStorage, error) {
	if err := migrations.RunMigrations(dbPath); err != nil {
		return nil, err
	}

	db, err := db.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, err
	}

	return &RegistrySQLStorage{
		db:     db,
		logger: logger,
	}, nil
}

// Insert stores a new interaction
func (r *RegistrySQLStorage) Insert(ctx context.Context, d Descriptor, fact *TerminalFact, state State) error {
	if d.Nonce > MaxNonce {
		return fmt.Errorf("nonce %d exceeds the storable range", d.Nonce)
	}
	if state != StatePending && state != StateFinalised {
		return fmt.Errorf("state %q can not be persisted", state)
	}
	if d.TotalInputValue == nil || d.TotalInputValue.Sign() <= 0 {
		return fmt.Errorf("nonce %d: total input value must be positive", d.Nonce)
	}

	row := newInteractionRow(d, fact, state)
	err := db.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := meddler.Insert(tx, "interaction", row); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("nonce %d: %w", d.Nonce, ErrDuplicateNonce)
			}
			return fmt.Errorf("error inserting interaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("inserted interaction - %s, state: %s", d.String(), state)
	return nil
}

// Get returns the interaction stored for nonce
func (r *RegistrySQLStorage) Get(ctx context.Context, nonce uint64) (*Interaction, error) {
	row, err := getInteraction(r.db, nonce)
	if err != nil {
		return nil, err
	}
	return row.toInteraction(), nil
}

func getInteraction(q db.Querier, nonce uint64) (*interactionRow, error) {
	if nonce > MaxNonce {
		return nil, fmt.Errorf("nonce %d: %w", nonce, ErrUnknownNonce)
	}
	row := &interactionRow{}
	if err := meddler.QueryRow(q, row, "SELECT * FROM interaction WHERE nonce = $1;", nonce); err != nil {
		if errors.Is(db.ReturnErrNotFound(err), db.ErrNotFound) {
			return nil, fmt.Errorf("nonce %d: %w", nonce, ErrUnknownNonce)
		}
		return nil, fmt.Errorf("error reading interaction %d: %w", nonce, err)
	}
	return row, nil
}

// MarkFinalised moves the interaction to the finalised state
func (r *RegistrySQLStorage) MarkFinalised(ctx context.Context, nonce, finalisedAt uint64) error {
	updated := false
	err := db.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		row, err := getInteraction(tx, nonce)
		if err != nil {
			return err
		}
		if row.State == StateFinalised {
			return nil
		}
		if _, err := tx.Exec(`UPDATE interaction SET state = $1, finalised_at = $2, updated_at = $3 WHERE nonce = $4;`,
			StateFinalised, finalisedAt, time.Now().UTC().Unix(), nonce); err != nil {
			return fmt.Errorf("error finalising interaction %d: %w", nonce, err)
		}
		updated = true
		return nil
	})
	if err != nil {
		return err
	}

	if updated {
		r.logger.Infof("interaction %d finalised at %d", nonce, finalisedAt)
	}
	return nil
}

// UpdateProjectedTerminalValue revises the projection of a pending interaction
func (r *RegistrySQLStorage) UpdateProjectedTerminalValue(ctx context.Context, nonce uint64, value *big.Int) error {
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("nonce %d: projected terminal value must be non negative", nonce)
	}

	err := db.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		row, err := getInteraction(tx, nonce)
		if err != nil {
			return err
		}
		if row.State == StateFinalised {
			return fmt.Errorf("nonce %d: %w", nonce, ErrAlreadyFinalised)
		}
		if !row.IsAsync {
			return fmt.Errorf("nonce %d is synchronous and has no terminal fact", nonce)
		}
		if _, err := tx.Exec(`UPDATE interaction SET projected_terminal_value = $1, updated_at = $2 WHERE nonce = $3;`,
			value.String(), time.Now().UTC().Unix(), nonce); err != nil {
			return fmt.Errorf("error updating projected terminal value of %d: %w", nonce, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("interaction %d projected terminal value set to %s", nonce, value.String())
	return nil
}

// GetByState returns the interactions in any of the given states
func (r *RegistrySQLStorage) GetByState(ctx context.Context, states ...State) ([]*Interaction, error) {
	query := "SELECT * FROM interaction"
	args := make([]interface{}, len(states))

	if len(states) > 0 {
		placeholders := ""
		for i := range states {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += fmt.Sprintf("$%d", i+1)
			args[i] = states[i]
		}
		query += " WHERE state IN (" + placeholders + ")"
	}
	query += " ORDER BY nonce ASC;"

	var rows []*interactionRow
	if err := meddler.QueryAll(r.db, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]*Interaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toInteraction())
	}
	return result, nil
}

// Close releases the underlying database
func (r *RegistrySQLStorage) Close() error {
	return r.db.Close()
}

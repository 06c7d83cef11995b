package interaction

import "context"

// Clock reads the ledger time, in seconds since epoch
type Clock interface {
	Now(ctx context.Context) (uint64, error)
}

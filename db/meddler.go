package db

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	sqlite "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

// init registers the tags used by the storages of this module
func init() {
	meddler.Default = meddler.SQLite
	meddler.Register("bigint", textMeddler[*big.Int]{
		encode: func(v *big.Int) string {
			if v == nil {
				return "0"
			}
			return v.String()
		},
		decode: func(s string) (*big.Int, error) {
			v, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, fmt.Errorf("invalid decimal integer %q", s)
			}
			return v, nil
		},
	})
	meddler.Register("hash", textMeddler[common.Hash]{
		encode: func(v common.Hash) string { return v.Hex() },
		decode: func(s string) (common.Hash, error) { return common.HexToHash(s), nil },
	})
	meddler.Register("address", textMeddler[common.Address]{
		encode: func(v common.Address) string { return v.Hex() },
		decode: func(s string) (common.Address, error) { return common.HexToAddress(s), nil },
	})
}

// SQLiteErr extracts the sqlite error wrapped by err, if any
func SQLiteErr(err error) (*sqlite.Error, bool) {
	sqliteErr := &sqlite.Error{}
	if ok := errors.As(err, sqliteErr); ok {
		return sqliteErr, true
	}
	if driverErr, ok := meddler.DriverErr(err); ok {
		return sqliteErr, errors.As(driverErr, sqliteErr)
	}
	return sqliteErr, false
}

// textMeddler stores a T as a TEXT column
type textMeddler[T any] struct {
	encode func(T) string
	decode func(string) (T, error)
}

// PreRead scans the raw column into a string
func (m textMeddler[T]) PreRead(interface{}) (interface{}, error) {
	return new(string), nil
}

// PostRead decodes the scanned string into the field
func (m textMeddler[T]) PostRead(fieldPtr, scanTarget interface{}) error {
	raw, ok := scanTarget.(*string)
	if !ok || raw == nil {
		return fmt.Errorf("scan target is %T, expected *string", scanTarget)
	}
	field, ok := fieldPtr.(*T)
	if !ok {
		return fmt.Errorf("field is %T, expected %T", fieldPtr, field)
	}
	v, err := m.decode(*raw)
	if err != nil {
		return err
	}
	*field = v
	return nil
}

// PreWrite encodes the field value
func (m textMeddler[T]) PreWrite(field interface{}) (interface{}, error) {
	v, ok := field.(T)
	if !ok {
		return nil, fmt.Errorf("field is %T, expected %T", field, v)
	}
	return m.encode(v), nil
}

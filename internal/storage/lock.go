package storage

import (
	"fmt"

	"github.com/gofrs/flock"
)

// lockPath takes an exclusive, non-blocking lock on path. The relay assumes a
// single writer per database; a second bot process fails fast instead of
// racing the first one.
func lockPath(path string) (func() error, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire storage lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("storage %s is locked by another tellbot instance", path)
	}
	return fl.Unlock, nil
}

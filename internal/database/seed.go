package database

import (
	"context"
	"errors"
	"fmt"
)

// SeedAccounts creates each account that does not exist yet. Existing
// accounts are left untouched. It returns the number of accounts created.
func SeedAccounts(ctx context.Context, dir AccountDirectory, accounts []Account) (int, error) {
	var created int
	for _, a := range accounts {
		if _, err := dir.CreateAccount(ctx, a); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return created, fmt.Errorf("seed account %q: %w", a.Username, err)
		}
		created++
	}
	return created, nil
}

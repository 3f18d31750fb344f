package service

import (
	"fmt"
	"math/rand/v2"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/port"
)

const accountNumberSpace = 10_000_000_000 // 10 digits

// AccountNumberGenerator produces random ACC + 10 digit candidates.
// Uniqueness is enforced by the store, not here.
type AccountNumberGenerator struct{}

var _ port.NumberGenerator = AccountNumberGenerator{}

// NewAccountNumberGenerator returns the default generator.
func NewAccountNumberGenerator() AccountNumberGenerator {
	return AccountNumberGenerator{}
}

// Generate returns a zero-padded random candidate number.
func (AccountNumberGenerator) Generate() string {
	return fmt.Sprintf("%s%010d", domain.AccountNumberPrefix, rand.Int64N(accountNumberSpace))
}

// Package funds holds party balances and moves value between parties and the ledger.
package funds

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = apperrors.New(apperrors.ErrCodeInsufficientBalance, "insufficient balance")
	ErrRefused             = apperrors.New(apperrors.ErrCodeTransferFailed, "receiver refused the transfer")
)

// ReceiveFunc runs before a payment to the account is credited. Returning an
// error refuses the payment.
type ReceiveFunc func(ctx context.Context, amount decimal.Decimal) error

// Accounts is an in-memory bank. Accounts seen for the first time start with
// the opening balance.
type Accounts struct {
	mu       sync.Mutex
	balances map[types.Address]decimal.Decimal
	opening  decimal.Decimal
	receive  map[types.Address]ReceiveFunc
}

func NewAccounts(opening decimal.Decimal) *Accounts {
	return &Accounts{
		balances: make(map[types.Address]decimal.Decimal),
		opening:  opening,
		receive:  make(map[types.Address]ReceiveFunc),
	}
}

// balance must be called with mu held.
func (a *Accounts) balance(addr types.Address) decimal.Decimal {
	b, ok := a.balances[addr]
	if !ok {
		b = a.opening
		a.balances[addr] = b
	}
	return b
}

func (a *Accounts) Balance(addr types.Address) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance(addr.Normalize())
}

func (a *Accounts) Deposit(addr types.Address, amount decimal.Decimal) {
	addr = addr.Normalize()
	a.mu.Lock()
	a.balances[addr] = a.balance(addr).Add(amount)
	a.mu.Unlock()
}

// OnReceive installs a hook for payments to addr; nil removes it.
func (a *Accounts) OnReceive(addr types.Address, fn ReceiveFunc) {
	addr = addr.Normalize()
	a.mu.Lock()
	defer a.mu.Unlock()
	if fn == nil {
		delete(a.receive, addr)
		return
	}
	a.receive[addr] = fn
}

// Refuse makes every payment to addr fail.
func (a *Accounts) Refuse(addr types.Address) {
	a.OnReceive(addr, func(context.Context, decimal.Decimal) error { return ErrRefused })
}

// Collect debits amount from the account.
func (a *Accounts) Collect(ctx context.Context, from types.Address, amount decimal.Decimal) error {
	from = from.Normalize()
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balance(from)
	if b.LessThan(amount) {
		return apperrors.Newf(ErrInsufficientBalance, "%s holds %s, needs %s", from, b, amount)
	}
	a.balances[from] = b.Sub(amount)
	return nil
}

// Pay credits amount to the account unless its receive hook refuses it. The
// hook runs without the accounts lock so it may call back into its caller.
func (a *Accounts) Pay(ctx context.Context, to types.Address, amount decimal.Decimal) error {
	to = to.Normalize()
	a.mu.Lock()
	hook := a.receive[to]
	a.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, amount); err != nil {
			log.Debugf("Payment of %s to %s refused: %v", amount, to, err)
			return fmt.Errorf("payment to %s: %w", to, err)
		}
	}

	a.mu.Lock()
	a.balances[to] = a.balance(to).Add(amount)
	a.mu.Unlock()
	return nil
}

package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/util"
)

var (
	ErrAccountExists       = errors.New("account already exists")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrAccountInactive     = errors.New("account deactivated")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInconsistency signals an internal invariant violation (a reserved
	// balance missing at settlement time). It indicates a programming error,
	// not bad user input, and is never silently absorbed.
	ErrInconsistency = errors.New("ledger inconsistency")
)

// Balance is a point-in-time view of one asset held by one account.
// Free is available to trade; Reserved is earmarked against open orders.
// Total (Free + Reserved) is what balance queries display.
type Balance struct {
	Free     decimal.Decimal
	Reserved decimal.Decimal
}

// Total returns the committed balance including reservations.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Reserved)
}

// Account holds per-asset balances for one owner. Accounts are created on
// registration and never deleted; Deactivate blocks new activity instead.
type Account struct {
	Owner     string
	CreatedAt int64 // Unix milliseconds

	mu       sync.Mutex
	active   bool
	balances map[string]*Balance // asset symbol -> balance
}

// balance returns the account's entry for asset, creating a zero entry on
// first touch. Caller must hold a.mu.
func (a *Account) balance(asset string) *Balance {
	b, ok := a.balances[asset]
	if !ok {
		b = &Balance{Free: decimal.Zero, Reserved: decimal.Zero}
		a.balances[asset] = b
	}
	return b
}

// Ledger owns all accounts and is the only mutator of balances.
// Per-account mutexes make single-account operations atomic; Settle locks
// the two involved accounts in lexicographic owner order to stay
// deadlock-free when trades on different pairs touch the same accounts.
type Ledger struct {
	log   *zap.SugaredLogger
	clock util.Clock

	mu       sync.RWMutex
	accounts map[string]*Account
}

func New(logger *zap.SugaredLogger, clock util.Clock) *Ledger {
	return &Ledger{
		log:      logger,
		clock:    clock,
		accounts: make(map[string]*Account),
	}
}

// CreateAccount registers a new owner with an optional starting allocation.
func (l *Ledger) CreateAccount(owner string, starting map[string]decimal.Decimal) (*Account, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner id", ErrUnknownAccount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[owner]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, owner)
	}

	acc := &Account{
		Owner:     owner,
		CreatedAt: l.clock.Now().UnixMilli(),
		active:    true,
		balances:  make(map[string]*Balance),
	}
	for asset, amount := range starting {
		if amount.IsNegative() {
			return nil, fmt.Errorf("%w: starting %s balance %s", ErrInvalidAmount, asset, amount)
		}
		acc.balances[asset] = &Balance{Free: amount, Reserved: decimal.Zero}
	}

	l.accounts[owner] = acc
	l.log.Infow("account_created", "owner", owner)
	return acc, nil
}

// Deactivate blocks an account from deposits, withdrawals and new
// reservations. Settlement and release of existing reservations still work
// so resting orders can drain or be cancelled.
func (l *Ledger) Deactivate(owner string) error {
	acc, err := l.account(owner)
	if err != nil {
		return err
	}

	acc.mu.Lock()
	acc.active = false
	acc.mu.Unlock()

	l.log.Infow("account_deactivated", "owner", owner)
	return nil
}

// Exists reports whether an owner is registered.
func (l *Ledger) Exists(owner string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[owner]
	return ok
}

func (l *Ledger) account(owner string) (*Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, owner)
	}
	return acc, nil
}

// Deposit credits free balance.
func (l *Ledger) Deposit(owner, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit %s", ErrInvalidAmount, amount)
	}

	acc, err := l.account(owner)
	if err != nil {
		return err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if !acc.active {
		return fmt.Errorf("%w: %s", ErrAccountInactive, owner)
	}

	b := acc.balance(asset)
	b.Free = b.Free.Add(amount)
	return nil
}

// Withdraw debits free balance. Reserved funds cannot be withdrawn.
func (l *Ledger) Withdraw(owner, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdraw %s", ErrInvalidAmount, amount)
	}

	acc, err := l.account(owner)
	if err != nil {
		return err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if !acc.active {
		return fmt.Errorf("%w: %s", ErrAccountInactive, owner)
	}

	b := acc.balance(asset)
	if b.Free.LessThan(amount) {
		return fmt.Errorf("%w: %s free %s, withdraw %s", ErrInsufficientBalance, asset, b.Free, amount)
	}
	b.Free = b.Free.Sub(amount)
	return nil
}

// Reserve earmarks amount of asset against an open order. The earmarked
// funds stay part of the total balance but are excluded from the
// available-to-trade amount, which closes the double-spend window between
// placement and settlement.
func (l *Ledger) Reserve(owner, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: reserve %s", ErrInvalidAmount, amount)
	}

	acc, err := l.account(owner)
	if err != nil {
		return err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if !acc.active {
		return fmt.Errorf("%w: %s", ErrAccountInactive, owner)
	}

	b := acc.balance(asset)
	if b.Free.LessThan(amount) {
		return fmt.Errorf("%w: %s available %s, need %s", ErrInsufficientBalance, asset, b.Free, amount)
	}
	b.Free = b.Free.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	return nil
}

// Release returns previously reserved funds to free balance (order
// cancelled, or a buy taker's over-reservation after price improvement).
func (l *Ledger) Release(owner, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: release %s", ErrInvalidAmount, amount)
	}

	acc, err := l.account(owner)
	if err != nil {
		return err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	b := acc.balance(asset)
	if b.Reserved.LessThan(amount) {
		l.log.Errorw("ledger_inconsistency",
			"op", "release", "owner", owner, "asset", asset,
			"reserved", b.Reserved, "release", amount)
		return fmt.Errorf("%w: release %s %s exceeds reserved %s", ErrInconsistency, asset, amount, b.Reserved)
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.Free = b.Free.Add(amount)
	return nil
}

// Settle atomically moves funds for one executed trade: the buyer's reserved
// quote pays for base credited free, the seller's reserved base pays for
// quote credited free. Both legs are checked before either is applied, so a
// failed settlement leaves no partial state.
//
// Buyer and seller may be the same owner when self-trading is permitted; the
// transfer then nets out inside one account.
func (l *Ledger) Settle(buyer, seller, base, quote string, price, qty decimal.Decimal) error {
	if !price.IsPositive() || !qty.IsPositive() {
		return fmt.Errorf("%w: settle price %s qty %s", ErrInvalidAmount, price, qty)
	}

	buyAcc, err := l.account(buyer)
	if err != nil {
		return err
	}
	sellAcc, err := l.account(seller)
	if err != nil {
		return err
	}

	l.lockPair(buyAcc, sellAcc)
	defer l.unlockPair(buyAcc, sellAcc)

	notional := price.Mul(qty)
	buyQuote := buyAcc.balance(quote)
	sellBase := sellAcc.balance(base)

	// Verify both reservations up front; mutate only after both pass.
	if buyQuote.Reserved.LessThan(notional) {
		l.log.Errorw("ledger_inconsistency",
			"op", "settle", "owner", buyer, "asset", quote,
			"reserved", buyQuote.Reserved, "need", notional)
		return fmt.Errorf("%w: buyer %s reserved %s %s, settlement needs %s",
			ErrInconsistency, buyer, quote, buyQuote.Reserved, notional)
	}
	if sellBase.Reserved.LessThan(qty) {
		l.log.Errorw("ledger_inconsistency",
			"op", "settle", "owner", seller, "asset", base,
			"reserved", sellBase.Reserved, "need", qty)
		return fmt.Errorf("%w: seller %s reserved %s %s, settlement needs %s",
			ErrInconsistency, seller, base, sellBase.Reserved, qty)
	}

	buyQuote.Reserved = buyQuote.Reserved.Sub(notional)
	buyAcc.balance(base).Free = buyAcc.balance(base).Free.Add(qty)

	sellBase.Reserved = sellBase.Reserved.Sub(qty)
	sellAcc.balance(quote).Free = sellAcc.balance(quote).Free.Add(notional)

	return nil
}

// lockPair acquires both account mutexes in lexicographic owner order, or a
// single mutex when both sides are the same account.
func (l *Ledger) lockPair(a, b *Account) {
	if a == b {
		a.mu.Lock()
		return
	}
	if a.Owner < b.Owner {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func (l *Ledger) unlockPair(a, b *Account) {
	if a == b {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}

// Balances returns a snapshot of all asset balances for an owner.
func (l *Ledger) Balances(owner string) (map[string]Balance, error) {
	acc, err := l.account(owner)
	if err != nil {
		return nil, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	out := make(map[string]Balance, len(acc.balances))
	for asset, b := range acc.balances {
		out[asset] = *b
	}
	return out, nil
}

// Available returns the free (unreserved) balance of one asset.
func (l *Ledger) Available(owner, asset string) (decimal.Decimal, error) {
	acc, err := l.account(owner)
	if err != nil {
		return decimal.Zero, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance(asset).Free, nil
}

// Owners returns all registered owner ids, sorted.
func (l *Ledger) Owners() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owners := make([]string, 0, len(l.accounts))
	for owner := range l.accounts {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// IsActive reports whether an account accepts new activity.
func (l *Ledger) IsActive(owner string) bool {
	acc, err := l.account(owner)
	if err != nil {
		return false
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.active
}

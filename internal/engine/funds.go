package engine

import (
	"context"
	"strings"

	"guildpay/internal/events"
	"guildpay/internal/fault"
)

// Deposit credits an account, bringing value under ledger custody. Treasury
// accounts are funded this way before milestone payouts can draw on them.
func (e Engine) Deposit(ctx context.Context, account, currency string, amount int64, actor string) error {
	if strings.TrimSpace(account) == "" {
		return fault.Fieldf(fault.InvalidInput, "account", "account required")
	}
	currency = e.defaultCurrency(currency)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Ledger.Deposit(ctx, tx, currency, account, amount); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ModLedger, events.ActDeposited, 0, "account", 0, actor, events.EventPayload{
		"account":  account,
		"currency": currency,
		"amount":   amount,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

package funder

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/go-errors/errors"
)

// Local-caller errors (§7): the command was rejected without changing any
// state, and the caller may retry or adjust and resubmit.
var (
	ErrUnknownFriend              = stderrors.New("funder: unknown friend")
	ErrFriendAlreadyExists        = stderrors.New("funder: friend already exists")
	ErrUnknownCurrency            = stderrors.New("funder: currency not open with this friend")
	ErrCurrencyAlreadyOpen        = stderrors.New("funder: currency already open with this friend")
	ErrUnknownPayment             = stderrors.New("funder: unknown payment")
	ErrUnknownInvoice             = stderrors.New("funder: unknown invoice")
	ErrInvoiceAlreadyExists       = stderrors.New("funder: invoice already exists")
	ErrInvoiceNotOpen             = stderrors.New("funder: invoice is not open")
	ErrInvoiceIncomplete          = stderrors.New("funder: invoice's parked legs do not yet cover its total_dest_payment")
	ErrNotInconsistent            = stderrors.New("funder: friend channel is not in an inconsistent state")
	ErrEmptyRoute                 = stderrors.New("funder: a payment needs at least one route leg")
	ErrCurrencyNotEmptyForRemoval = stderrors.New("funder: cannot remove a friend with a non-zero currency balance or pending transaction")
	ErrCoordinatorStopped         = stderrors.New("funder: coordinator has stopped")
)

// fatal wraps an error the coordinator cannot recover from in-line --
// a persistence write failing, the identity collaborator becoming
// unreachable mid-loop -- with a captured stack trace (go-errors/errors,
// the same wrapper channeldb's higher layers use to keep a programming
// error's origin visible past a goroutine boundary). The run loop treats
// a fatal error as grounds to stop rather than continue processing
// events against possibly-divergent state.
func fatal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, 1)
}

// fatalf logs a fatal error with a captured stack trace and stops the
// run loop -- processing more events against a store that just failed to
// append, or an identity collaborator that just became unreachable,
// would only compound whatever already went wrong. Stop() still runs
// normally afterward; fatalf only short-circuits the current and any
// future iteration of run.
func (c *Coordinator) fatalf(_ context.Context, format string, args ...interface{}) {
	log.Errorf("%v", errors.Wrap(fmt.Errorf(format, args...), 1))
	c.stopOnce.Do(func() { close(c.quit) })
}

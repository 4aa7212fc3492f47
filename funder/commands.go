package funder

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/persist"
	"github.com/freedomlayer/offset-sub002/router"
	"github.com/freedomlayer/offset-sub002/tokenchannel"
	"github.com/freedomlayer/offset-sub002/wire"
)

// Command is one front-end-initiated action (§6's "Coordinator inbound
// (from front-end)" list). apply runs on the single run-loop goroutine,
// persisting whatever Mutations the action implies before returning --
// never after, per §5's "every Funder-state mutation persisted before
// the corresponding outgoing message is emitted."
type Command interface {
	apply(ctx context.Context, c *Coordinator) (crypto.Uid, error)
}

// SubmitCommand hands cmd to the run loop and blocks until it has been
// processed to completion, returning the fresh Uid the loop minted to
// acknowledge it (or the local-caller error that left state unchanged).
func (c *Coordinator) SubmitCommand(ctx context.Context, cmd Command) (crypto.Uid, error) {
	reply := make(chan ackReply, 1)
	select {
	case c.commands <- commandEnvelope{cmd: cmd, reply: reply}:
	case <-c.quit:
		return crypto.Uid{}, ErrCoordinatorStopped
	case <-ctx.Done():
		return crypto.Uid{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.ack, r.err
	case <-ctx.Done():
		return crypto.Uid{}, ctx.Err()
	}
}

// ack persists m (if non-nil) and returns a fresh correlation Uid, the
// common tail of every Command.apply implementation.
func (c *Coordinator) ack(m persist.Mutation) (crypto.Uid, error) {
	if m != nil {
		if _, err := c.store.Append(m); err != nil {
			return crypto.Uid{}, fatal(err)
		}
	}
	return crypto.NewUid(), nil
}

// AddFriend registers a new counterparty relationship (§6).
type AddFriend struct {
	PublicKey crypto.PublicKey
	Name      string
}

func (cmd AddFriend) apply(ctx context.Context, c *Coordinator) (crypto.Uid, error) {
	if _, ok := c.friends[cmd.PublicKey]; ok {
		return crypto.Uid{}, ErrFriendAlreadyExists
	}
	local, err := c.identity.PublicKey(ctx)
	if err != nil {
		return crypto.Uid{}, fatal(err)
	}
	c.friends[cmd.PublicKey] = &Friend{
		PublicKey:    cmd.PublicKey,
		Name:         cmd.Name,
		TokenChannel: tokenchannel.New(local, cmd.PublicKey, c.identity, maxOperationsInBatch),
	}
	c.router.AddFriend(cmd.PublicKey)
	c.liveness.AddFriend(cmd.PublicKey)
	return c.ack(persist.AddFriend{PublicKey: cmd.PublicKey, Name: cmd.Name})
}

// RemoveFriend drops a counterparty relationship entirely (§6). Any
// currency it still has open with a non-zero balance is left as an
// operator error to investigate first -- RemoveFriend never silently
// forgives debt.
type RemoveFriend struct {
	PublicKey crypto.PublicKey
}

func (cmd RemoveFriend) apply(ctx context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	for _, cur := range f.TokenChannel.ActiveCurrencies() {
		mc, _ := f.TokenChannel.MutualCredit(cur)
		if !mc.IsEmpty() {
			return crypto.Uid{}, ErrCurrencyNotEmptyForRemoval
		}
	}
	delete(c.friends, cmd.PublicKey)
	c.router.RemoveFriend(cmd.PublicKey)
	c.liveness.RemoveFriend(cmd.PublicKey)
	for _, m := range c.index.RemoveFriend(cmd.PublicKey) {
		if c.indexOut != nil {
			_ = c.indexOut.ReportMutation(ctx, m)
		}
	}
	return c.ack(persist.RemoveFriend{PublicKey: cmd.PublicKey})
}

// EnableFriend allows the Router to forward through pk again (§6).
type EnableFriend struct {
	PublicKey crypto.PublicKey
}

func (cmd EnableFriend) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	if _, ok := c.friends[cmd.PublicKey]; !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	c.liveness.SetEnabled(cmd.PublicKey, true)
	return c.ack(persist.SetFriendEnabled{PublicKey: cmd.PublicKey, Enabled: true})
}

// DisableFriend excludes pk from forwarding decisions until re-enabled
// (§6). Liveness (online/offline) is untouched.
type DisableFriend struct {
	PublicKey crypto.PublicKey
}

func (cmd DisableFriend) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	if _, ok := c.friends[cmd.PublicKey]; !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	c.liveness.SetEnabled(cmd.PublicKey, false)
	return c.ack(persist.SetFriendEnabled{PublicKey: cmd.PublicKey, Enabled: false})
}

// SetFriendName renames a friend for display purposes only.
type SetFriendName struct {
	PublicKey crypto.PublicKey
	Name      string
}

func (cmd SetFriendName) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	f.Name = cmd.Name
	return c.ack(persist.SetFriendName{PublicKey: cmd.PublicKey, Name: cmd.Name})
}

// OpenFriendCurrency adds cur to this side's committed set with pk and
// queues the currencies_diff entry to announce it (§4.2 step 3, §6).
type OpenFriendCurrency struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
}

func (cmd OpenFriendCurrency) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	f.TokenChannel.AddCurrency(cmd.Currency)
	f.TokenChannel.SetRate(cmd.Currency, zeroRate)
	f.pendingDiffs = append(f.pendingDiffs, wire.CurrencyDiff{Currency: cmd.Currency, Add: true})

	// Opening a currency also opens it for requests in this direction --
	// spec.md's command surface (§6) has no separate EnableRequests
	// command, so "open" is this side's only lever for requests_status.local.
	mc, _ := f.TokenChannel.MutualCredit(cmd.Currency)
	op := mutualcredit.EnableRequestsOp{}
	if err := mc.ApplyOutgoing(op); err != nil {
		return crypto.Uid{}, fatal(err)
	}
	c.router.EnqueueUserRequest(cmd.PublicKey, cmd.Currency, op)
	if _, err := c.store.Append(persist.ApplyOperation{PublicKey: cmd.PublicKey, Currency: cmd.Currency, Op: op, Outgoing: true}); err != nil {
		return crypto.Uid{}, fatal(err)
	}

	return c.ack(persist.OpenCurrency{PublicKey: cmd.PublicKey, Currency: cmd.Currency})
}

// CloseFriendCurrency removes cur from this side's committed set, failing
// if the currency still carries a balance or pending transaction (§4.2
// step 3, §6) -- tokenchannel.RemoveCurrency enforces this directly.
type CloseFriendCurrency struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
}

func (cmd CloseFriendCurrency) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	if err := f.TokenChannel.RemoveCurrency(cmd.Currency); err != nil {
		return crypto.Uid{}, err
	}
	f.pendingDiffs = append(f.pendingDiffs, wire.CurrencyDiff{Currency: cmd.Currency, Add: false})
	return c.ack(persist.CloseCurrency{PublicKey: cmd.PublicKey, Currency: cmd.Currency})
}

// SetFriendCurrencyMaxDebt queues a SetRemoteMaxDebtOp toward pk, raising
// or lowering the credit ceiling we grant the peer on cur (§4.1, §6).
type SetFriendCurrencyMaxDebt struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
	MaxDebt   *big.Int
}

func (cmd SetFriendCurrencyMaxDebt) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	mc, ok := f.TokenChannel.MutualCredit(cmd.Currency)
	if !ok {
		return crypto.Uid{}, ErrUnknownCurrency
	}
	op := mutualcredit.SetRemoteMaxDebtOp{MaxDebt: new(big.Int).Set(cmd.MaxDebt)}
	if err := mc.ApplyOutgoing(op); err != nil {
		return crypto.Uid{}, err
	}
	c.router.EnqueueUserRequest(cmd.PublicKey, cmd.Currency, op)
	return c.ack(persist.ApplyOperation{PublicKey: cmd.PublicKey, Currency: cmd.Currency, Op: op, Outgoing: true})
}

// SetFriendCurrencyRate configures the forwarding fee charged on cur (§4.3
// step 2, §6). The rate is local-only bookkeeping, not a wire operation.
type SetFriendCurrencyRate struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
	Rate      mutualcredit.FeeRate
}

func (cmd SetFriendCurrencyRate) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	if _, ok := f.TokenChannel.MutualCredit(cmd.Currency); !ok {
		return crypto.Uid{}, ErrUnknownCurrency
	}
	f.TokenChannel.SetRate(cmd.Currency, cmd.Rate)
	return c.ack(persist.SetRate{PublicKey: cmd.PublicKey, Currency: cmd.Currency, Rate: cmd.Rate})
}

// SetFriendRelays replaces pk's advertised relay set and advances the
// liveness-tracked generation so a RelaysUpdate goes out (SPEC_FULL.md
// Supplemented Feature 3, §6).
type SetFriendRelays struct {
	PublicKey crypto.PublicKey
	Relays    []wire.RelayAddressPort
}

func (cmd SetFriendRelays) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	f.Relays = cmd.Relays
	f.SentRelaysGeneration = c.liveness.AdvanceRelays(cmd.PublicKey)
	return c.ack(persist.RelayGeneration{PublicKey: cmd.PublicKey, Generation: f.SentRelaysGeneration})
}

// ResetFriendChannel accepts the peer's known reset terms and produces
// the finalizing MoveToken (§4.2, §6). The caller is responsible for
// actually sending the resulting message; apply only performs the
// ledger-level transition and its persistence.
type ResetFriendChannel struct {
	PublicKey      crypto.PublicKey
	PeerResetToken crypto.Signature
}

func (cmd ResetFriendChannel) apply(ctx context.Context, c *Coordinator) (crypto.Uid, error) {
	f, ok := c.friends[cmd.PublicKey]
	if !ok {
		return crypto.Uid{}, ErrUnknownFriend
	}
	mtr, err := f.TokenChannel.ResetFriendChannel(ctx, cmd.PeerResetToken)
	if err != nil {
		return crypto.Uid{}, err
	}
	ack, err := c.ack(persist.AdvanceToken{
		PublicKey:        cmd.PublicKey,
		Holder:           false,
		MoveTokenCounter: f.TokenChannel.MoveTokenCounter(),
	})
	if err != nil {
		return crypto.Uid{}, err
	}
	if c.transport != nil {
		if err := c.transport.SendFriendMessage(ctx, cmd.PublicKey, mtr); err != nil {
			log.Errorf("failed sending reset MoveToken to %s: %v", cmd.PublicKey, err)
		}
	}
	return ack, nil
}

// RequestSendFunds begins a (possibly multi-route) payment toward
// destination (§4.3, §6). Each leg's RequestSendFundsOp is applied to the
// relevant next hop's MutualCredit and persisted before being queued; a
// leg whose ApplyOutgoing fails is abandoned rather than aborting legs
// already queued, since those have already committed credit and cannot
// be un-sent once persisted.
type RequestSendFunds struct {
	PaymentId        crypto.PaymentId
	Destination      crypto.PublicKey
	InvoiceId        crypto.InvoiceId
	TotalDestPayment *big.Int
	Legs             []router.RouteLeg
}

func (cmd RequestSendFunds) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	if len(cmd.Legs) == 0 {
		return crypto.Uid{}, ErrEmptyRoute
	}
	plainLock := crypto.NewPlainLock()
	prepared, err := c.router.PrepareMultiRoutePayment(cmd.PaymentId, cmd.Destination, cmd.InvoiceId, cmd.TotalDestPayment, cmd.Legs, crypto.NewUid, plainLock)
	if err != nil {
		return crypto.Uid{}, err
	}

	var firstErr error
	for _, leg := range prepared {
		f, ok := c.friends[leg.NextHop]
		if !ok {
			c.router.AbandonLeg(cmd.PaymentId, leg.RequestId)
			if firstErr == nil {
				firstErr = ErrUnknownFriend
			}
			continue
		}
		mc, ok := f.TokenChannel.MutualCredit(leg.Currency)
		if !ok {
			c.router.AbandonLeg(cmd.PaymentId, leg.RequestId)
			if firstErr == nil {
				firstErr = ErrUnknownCurrency
			}
			continue
		}
		op := mutualcredit.RequestSendFundsOp{Request: leg.Request}
		if err := mc.ApplyOutgoing(op); err != nil {
			c.router.AbandonLeg(cmd.PaymentId, leg.RequestId)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := c.store.Append(persist.ApplyOperation{PublicKey: leg.NextHop, Currency: leg.Currency, Op: op, Outgoing: true}); err != nil {
			return crypto.Uid{}, fatal(err)
		}
		c.router.ConfirmLegQueued(cmd.PaymentId, leg)
	}
	if firstErr != nil {
		return crypto.Uid{}, firstErr
	}
	return crypto.NewUid(), nil
}

// CancelPayment checks that PaymentId names a locally-initiated payment
// (§6) and acknowledges it, failing with ErrUnknownPayment otherwise. It
// leaves the payment's status unchanged, and it does not unwind legs
// already queued or in flight -- per
// §5 scenario 6, a canceled leg anywhere closes the whole payment, and
// the remaining legs settle (accepted or bounced back) on their own.
type CancelPayment struct {
	PaymentId crypto.PaymentId
}

func (cmd CancelPayment) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	if _, ok := c.router.PaymentStatus(cmd.PaymentId); !ok {
		return crypto.Uid{}, ErrUnknownPayment
	}
	return crypto.NewUid(), nil
}

// AddInvoice registers a locally-issued invoice a buyer may pay against
// (SPEC_FULL.md's invoice lifecycle, §6).
type AddInvoice struct {
	InvoiceId        crypto.InvoiceId
	Currency         currency.Currency
	TotalDestPayment *big.Int
}

func (cmd AddInvoice) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	if _, exists := c.invoices[cmd.InvoiceId]; exists {
		return crypto.Uid{}, ErrInvoiceAlreadyExists
	}
	c.invoices[cmd.InvoiceId] = &invoiceState{
		currency:         cmd.Currency,
		totalDestPayment: new(big.Int).Set(cmd.TotalDestPayment),
		status:           invoiceOpen,
		legs:             make(map[crypto.Uid]*incomingLeg),
	}
	return crypto.NewUid(), nil
}

// CancelInvoice withdraws an invoice, canceling backward every leg
// already parked against it (§6, SPEC_FULL.md's invoice lifecycle).
type CancelInvoice struct {
	InvoiceId crypto.InvoiceId
}

func (cmd CancelInvoice) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	inv, ok := c.invoices[cmd.InvoiceId]
	if !ok {
		return crypto.Uid{}, ErrUnknownInvoice
	}
	for requestId, leg := range inv.legs {
		cancelOp := mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: requestId}}
		if f, ok := c.friends[leg.friend]; ok {
			if mc, ok := f.TokenChannel.MutualCredit(leg.currency); ok {
				_ = mc.ApplyOutgoing(cancelOp)
				_, _ = c.store.Append(persist.ApplyOperation{PublicKey: leg.friend, Currency: leg.currency, Op: cancelOp, Outgoing: true})
			}
		}
		c.router.EnqueueBackward(leg.friend, leg.currency, cancelOp)
	}
	inv.status = invoiceCanceled
	delete(c.invoices, cmd.InvoiceId)
	return crypto.NewUid(), nil
}

// CommitInvoice accepts however many legs have been parked against
// InvoiceId and, once their combined DestPayment meets TotalDestPayment,
// signs and sends one ResponseSendFundsOp backward per leg (§3, §4.3,
// §6). A commit attempted before enough legs have arrived fails with
// ErrInvoiceIncomplete rather than partially committing.
type CommitInvoice struct {
	InvoiceId crypto.InvoiceId
}

func (cmd CommitInvoice) apply(ctx context.Context, c *Coordinator) (crypto.Uid, error) {
	inv, ok := c.invoices[cmd.InvoiceId]
	if !ok {
		return crypto.Uid{}, ErrUnknownInvoice
	}
	if inv.status != invoiceOpen {
		return crypto.Uid{}, ErrInvoiceNotOpen
	}

	collected := new(big.Int)
	for _, leg := range inv.legs {
		collected.Add(collected, leg.pending.DestPayment)
	}
	if collected.Cmp(inv.totalDestPayment) < 0 {
		return crypto.Uid{}, ErrInvoiceIncomplete
	}

	for requestId, leg := range inv.legs {
		resp := mutualcredit.McResponse{
			RequestId: requestId,
			// Echoes back the hashed lock the buyer generated for this
			// payment and embedded in the request (propagated unchanged
			// hop by hop, per router.forward.go), not an invoice-local
			// lock -- this is what lets the buyer's router.CollectResponse
			// recognize the commit as belonging to the payment it
			// initiated (§4.3 "hashed locks match").
			DestHashedLock: leg.pending.SrcHashedLock,
			IsComplete:     true,
		}
		if _, err := rand.Read(resp.RandNonce[:]); err != nil {
			return crypto.Uid{}, fatal(err)
		}
		fp := mutualcredit.BuildResponseSignatureBuffer(leg.currency, resp, leg.pending)
		sig, err := c.identity.Sign(ctx, fp)
		if err != nil {
			return crypto.Uid{}, fatal(err)
		}
		resp.Signature = sig

		op := mutualcredit.ResponseSendFundsOp{Response: resp}
		f, ok := c.friends[leg.friend]
		if !ok {
			continue
		}
		mc, ok := f.TokenChannel.MutualCredit(leg.currency)
		if !ok {
			continue
		}
		if err := mc.ApplyOutgoing(op); err != nil {
			log.Errorf("commit invoice %x: applying response toward %s failed: %v", cmd.InvoiceId.Bytes(), leg.friend, err)
			continue
		}
		if _, err := c.store.Append(persist.ApplyOperation{PublicKey: leg.friend, Currency: leg.currency, Op: op, Outgoing: true}); err != nil {
			return crypto.Uid{}, fatal(err)
		}
		c.router.EnqueueBackward(leg.friend, leg.currency, op)
	}

	inv.status = invoiceCommitted
	return crypto.NewUid(), nil
}

// AddRelay records a relay server this node itself dials out to (rather
// than advertises to friends), kept for the front-end's own connectivity
// rather than any friend relationship (§6, SPEC_FULL.md Supplemented
// Feature 3).
type AddRelay struct {
	Relay wire.RelayAddressPort
}

func (cmd AddRelay) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	c.relayServers = append(c.relayServers, cmd.Relay)
	return crypto.NewUid(), nil
}

// RemoveRelay forgets a previously added relay server.
type RemoveRelay struct {
	Relay wire.RelayAddressPort
}

func (cmd RemoveRelay) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	out := c.relayServers[:0]
	for _, r := range c.relayServers {
		if r != cmd.Relay {
			out = append(out, r)
		}
	}
	c.relayServers = out
	return crypto.NewUid(), nil
}

// AddIndexServer registers an index server address this node reports
// capacity mutations to (§4.5, §6).
type AddIndexServer struct {
	Address string
}

func (cmd AddIndexServer) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	c.indexServers = append(c.indexServers, cmd.Address)
	return crypto.NewUid(), nil
}

// RemoveIndexServer forgets a previously added index server address.
type RemoveIndexServer struct {
	Address string
}

func (cmd RemoveIndexServer) apply(_ context.Context, c *Coordinator) (crypto.Uid, error) {
	out := c.indexServers[:0]
	for _, a := range c.indexServers {
		if a != cmd.Address {
			out = append(out, a)
		}
	}
	c.indexServers = out
	return crypto.NewUid(), nil
}

package funder

import (
	"context"
	"math/big"
	"net"
	"strconv"

	goerrors "github.com/go-errors/errors"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/persist"
	"github.com/freedomlayer/offset-sub002/router"
	"github.com/freedomlayer/offset-sub002/tokenchannel"
	"github.com/freedomlayer/offset-sub002/wire"
)

// Start restores persisted state (if any) and launches the run loop in
// its own goroutine, grounded on invoices/invoiceregistry.go's Start: one
// wg.Add(1) paired with one goroutine running run until quit closes.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.restore(ctx); err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return nil
}

// Stop signals the run loop to exit and waits for it, mirroring
// invoiceregistry.go's Stop: close(quit) then wg.Wait().
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	c.wg.Wait()
}

// run is the single goroutine that ever touches friends/router/liveness/
// index (§4.6, §5: "every message processed to completion before the
// next is dequeued"). Every branch fully handles one event, including any
// follow-up produce, before the next iteration of the loop.
func (c *Coordinator) run(ctx context.Context) {
	for {
		select {
		case env := <-c.commands:
			ack, err := env.cmd.apply(ctx, c)
			env.reply <- ackReply{ack: ack, err: err}
			if _, isFatal := err.(*goerrors.Error); isFatal {
				c.fatalf(ctx, "%T: %v", env.cmd, err)
				return
			}
			if err == nil {
				c.tryProduceAll(ctx)
			}

		case fm := <-c.friendMessages:
			c.handleFriendMessage(ctx, fm.from, fm.msg)
			c.tryProduceAll(ctx)

		case ev := <-c.livenessEvents:
			c.handleLivenessEvent(ctx, ev)

		case q := <-c.paymentStatusQueries:
			status, ok := c.router.PaymentStatus(q.paymentId)
			q.reply <- paymentStatusReply{status: status, ok: ok}

		case <-c.ticks:
			c.handleTick(ctx)

		case <-c.quit:
			return
		}
	}
}

// DeliverFriendMessage hands an inbound message from the transport
// collaborator to the run loop (§6 "Coordinator inbound (from
// transport)"). Best-effort: a full friend-message channel drops the message
// rather than blocking the transport's own read loop, trusting the
// liveness-driven resend to recover it.
func (c *Coordinator) DeliverFriendMessage(from crypto.PublicKey, msg wire.FriendMessage) {
	select {
	case c.friendMessages <- friendMessageEnvelope{from: from, msg: msg}:
	case <-c.quit:
	default:
		log.Warnf("dropping friend message from %s: coordinator busy", from)
	}
}

// ReportOnline/ReportOffline notify the run loop of a liveness transition
// observed by the transport collaborator.
func (c *Coordinator) ReportOnline(pk crypto.PublicKey) {
	c.reportLiveness(pk, livenessOnline)
}

func (c *Coordinator) ReportOffline(pk crypto.PublicKey) {
	c.reportLiveness(pk, livenessOffline)
}

func (c *Coordinator) reportLiveness(pk crypto.PublicKey, kind livenessEventKind) {
	select {
	case c.livenessEvents <- livenessEvent{kind: kind, pk: pk}:
	case <-c.quit:
	}
}

func (c *Coordinator) handleLivenessEvent(ctx context.Context, ev livenessEvent) {
	switch ev.kind {
	case livenessOnline:
		needsResend := c.liveness.SetOnline(ev.pk, true)
		if needsResend {
			c.resendRelays(ctx, ev.pk)
		}
		c.tryProduce(ctx, ev.pk)
	case livenessOffline:
		c.liveness.SetOnline(ev.pk, false)
	}
}

// handleTick runs the periodic relay-resend check (SPEC_FULL.md
// Supplemented Feature 3) -- the only work this Coordinator does on a
// bare timer rather than in direct response to a command or message.
func (c *Coordinator) handleTick(ctx context.Context) {
	for pk := range c.friends {
		if !c.liveness.AllowResend(pk) {
			continue
		}
		if _, needed := c.liveness.NeedsRelayResend(pk); needed {
			c.resendRelays(ctx, pk)
		}
	}
}

func (c *Coordinator) resendRelays(ctx context.Context, pk crypto.PublicKey) {
	f, ok := c.friends[pk]
	if !ok || len(f.Relays) == 0 {
		return
	}
	c.sendFriendMessage(ctx, pk, wire.RelaysUpdate{
		Generation: new(big.Int).SetUint64(f.SentRelaysGeneration),
		Relays:     f.Relays,
	})
}

// restore rebuilds friends/invoices from the persisted snapshot plus
// mutation-log tail (§6's restart procedure): the snapshot supplies every
// friend's recoverable TokenChannel state, and each tail mutation is then
// replayed in order exactly as it was originally applied, repopulating
// the pending transactions a snapshot deliberately omits. Router queues
// are not rebuilt.
func (c *Coordinator) restore(ctx context.Context) error {
	snap, tail, err := c.store.Restore()
	if err != nil {
		return fatal(err)
	}

	local, err := c.identity.PublicKey(ctx)
	if err != nil {
		return fatal(err)
	}

	for _, fs := range snap.Friends {
		balances := make([]tokenchannel.RestoredBalance, len(fs.Balances))
		for i, cb := range fs.Balances {
			balances[i] = tokenchannel.RestoredBalance{
				Currency: cb.Currency,
				Balance:  cb.Balance,
				Local:    requestsStatusFromBool(cb.RequestsLocal),
				Remote:   requestsStatusFromBool(cb.RequestsRemote),
			}
		}
		tc := tokenchannel.Restore(local, fs.PublicKey, c.identity, maxOperationsInBatch,
			balances, fs.Holder, fs.Inconsistent, fs.LastMoveTokenHash, fs.MoveTokenCounter, fs.InconsistencyCounter)

		relays := make([]wire.RelayAddressPort, 0, len(fs.Relays))
		for _, addr := range fs.Relays {
			relays = append(relays, parseRelayAddress(addr))
		}

		c.friends[fs.PublicKey] = &Friend{
			PublicKey:            fs.PublicKey,
			Name:                 fs.Name,
			Relays:               relays,
			SentRelaysGeneration: fs.SentRelaysGeneration,
			TokenChannel:         tc,
		}
		c.router.AddFriend(fs.PublicKey)
		c.liveness.AddFriend(fs.PublicKey)
		c.liveness.SetEnabled(fs.PublicKey, fs.Enabled)
	}

	for _, m := range tail {
		c.replayMutation(ctx, m)
	}
	return nil
}

// replayMutation applies one tail mutation to already-restored state.
// ApplyOperation is the only kind that must reach into a MutualCredit --
// every other kind's effect already lives entirely in the snapshot fields
// it was derived from, or is idempotent ephemeral bookkeeping like
// router/liveness membership already redone in restore's main loop.
// Outgoing records which of MutualCredit's two apply methods originally
// handled it, since they mutate different pending maps and are not
// interchangeable (persist.ApplyOperation's doc comment).
func (c *Coordinator) replayMutation(ctx context.Context, m persist.Mutation) {
	op, ok := m.(persist.ApplyOperation)
	if !ok {
		return
	}
	f, ok := c.friends[op.PublicKey]
	if !ok {
		return
	}
	mc, ok := f.TokenChannel.MutualCredit(op.Currency)
	if !ok {
		return
	}
	if op.Outgoing {
		if err := mc.ApplyOutgoing(op.Op); err != nil {
			log.Errorf("replaying outgoing op toward %s: %v", op.PublicKey, err)
		}
		return
	}
	if _, err := mc.ApplyIncoming(ctx, op.Op, mutualcredit.IncomingConfig{
		Rate:     f.TokenChannel.Rate(op.Currency),
		Identity: c.identity,
	}); err != nil {
		log.Errorf("replaying incoming op from %s: %v", op.PublicKey, err)
	}
}

func requestsStatusFromBool(open bool) mutualcredit.RequestsStatus {
	if open {
		return mutualcredit.Open
	}
	return mutualcredit.Closed
}

func formatRelayAddress(r wire.RelayAddressPort) string {
	return net.JoinHostPort(r.Host, strconv.FormatUint(uint64(r.Port), 10))
}

func parseRelayAddress(s string) wire.RelayAddressPort {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return wire.RelayAddressPort{Host: s}
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return wire.RelayAddressPort{Host: host, Port: uint16(port)}
}

// PaymentStatus reports the current status of a payment this node
// originated (§6). Safe to call concurrently with Start's run loop: the
// query is routed through the same channel every other access to
// router/liveness/friends state goes through, since router.Router
// itself is only ever touched by the run goroutine.
func (c *Coordinator) PaymentStatus(ctx context.Context, paymentId crypto.PaymentId) (router.PaymentStatus, bool) {
	reply := make(chan paymentStatusReply, 1)
	select {
	case c.paymentStatusQueries <- paymentStatusQuery{paymentId: paymentId, reply: reply}:
	case <-c.quit:
		return 0, false
	case <-ctx.Done():
		return 0, false
	}
	select {
	case r := <-reply:
		return r.status, r.ok
	case <-ctx.Done():
		return 0, false
	}
}

// Snapshot builds a Snapshot of every currently known friend, suitable
// for Store.WriteSnapshot (§6's periodic-snapshot procedure). seq is the
// mutation-log sequence number this snapshot reflects -- the caller reads
// it from the same Append call whose result it is taking a snapshot
// after, so nothing appended concurrently is lost.
func (c *Coordinator) Snapshot(seq uint64) persist.Snapshot {
	snap := persist.Snapshot{Seq: seq, Friends: make([]persist.FriendSnapshot, 0, len(c.friends))}
	for pk, f := range c.friends {
		fs := persist.FriendSnapshot{
			PublicKey:            pk,
			Name:                 f.Name,
			Enabled:              c.liveness.IsEnabled(pk),
			SentRelaysGeneration: f.SentRelaysGeneration,
			MoveTokenCounter:     f.TokenChannel.MoveTokenCounter(),
			InconsistencyCounter: f.TokenChannel.InconsistencyCounter(),
		}
		for _, r := range f.Relays {
			fs.Relays = append(fs.Relays, formatRelayAddress(r))
		}
		switch st := f.TokenChannel.Status().(type) {
		case tokenchannel.ConsistentIn:
			fs.Holder = true
			fs.LastMoveTokenHash = st.LastIncomingMoveTokenHashed
		case tokenchannel.ConsistentOut:
			fs.Holder = false
		case tokenchannel.Inconsistent:
			fs.Inconsistent = true
			fs.LastMoveTokenHash = crypto.HashBytes(st.LocalResetTerms.ResetToken.Bytes())
		}
		for _, cur := range f.TokenChannel.ActiveCurrencies() {
			mc, ok := f.TokenChannel.MutualCredit(cur)
			if !ok {
				continue
			}
			bal := mc.Balance()
			localOpen, remoteOpen := mc.RequestsStatusLocal(), mc.RequestsStatusRemote()
			fs.Balances = append(fs.Balances, persist.CurrencyBalance{
				Currency:       cur,
				Balance:        *bal,
				RequestsLocal:  localOpen == mutualcredit.Open,
				RequestsRemote: remoteOpen == mutualcredit.Open,
			})
		}
		snap.Friends = append(snap.Friends, fs)
	}
	return snap
}

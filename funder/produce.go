package funder

import (
	"context"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/persist"
	"github.com/freedomlayer/offset-sub002/tokenchannel"
)

// tryProduce drains pk's queued operations and any pending currencies_diff
// and, if the friend's TokenChannel currently holds the token (ConsistentIn)
// and there is anything to say, produces and sends the next MoveToken
// (§4.2, §4.6). tokenWanted is set when this node itself has more queued
// work than fit in the batch just produced, asking the peer to hand the
// token straight back (§4.2's "immediate turnaround" case).
//
// Grounded on the same principle ProduceOutgoing's own doc comment states:
// every operation here was already applied to its MutualCredit at enqueue
// time (commands.go, dispatch.go's forwarding/relaying paths) -- this
// function only decides when enough has accumulated to justify a round
// trip and persists the resulting move_token_counter advance before the
// message leaves the process.
func (c *Coordinator) tryProduce(ctx context.Context, pk crypto.PublicKey) {
	f, ok := c.friends[pk]
	if !ok {
		return
	}
	if _, ok := f.TokenChannel.Status().(tokenchannel.ConsistentIn); !ok {
		return
	}

	ops := c.router.Drain(pk)
	diffs := f.pendingDiffs
	if len(ops) == 0 && len(diffs) == 0 {
		return
	}

	tokenWanted := c.router.HasPending(pk)
	mtr, err := f.TokenChannel.ProduceOutgoing(ctx, ops, diffs, tokenWanted)
	if err != nil {
		c.fatalf(ctx, "producing MoveToken for %s: %v", pk, err)
		return
	}
	f.pendingDiffs = nil

	if _, err := c.store.Append(persist.AdvanceToken{
		PublicKey:        pk,
		Holder:           false,
		MoveTokenCounter: f.TokenChannel.MoveTokenCounter(),
	}); err != nil {
		c.fatalf(ctx, "persisting AdvanceToken (outgoing) for %s: %v", pk, err)
		return
	}

	c.sendFriendMessage(ctx, pk, mtr)
}

// tryProduceAll calls tryProduce for every friend with anything queued --
// used after a batch of dispatch.go's forwarding/relaying decisions may
// have left several friends' queues non-empty at once (one accepted
// MoveToken can forward to, and cancel backward toward, several different
// friends in a single pass).
func (c *Coordinator) tryProduceAll(ctx context.Context) {
	for pk := range c.friends {
		c.tryProduce(ctx, pk)
	}
}

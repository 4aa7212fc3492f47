// Package funder implements spec.md §4.6's Coordinator: the single-
// threaded cooperative event loop that multiplexes control commands from
// the front-end, friend messages from the transport collaborator,
// liveness events and timer ticks into ephemeral and persisted Funder
// state. It owns every Friend's TokenChannel, wires the Router/liveness/
// indexreport collaborators together, and is the only place in this
// module that calls into more than one of them at once -- every other
// package stays deliberately ignorant of its neighbors (§4.6's ownership
// split).
//
// Grounded on invoices/invoiceregistry.go's InvoiceRegistry: a struct
// holding several typed channels plus a quit channel and a WaitGroup,
// with Start launching exactly one goroutine that runs a single
// for-select loop until quit closes. The Coordinator generalizes that
// same shape to the four event sources §4.6 names.
package funder

import (
	"context"
	"math/big"
	"sync"

	"github.com/btcsuite/btclog"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/indexreport"
	"github.com/freedomlayer/offset-sub002/liveness"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/persist"
	"github.com/freedomlayer/offset-sub002/router"
	"github.com/freedomlayer/offset-sub002/tokenchannel"
	"github.com/freedomlayer/offset-sub002/wire"
)

// log is this package's logger, a no-op sink until UseLogger is called by
// the daemon's startup sequence (the FUND subsystem tag).
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by funder.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// maxOperationsInBatch bounds how many operations a single produced
// MoveToken may carry, passed straight through to every friend's
// TokenChannel.
const maxOperationsInBatch = 64

// Friend is one counterparty relationship: its TokenChannel (§4.2,
// multi-currency), its relay addresses and the generation the last
// RelaysUpdate was sent under. Enabled/disabled and online/offline are
// both liveness.Tracker's axes, independent of each other (a Disabled
// friend can still be online, and an Enabled friend can still be
// offline) -- Friend itself carries neither,
// so there is exactly one place that answers IsEnabled/IsOnline.
type Friend struct {
	PublicKey crypto.PublicKey
	Name      string

	Relays               []wire.RelayAddressPort
	SentRelaysGeneration uint64

	TokenChannel *tokenchannel.TokenChannel

	// pendingDiffs accumulates currencies_diff entries since the last
	// produced MoveToken -- TokenChannel itself has no notion of "not yet
	// sent", so the coordinator tracks this queue the same way the
	// Router tracks pending operations (§4.2 step 3).
	pendingDiffs []wire.CurrencyDiff
}

// invoiceStatus is the lifecycle of a locally-issued invoice (mirrors
// router.PaymentStatus's shape for the buyer side, SPEC_FULL.md's
// invoice lifecycle for the seller side).
type invoiceStatus int

const (
	invoiceOpen invoiceStatus = iota
	invoiceCommitted
	invoiceCanceled
)

// incomingLeg is one PendingTransaction this node is the Destination of,
// parked after router.HandleIncomingRequest reports
// ForwardDestinationReached, awaiting the invoice it names to be
// committed or canceled.
type incomingLeg struct {
	friend   crypto.PublicKey
	currency currency.Currency
	pending  *mutualcredit.PendingTransaction
}

// invoiceState is one invoice this node issued via AddInvoice: the
// currency and total it expects, and every incoming leg parked against it
// so far (a multi-route payment may deliver several legs, across
// different friends, before enough of TotalDestPayment has arrived to
// commit). Each leg carries its own originating payment's hashed lock
// (leg.pending.SrcHashedLock) -- CommitInvoice echoes it back rather than
// minting an invoice-wide lock, since legs parked against one invoice may
// come from unrelated payments each with their own buyer-generated lock.
type invoiceState struct {
	currency         currency.Currency
	totalDestPayment *big.Int
	status           invoiceStatus
	legs             map[crypto.Uid]*incomingLeg
}

// TransportClient is the outbound half of the transport collaborator
// (§6 "Coordinator outbound (to transport)"): deliver msg to pk, best
// effort -- the liveness/resend machinery is what makes delivery
// eventually reliable across disconnects, not this call itself. Kept as
// a bare interface per SPEC_FULL.md's "stays external" directive; no
// concrete implementation lives in this module.
type TransportClient interface {
	SendFriendMessage(ctx context.Context, pk crypto.PublicKey, msg wire.FriendMessage) error
}

// IndexClient is the outbound half of the index collaborator (§6
// "Coordinator outbound (to index collaborator)"). Route discovery
// itself is a Non-goal (§1); this interface exists only so the
// Coordinator can report capacity mutations, never to query routes.
type IndexClient interface {
	ReportMutation(ctx context.Context, m indexreport.IndexMutation) error
}

// RelayDialer is the external collaborator that actually maintains
// connections to a friend's advertised relays. The Coordinator only
// decides *when* a relay announcement needs (re)sending (via liveness);
// establishing the connection itself is out of scope here.
type RelayDialer interface {
	Dial(ctx context.Context, relays []wire.RelayAddressPort) error
}

// ackReply is delivered back to SubmitCommand once a Command has
// finished executing -- successfully persisted, or failed as a
// local-caller error (§7) that left state unchanged.
type ackReply struct {
	ack crypto.Uid
	err error
}

// commandEnvelope pairs a Command with the channel its result is
// delivered on, so SubmitCommand can block until the single-threaded
// loop has processed it to completion (§5: "every message processed to
// completion before the next is dequeued").
type commandEnvelope struct {
	cmd   Command
	reply chan ackReply
}

// friendMessageEnvelope is one inbound FriendMessage from the transport
// collaborator.
type friendMessageEnvelope struct {
	from crypto.PublicKey
	msg  wire.FriendMessage
}

// livenessEventKind distinguishes the two liveness transitions the loop
// reacts to.
type livenessEventKind int

const (
	livenessOnline livenessEventKind = iota
	livenessOffline
)

// livenessEvent is a liveness transition reported by the transport
// collaborator.
type livenessEvent struct {
	kind livenessEventKind
	pk   crypto.PublicKey
}

// paymentStatusQuery is a read-only request for a locally-originated
// payment's status (§6), routed through the run loop like every other
// access to router state rather than read directly -- router.Router is
// not safe for concurrent access from outside the run goroutine.
type paymentStatusQuery struct {
	paymentId crypto.PaymentId
	reply     chan paymentStatusReply
}

type paymentStatusReply struct {
	status router.PaymentStatus
	ok     bool
}

// Coordinator is the Funder's event loop (§4.6). Exactly one goroutine
// (run) ever touches friends/router/liveness/index -- every other method
// either sends on a channel the loop reads, or is safe to call
// concurrently because it touches none of that state (e.g. UseLogger).
type Coordinator struct {
	localPublicKey crypto.PublicKey
	identity       crypto.IdentityClient

	store       *persist.Store
	router      *router.Router
	liveness    *liveness.Tracker
	index       *indexreport.Reporter
	transport   TransportClient
	indexOut    IndexClient
	relayDialer RelayDialer

	friends      map[crypto.PublicKey]*Friend
	invoices     map[crypto.InvoiceId]*invoiceState
	relayServers []wire.RelayAddressPort
	indexServers []string

	commands             chan commandEnvelope
	friendMessages       chan friendMessageEnvelope
	livenessEvents       chan livenessEvent
	paymentStatusQueries chan paymentStatusQuery
	ticks                <-chan struct{}

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// currencyView adapts Coordinator to router.CurrencyView.
type currencyView struct{ c *Coordinator }

func (v currencyView) HasActiveCurrency(pk crypto.PublicKey, cur currency.Currency) bool {
	f, ok := v.c.friends[pk]
	if !ok {
		return false
	}
	_, ok = f.TokenChannel.MutualCredit(cur)
	return ok
}

// New constructs a Coordinator for localPublicKey. ticks is an external
// clock (e.g. time.Tick's channel, narrowed to struct{}) driving periodic
// work such as relay-resend checks; a nil channel disables tick-driven
// work (tests can drive everything through direct command/message
// submission instead).
func New(localPublicKey crypto.PublicKey, identity crypto.IdentityClient, store *persist.Store, transport TransportClient, indexOut IndexClient, ticks <-chan struct{}) *Coordinator {
	c := &Coordinator{
		localPublicKey:  localPublicKey,
		identity:        identity,
		store:           store,
		liveness:        liveness.New(),
		index:           indexreport.New(),
		transport:       transport,
		indexOut:        indexOut,
		friends:         make(map[crypto.PublicKey]*Friend),
		invoices:        make(map[crypto.InvoiceId]*invoiceState),
		commands:             make(chan commandEnvelope, 32),
		friendMessages:       make(chan friendMessageEnvelope, 32),
		livenessEvents:       make(chan livenessEvent, 32),
		paymentStatusQueries: make(chan paymentStatusQuery, 32),
		ticks:                ticks,
		quit:                 make(chan struct{}),
	}
	c.router = router.New(localPublicKey, c.liveness, currencyView{c})
	return c
}

// SetRelayDialer wires the collaborator that actually maintains relay
// connections. Optional: a Coordinator with none simply never dials out
// on a peer's RelaysUpdate, acking it but leaving connectivity to however
// the transport already found this friend.
func (c *Coordinator) SetRelayDialer(d RelayDialer) {
	c.relayDialer = d
}

// zeroRate is the default forwarding fee (none) a currency starts with
// until SetFriendCurrencyRate configures it.
var zeroRate = mutualcredit.FeeRate{Mul: big.NewInt(0), Add: big.NewInt(0)}

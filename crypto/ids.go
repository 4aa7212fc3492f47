package crypto

import "github.com/google/uuid"

// NewUid generates a fresh request/command correlation id for use when no
// counterparty has already supplied one -- a locally-initiated command
// (§6's "fresh Uid" on every coordinator inbound command) or a per-leg
// request id minted while preparing a multi-route payment. uuid.New's
// version-4 randomness gives the same collision resistance a raw
// crypto/rand read would, with the added benefit of a standard,
// inspectable id shape when these turn up in logs.
func NewUid() Uid {
	var u Uid
	copy(u[:], uuid.New()[:])
	return u
}

// NewPaymentId generates a fresh PaymentId for a locally-initiated
// RequestSendFunds command.
func NewPaymentId() PaymentId {
	var p PaymentId
	copy(p[:], uuid.New()[:])
	return p
}

// NewInvoiceId generates a fresh InvoiceId for a locally-issued AddInvoice
// command. Two uuid.New draws are concatenated since InvoiceId is twice
// the width of a single UUID.
func NewInvoiceId() InvoiceId {
	var i InvoiceId
	copy(i[:16], uuid.New()[:])
	copy(i[16:], uuid.New()[:])
	return i
}

// NewPlainLock generates a fresh PlainLock pre-image for a payment's
// destination to commit to via its HashLock before revealing it on
// completion.
func NewPlainLock() PlainLock {
	var p PlainLock
	copy(p[:16], uuid.New()[:])
	copy(p[16:], uuid.New()[:])
	return p
}

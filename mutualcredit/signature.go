package mutualcredit

import (
	"encoding/binary"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
)

// BuildResponseSignatureBuffer constructs the fingerprint an McResponse's
// signature covers: "a fingerprint that binds currency, request_id, the
// source and destination hashed locks, totals, and rand_nonce" (§3). The
// payment's destination signs this buffer; every later holder of the
// PendingTransaction can recompute it and verify the signature without
// needing to trust the transport that carried the response.
func BuildResponseSignatureBuffer(cur currency.Currency, resp McResponse, pt *PendingTransaction) []byte {
	var buf []byte
	buf = append(buf, []byte(cur)...)
	buf = append(buf, resp.RequestId.Bytes()...)
	buf = append(buf, pt.SrcHashedLock.Bytes()...)
	buf = append(buf, resp.DestHashedLock.Bytes()...)

	destPaymentBuf := make([]byte, 16)
	putBigIntBE(destPaymentBuf, pt.DestPayment)
	buf = append(buf, destPaymentBuf...)

	totalBuf := make([]byte, 16)
	putBigIntBE(totalBuf, pt.TotalDestPayment)
	buf = append(buf, totalBuf...)

	buf = append(buf, resp.RandNonce.Bytes()...)

	var complete byte
	if resp.IsComplete {
		complete = 1
	}
	buf = append(buf, complete)

	return buf
}

// putBigIntBE writes n into dst as a big-endian, zero-padded integer. dst
// must be large enough to hold n; overflow checks have already run by the
// time this is called from a validated McBalance path.
func putBigIntBE(dst []byte, n interface{ Bytes() []byte }) {
	raw := n.Bytes()
	if len(raw) > len(dst) {
		raw = raw[len(raw)-len(dst):]
	}
	copy(dst[len(dst)-len(raw):], raw)
}

// uid64 is a deterministic non-cryptographic fold of a Uid's first eight
// bytes into a uint64.
func uid64(u crypto.Uid) uint64 {
	return binary.BigEndian.Uint64(u[:8])
}

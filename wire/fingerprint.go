package wire

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// Fingerprint computes the buffer a MoveToken's new_token signature
// covers, per §4.2: "fingerprint covers old_token, currencies_operations,
// currencies_diff, move_token_counter+1, info_hash, rand_nonce, local and
// remote public keys" -- and per §6, "serialized in this exact logical
// order for signature-fingerprint stability": old_token,
// currencies_operations (ordered by currency bytes lex), currencies_diff
// (sorted), info_hash, move_token_counter, rand_nonce.
//
// This hand-rolled encoding (rather than a general-purpose serializer
// such as golang/protobuf) is deliberate: a
// signature fingerprint must be byte-for-byte reproducible by both
// parties forever, and protobuf's map and field ordering is not part of
// its wire-compatibility contract. See DESIGN.md.
func Fingerprint(mt MoveToken, nextCounter *big.Int, localPk, remotePk crypto.PublicKey) []byte {
	var buf bytes.Buffer

	buf.Write(mt.OldToken.Bytes())

	for _, cur := range mt.SortedCurrencies() {
		buf.WriteString(string(cur))
		ops := mt.CurrenciesOperations[cur]
		writeUint64(&buf, uint64(len(ops)))
		for _, op := range ops {
			encodeOperation(&buf, op)
		}
	}

	for _, diff := range mt.SortedCurrenciesDiff() {
		buf.WriteString(string(diff.Currency))
		if diff.Add {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	buf.Write(mt.InfoHash.Bytes())
	writeBigInt128(&buf, nextCounter)
	buf.Write(mt.RandNonce.Bytes())
	buf.Write(localPk.Bytes())
	buf.Write(remotePk.Bytes())

	return buf.Bytes()
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBigInt128(buf *bytes.Buffer, n *big.Int) {
	var b [16]byte
	raw := n.Bytes()
	if len(raw) > 16 {
		raw = raw[len(raw)-16:]
	}
	copy(b[16-len(raw):], raw)
	buf.Write(b[:])
}

func writeBigIntSigned128(buf *bytes.Buffer, n *big.Int) {
	// Two's-complement encode over 16 bytes so a negative balance is
	// unambiguous on the wire.
	var unsigned big.Int
	if n.Sign() < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		unsigned.Add(mod, n)
	} else {
		unsigned.Set(n)
	}
	writeBigInt128(buf, &unsigned)
}

// encodeOperation writes a tagged, deterministic encoding of op. The tag
// byte matches mutualcredit.OpType so both parties independently derive
// the same fingerprint from the same in-memory operation list.
func encodeOperation(buf *bytes.Buffer, op mutualcredit.Operation) {
	buf.WriteByte(byte(op.OpType()))

	switch o := op.(type) {
	case mutualcredit.EnableRequestsOp, mutualcredit.DisableRequestsOp:
		// No payload.

	case mutualcredit.SetRemoteMaxDebtOp:
		writeBigInt128(buf, o.MaxDebt)

	case mutualcredit.RequestSendFundsOp:
		r := o.Request
		buf.Write(r.RequestId.Bytes())
		buf.Write(r.SrcHashedLock.Bytes())
		writeUint64(buf, uint64(len(r.Route)))
		for _, pk := range r.Route {
			buf.Write(pk.Bytes())
		}
		writeBigInt128(buf, r.DestPayment)
		writeBigInt128(buf, r.TotalDestPayment)
		buf.Write(r.InvoiceId.Bytes())
		writeBigInt128(buf, r.LeftFees)
		buf.Write(r.Destination.Bytes())

	case mutualcredit.ResponseSendFundsOp:
		r := o.Response
		buf.Write(r.RequestId.Bytes())
		buf.Write(r.DestHashedLock.Bytes())
		if r.IsComplete {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write(r.RandNonce.Bytes())
		buf.Write(r.Signature.Bytes())

	case mutualcredit.CancelSendFundsOp:
		buf.Write(o.Cancel.RequestId.Bytes())
	}
}

// ResetFingerprint computes the buffer a ResetTerms' reset_token signature
// covers: the proposed inconsistency_counter and the sorted list of
// per-currency balance_for_reset values (§4.2 "Inconsistency resolution").
// Kept separate from Fingerprint because reset terms are a distinct signed
// statement from a MoveToken, covering a different, smaller set of fields.
func ResetFingerprint(inconsistencyCounter uint64, balances []CurrencyBalance, localPk, remotePk crypto.PublicKey) []byte {
	var buf bytes.Buffer

	writeUint64(&buf, inconsistencyCounter)

	sorted := append([]CurrencyBalance(nil), balances...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && currency.Less(sorted[j].Currency, sorted[j-1].Currency); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	writeUint64(&buf, uint64(len(sorted)))
	for _, b := range sorted {
		buf.WriteString(string(b.Currency))
		writeBigIntSigned128(&buf, b.BalanceForReset)
	}

	buf.Write(localPk.Bytes())
	buf.Write(remotePk.Bytes())

	return buf.Bytes()
}

// InfoHash computes §4.2's info_hash: "a deterministic hash of the sorted
// list of (currency, balance, local_pending_debt, remote_pending_debt,
// in_fees, out_fees) tuples after applying the operations".
func InfoHash(tuples []mutualcredit.InfoHashTuple) crypto.Hash {
	sorted := append([]mutualcredit.InfoHashTuple(nil), tuples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && currency.Less(sorted[j].Currency, sorted[j-1].Currency); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var buf bytes.Buffer
	for _, t := range sorted {
		buf.WriteString(string(t.Currency))
		writeBigIntSigned128(&buf, t.Balance)
		writeBigInt128(&buf, t.LocalPendingDebt)
		writeBigInt128(&buf, t.RemotePendingDebt)
		writeBigInt256(&buf, t.InFees)
		writeBigInt256(&buf, t.OutFees)
	}
	return crypto.HashBytes(buf.Bytes())
}

func writeBigInt256(buf *bytes.Buffer, n *big.Int) {
	var b [32]byte
	raw := n.Bytes()
	if len(raw) > 32 {
		raw = raw[len(raw)-32:]
	}
	copy(b[32-len(raw):], raw)
	buf.Write(b[:])
}

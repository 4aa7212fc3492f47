package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// Marshal encodes mt into a self-describing byte slice that Unmarshal can
// invert exactly, preserving every field (§8 Laws: "Roundtrip (serialize,
// deserialize) of MoveToken preserves every field"). This is distinct from
// Fingerprint, which produces a one-way buffer for signing; Marshal/
// Unmarshal is what actually crosses the wire inside a MoveTokenRequest.
func (mt MoveToken) Marshal() ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(mt.OldToken.Bytes())

	currencies := mt.SortedCurrencies()
	writeUint64(&buf, uint64(len(currencies)))
	for _, cur := range currencies {
		if err := writeString(&buf, string(cur)); err != nil {
			return nil, err
		}
		ops := mt.CurrenciesOperations[cur]
		writeUint64(&buf, uint64(len(ops)))
		for _, op := range ops {
			if err := marshalOperation(&buf, op); err != nil {
				return nil, err
			}
		}
	}

	diffs := mt.SortedCurrenciesDiff()
	writeUint64(&buf, uint64(len(diffs)))
	for _, d := range diffs {
		if err := writeString(&buf, string(d.Currency)); err != nil {
			return nil, err
		}
		if d.Add {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	buf.Write(mt.InfoHash.Bytes())
	if err := writeBigIntLenPrefixed(&buf, mt.MoveTokenCounter); err != nil {
		return nil, err
	}
	buf.Write(mt.RandNonce.Bytes())
	buf.Write(mt.NewToken.Bytes())

	return buf.Bytes(), nil
}

// UnmarshalMoveToken decodes a buffer produced by MoveToken.Marshal.
func UnmarshalMoveToken(data []byte) (MoveToken, error) {
	r := bytes.NewReader(data)
	var mt MoveToken

	if err := readFixed(r, mt.OldToken[:]); err != nil {
		return mt, err
	}

	numCurrencies, err := readUint64(r)
	if err != nil {
		return mt, err
	}
	mt.CurrenciesOperations = make(map[currency.Currency][]mutualcredit.Operation, numCurrencies)
	for i := uint64(0); i < numCurrencies; i++ {
		s, err := readString(r)
		if err != nil {
			return mt, err
		}
		cur, err := currency.New(s)
		if err != nil {
			return mt, err
		}
		numOps, err := readUint64(r)
		if err != nil {
			return mt, err
		}
		ops := make([]mutualcredit.Operation, 0, numOps)
		for j := uint64(0); j < numOps; j++ {
			op, err := unmarshalOperation(r)
			if err != nil {
				return mt, err
			}
			ops = append(ops, op)
		}
		mt.CurrenciesOperations[cur] = ops
	}

	numDiffs, err := readUint64(r)
	if err != nil {
		return mt, err
	}
	mt.CurrenciesDiff = make([]CurrencyDiff, 0, numDiffs)
	for i := uint64(0); i < numDiffs; i++ {
		s, err := readString(r)
		if err != nil {
			return mt, err
		}
		cur, err := currency.New(s)
		if err != nil {
			return mt, err
		}
		addByte, err := readByte(r)
		if err != nil {
			return mt, err
		}
		mt.CurrenciesDiff = append(mt.CurrenciesDiff, CurrencyDiff{Currency: cur, Add: addByte == 1})
	}

	if err := readFixed(r, mt.InfoHash[:]); err != nil {
		return mt, err
	}
	counter, err := readBigIntLenPrefixed(r)
	if err != nil {
		return mt, err
	}
	mt.MoveTokenCounter = counter

	if err := readFixed(r, mt.RandNonce[:]); err != nil {
		return mt, err
	}
	if err := readFixed(r, mt.NewToken[:]); err != nil {
		return mt, err
	}

	return mt, nil
}

// MarshalOperation encodes a single Operation using the same tagged
// byte format used inside a MoveToken's currencies_operations -- exposed
// so other packages (persist's mutation log) can reuse this codec
// instead of maintaining a second encoding for the same types.
func MarshalOperation(op mutualcredit.Operation) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalOperation(&buf, op); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalOperation inverts MarshalOperation.
func UnmarshalOperation(data []byte) (mutualcredit.Operation, error) {
	return unmarshalOperation(bytes.NewReader(data))
}

func marshalOperation(buf *bytes.Buffer, op mutualcredit.Operation) error {
	buf.WriteByte(byte(op.OpType()))
	switch o := op.(type) {
	case mutualcredit.EnableRequestsOp, mutualcredit.DisableRequestsOp:
		return nil

	case mutualcredit.SetRemoteMaxDebtOp:
		return writeBigIntLenPrefixed(buf, o.MaxDebt)

	case mutualcredit.RequestSendFundsOp:
		r := o.Request
		buf.Write(r.RequestId.Bytes())
		buf.Write(r.SrcHashedLock.Bytes())
		writeUint64(buf, uint64(len(r.Route)))
		for _, pk := range r.Route {
			buf.Write(pk.Bytes())
		}
		if err := writeBigIntLenPrefixed(buf, r.DestPayment); err != nil {
			return err
		}
		if err := writeBigIntLenPrefixed(buf, r.TotalDestPayment); err != nil {
			return err
		}
		buf.Write(r.InvoiceId.Bytes())
		if err := writeBigIntLenPrefixed(buf, r.LeftFees); err != nil {
			return err
		}
		buf.Write(r.Destination.Bytes())
		return nil

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
		return nil

	case mutualcredit.CancelSendFundsOp:
		buf.Write(o.Cancel.RequestId.Bytes())
		return nil

	default:
		return fmt.Errorf("wire: unknown operation type %T", op)
	}
}

func unmarshalOperation(r *bytes.Reader) (mutualcredit.Operation, error) {
	tagByte, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch mutualcredit.OpType(tagByte) {
	case mutualcredit.OpEnableRequests:
		return mutualcredit.EnableRequestsOp{}, nil
	case mutualcredit.OpDisableRequests:
		return mutualcredit.DisableRequestsOp{}, nil
	case mutualcredit.OpSetRemoteMaxDebt:
		n, err := readBigIntLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		return mutualcredit.SetRemoteMaxDebtOp{MaxDebt: n}, nil
	case mutualcredit.OpRequestSendFunds:
		var req mutualcredit.McRequest
		if err := readFixed(r, req.RequestId[:]); err != nil {
			return nil, err
		}
		if err := readFixed(r, req.SrcHashedLock[:]); err != nil {
			return nil, err
		}
		numHops, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		req.Route = make([]crypto.PublicKey, numHops)
		for i := range req.Route {
			if err := readFixed(r, req.Route[i][:]); err != nil {
				return nil, err
			}
		}
		if req.DestPayment, err = readBigIntLenPrefixed(r); err != nil {
			return nil, err
		}
		if req.TotalDestPayment, err = readBigIntLenPrefixed(r); err != nil {
			return nil, err
		}
		if err := readFixed(r, req.InvoiceId[:]); err != nil {
			return nil, err
		}
		if req.LeftFees, err = readBigIntLenPrefixed(r); err != nil {
			return nil, err
		}
		if err := readFixed(r, req.Destination[:]); err != nil {
			return nil, err
		}
		return mutualcredit.RequestSendFundsOp{Request: req}, nil
	case mutualcredit.OpResponseSendFunds:
		var resp mutualcredit.McResponse
		if err := readFixed(r, resp.RequestId[:]); err != nil {
			return nil, err
		}
		if err := readFixed(r, resp.DestHashedLock[:]); err != nil {
			return nil, err
		}
		completeByte, err := readByte(r)
		if err != nil {
			return nil, err
		}
		resp.IsComplete = completeByte == 1
		if err := readFixed(r, resp.RandNonce[:]); err != nil {
			return nil, err
		}
		if err := readFixed(r, resp.Signature[:]); err != nil {
			return nil, err
		}
		return mutualcredit.ResponseSendFundsOp{Response: resp}, nil
	case mutualcredit.OpCancelSendFunds:
		var c mutualcredit.McCancel
		if err := readFixed(r, c.RequestId[:]); err != nil {
			return nil, err
		}
		return mutualcredit.CancelSendFundsOp{Cancel: c}, nil
	default:
		return nil, fmt.Errorf("wire: unknown operation tag %d", tagByte)
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xff {
		return fmt.Errorf("wire: string too long: %d", len(s))
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readByte(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readN(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBigIntLenPrefixed(buf *bytes.Buffer, n *big.Int) error {
	sign := byte(0)
	if n.Sign() < 0 {
		sign = 1
	}
	raw := new(big.Int).Abs(n).Bytes()
	if len(raw) > 0xff {
		return fmt.Errorf("wire: big.Int too large: %d bytes", len(raw))
	}
	buf.WriteByte(sign)
	buf.WriteByte(byte(len(raw)))
	buf.Write(raw)
	return nil
}

func readBigIntLenPrefixed(r *bytes.Reader) (*big.Int, error) {
	sign, err := readByte(r)
	if err != nil {
		return nil, err
	}
	length, err := readByte(r)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, length)
	if _, err := readN(r, raw); err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(raw)
	if sign == 1 {
		n.Neg(n)
	}
	return n, nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readN(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readByte(r *bytes.Reader) (byte, error) {
	return r.ReadByte()
}

func readN(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, fmt.Errorf("wire: short read: wanted %d, got %d", len(b), n)
	}
	return n, nil
}

func readFixed(r *bytes.Reader, b []byte) error {
	_, err := readN(r, b)
	return err
}

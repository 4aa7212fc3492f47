package persist

import (
	"bytes"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

// mutationKind tags each Mutation variant on the wire, the same
// sum-type-as-interface convention used for mutualcredit.Operation and
// tokenchannel.TcStatus.
type mutationKind byte

const (
	kindAddFriend mutationKind = iota
	kindRemoveFriend
	kindSetFriendEnabled
	kindSetFriendName
	kindOpenCurrency
	kindCloseCurrency
	kindSetMaxDebt
	kindSetRate
	kindApplyOperation
	kindAdvanceToken
	kindInconsistent
	kindRelayGeneration
)

// Mutation is one durable, ordered fact about Funder state (§6
// "Persisted state"). Every coordinator command that changes state
// beyond ephemeral bookkeeping produces one or more of these before the
// corresponding outgoing message is allowed to be emitted (§5's
// shared-resource policy).
type Mutation interface {
	marshalInto(buf *bytes.Buffer) error
}

// AddFriend records a newly created friend relationship.
type AddFriend struct {
	PublicKey crypto.PublicKey
	Name      string
}

func (m AddFriend) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindAddFriend))
	buf.Write(m.PublicKey.Bytes())
	writeString(buf, m.Name)
	return nil
}

// RemoveFriend records a friend's removal.
type RemoveFriend struct {
	PublicKey crypto.PublicKey
}

func (m RemoveFriend) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindRemoveFriend))
	buf.Write(m.PublicKey.Bytes())
	return nil
}

// SetFriendEnabled records an EnableFriend/DisableFriend command.
type SetFriendEnabled struct {
	PublicKey crypto.PublicKey
	Enabled   bool
}

func (m SetFriendEnabled) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindSetFriendEnabled))
	buf.Write(m.PublicKey.Bytes())
	writeBool(buf, m.Enabled)
	return nil
}

// SetFriendName records a SetFriendName command.
type SetFriendName struct {
	PublicKey crypto.PublicKey
	Name      string
}

func (m SetFriendName) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindSetFriendName))
	buf.Write(m.PublicKey.Bytes())
	writeString(buf, m.Name)
	return nil
}

// OpenCurrency records an OpenFriendCurrency command.
type OpenCurrency struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
}

func (m OpenCurrency) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindOpenCurrency))
	buf.Write(m.PublicKey.Bytes())
	writeString(buf, string(m.Currency))
	return nil
}

// CloseCurrency records a CloseFriendCurrency/RemoveFriendCurrency
// command.
type CloseCurrency struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
}

func (m CloseCurrency) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindCloseCurrency))
	buf.Write(m.PublicKey.Bytes())
	writeString(buf, string(m.Currency))
	return nil
}

// SetMaxDebt records a SetFriendCurrencyMaxDebt command (Local is true
// when this is our own outgoing SetRemoteMaxDebt, false when it
// reflects the peer's).
type SetMaxDebt struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
	Local     bool
	MaxDebt   *big.Int
}

func (m SetMaxDebt) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindSetMaxDebt))
	buf.Write(m.PublicKey.Bytes())
	writeString(buf, string(m.Currency))
	writeBool(buf, m.Local)
	writeBigInt(buf, m.MaxDebt)
	return nil
}

// SetRate records a SetFriendCurrencyRate command.
type SetRate struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
	Rate      mutualcredit.FeeRate
}

func (m SetRate) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindSetRate))
	buf.Write(m.PublicKey.Bytes())
	writeString(buf, string(m.Currency))
	writeBigInt(buf, m.Rate.Mul)
	writeBigInt(buf, m.Rate.Add)
	return nil
}

// ApplyOperation records one accepted mutualcredit.Operation -- the
// ledger-level effect of a RequestSendFunds/ResponseSendFunds/
// CancelSendFunds/EnableRequests/DisableRequests/SetRemoteMaxDebt having
// been applied through Outgoing or Incoming MC. It reuses wire's
// MoveToken operation codec rather than a second encoding for the same
// types.
type ApplyOperation struct {
	PublicKey crypto.PublicKey
	Currency  currency.Currency
	Op        mutualcredit.Operation

	// Outgoing is true when Op was applied via this side's own
	// MutualCredit.ApplyOutgoing (a request we originated or forwarded, a
	// response/cancel we relayed or answered), false when it arrived from
	// the peer via ApplyIncoming. Replay needs this to call the matching
	// method -- the two sides of MutualCredit mutate different pending
	// maps and are not interchangeable.
	Outgoing bool
}

func (m ApplyOperation) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindApplyOperation))
	buf.Write(m.PublicKey.Bytes())
	writeString(buf, string(m.Currency))
	opBytes, err := wire.MarshalOperation(m.Op)
	if err != nil {
		return err
	}
	writeBytes(buf, opBytes)
	writeBool(buf, m.Outgoing)
	return nil
}

// AdvanceToken records a TokenChannel transition to ConsistentIn (Holder
// true) or ConsistentOut (Holder false) following a successfully
// produced or processed MoveToken.
type AdvanceToken struct {
	PublicKey        crypto.PublicKey
	Holder           bool
	MoveTokenHash    crypto.Hash
	MoveTokenCounter *big.Int
}

func (m AdvanceToken) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindAdvanceToken))
	buf.Write(m.PublicKey.Bytes())
	writeBool(buf, m.Holder)
	buf.Write(m.MoveTokenHash.Bytes())
	writeBigInt(buf, m.MoveTokenCounter)
	return nil
}

// Inconsistent records a TokenChannel transitioning to Inconsistent.
type Inconsistent struct {
	PublicKey            crypto.PublicKey
	InconsistencyCounter uint64
	LocalResetToken      crypto.Signature
}

func (m Inconsistent) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindInconsistent))
	buf.Write(m.PublicKey.Bytes())
	writeUint64(buf, m.InconsistencyCounter)
	buf.Write(m.LocalResetToken.Bytes())
	return nil
}

// RelayGeneration records a relay-handshake generation advance (§6
// RelaysUpdate{generation}).
type RelayGeneration struct {
	PublicKey  crypto.PublicKey
	Generation uint64
}

func (m RelayGeneration) marshalInto(buf *bytes.Buffer) error {
	buf.WriteByte(byte(kindRelayGeneration))
	buf.Write(m.PublicKey.Bytes())
	writeUint64(buf, m.Generation)
	return nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := readByte(r)
	if err != nil {
		return false, err
	}
	return b == 1, nil
}

// MarshalMutation encodes m into its persisted byte form.
func MarshalMutation(m Mutation) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.marshalInto(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMutation inverts MarshalMutation.
func UnmarshalMutation(data []byte) (Mutation, error) {
	r := bytes.NewReader(data)
	tag, err := readByte(r)
	if err != nil {
		return nil, err
	}

	var pk crypto.PublicKey
	readPk := func() error { return readFixed(r, pk[:]) }

	switch mutationKind(tag) {
	case kindAddFriend:
		if err := readPk(); err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		return AddFriend{PublicKey: pk, Name: name}, nil

	case kindRemoveFriend:
		if err := readPk(); err != nil {
			return nil, err
		}
		return RemoveFriend{PublicKey: pk}, nil

	case kindSetFriendEnabled:
		if err := readPk(); err != nil {
			return nil, err
		}
		enabled, err := readBool(r)
		if err != nil {
			return nil, err
		}
		return SetFriendEnabled{PublicKey: pk, Enabled: enabled}, nil

	case kindSetFriendName:
		if err := readPk(); err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		return SetFriendName{PublicKey: pk, Name: name}, nil

	case kindOpenCurrency:
		if err := readPk(); err != nil {
			return nil, err
		}
		cur, err := readString(r)
		if err != nil {
			return nil, err
		}
		return OpenCurrency{PublicKey: pk, Currency: currency.Currency(cur)}, nil

	case kindCloseCurrency:
		if err := readPk(); err != nil {
			return nil, err
		}
		cur, err := readString(r)
		if err != nil {
			return nil, err
		}
		return CloseCurrency{PublicKey: pk, Currency: currency.Currency(cur)}, nil

	case kindSetMaxDebt:
		if err := readPk(); err != nil {
			return nil, err
		}
		cur, err := readString(r)
		if err != nil {
			return nil, err
		}
		local, err := readBool(r)
		if err != nil {
			return nil, err
		}
		maxDebt, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		return SetMaxDebt{PublicKey: pk, Currency: currency.Currency(cur), Local: local, MaxDebt: maxDebt}, nil

	case kindSetRate:
		if err := readPk(); err != nil {
			return nil, err
		}
		cur, err := readString(r)
		if err != nil {
			return nil, err
		}
		mul, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		add, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		return SetRate{PublicKey: pk, Currency: currency.Currency(cur), Rate: mutualcredit.FeeRate{Mul: mul, Add: add}}, nil

	case kindApplyOperation:
		if err := readPk(); err != nil {
			return nil, err
		}
		cur, err := readString(r)
		if err != nil {
			return nil, err
		}
		opBytes, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		op, err := wire.UnmarshalOperation(opBytes)
		if err != nil {
			return nil, err
		}
		outgoing, err := readBool(r)
		if err != nil {
			return nil, err
		}
		return ApplyOperation{PublicKey: pk, Currency: currency.Currency(cur), Op: op, Outgoing: outgoing}, nil

	case kindAdvanceToken:
		if err := readPk(); err != nil {
			return nil, err
		}
		holder, err := readBool(r)
		if err != nil {
			return nil, err
		}
		var hash crypto.Hash
		if err := readFixed(r, hash[:]); err != nil {
			return nil, err
		}
		counter, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		return AdvanceToken{PublicKey: pk, Holder: holder, MoveTokenHash: hash, MoveTokenCounter: counter}, nil

	case kindInconsistent:
		if err := readPk(); err != nil {
			return nil, err
		}
		counter, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		var sig crypto.Signature
		if err := readFixed(r, sig[:]); err != nil {
			return nil, err
		}
		return Inconsistent{PublicKey: pk, InconsistencyCounter: counter, LocalResetToken: sig}, nil

	case kindRelayGeneration:
		if err := readPk(); err != nil {
			return nil, err
		}
		gen, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return RelayGeneration{PublicKey: pk, Generation: gen}, nil

	default:
		return nil, errUnknownTag("mutation", tag)
	}
}

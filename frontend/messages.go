package frontend

// Wire messages for FunderService (§6's "Coordinator inbound (from
// front-end)" surface). Grounded on lnrpc's generated-message shape but
// hand-maintained rather than protoc-generated: each type carries the
// same struct-tag convention golang/protobuf's reflection-based Marshal
// reads directly off a plain Go struct, and satisfies proto.Message with
// the usual three-method set. Amounts cross the wire as decimal strings
// (mirroring lnrpc's practice of using strings for anything that could
// overflow a wire varint) since payment/credit amounts are *big.Int, not
// bounded integers.

import "fmt"

type empty struct{}

func (*empty) Reset()         {}
func (*empty) String() string { return "" }
func (*empty) ProtoMessage()  {}

// AddFriendRequest registers a new counterparty relationship.
type AddFriendRequest struct {
	PublicKey []byte `protobuf:"bytes,1,opt,name=public_key,proto3" json:"public_key,omitempty"`
	Name      string `protobuf:"bytes,2,opt,name=name,proto3" json:"name,omitempty"`
}

func (*AddFriendRequest) Reset()         {}
func (m *AddFriendRequest) String() string { return fmt.Sprintf("AddFriendRequest{Name:%q}", m.Name) }
func (*AddFriendRequest) ProtoMessage()  {}

// Ack is the shared response for every command RPC that has nothing
// further to report beyond "applied", carrying the correlation Uid the
// Coordinator minted for it (§6).
type Ack struct {
	AckId []byte `protobuf:"bytes,1,opt,name=ack_id,proto3" json:"ack_id,omitempty"`
}

func (*Ack) Reset()         {}
func (m *Ack) String() string { return fmt.Sprintf("Ack{%x}", m.AckId) }
func (*Ack) ProtoMessage()  {}

// OpenFriendCurrencyRequest opens cur with pk for sending/receiving and
// accepting incoming requests (§4.2 step 3, §6).
type OpenFriendCurrencyRequest struct {
	PublicKey []byte `protobuf:"bytes,1,opt,name=public_key,proto3" json:"public_key,omitempty"`
	Currency  string `protobuf:"bytes,2,opt,name=currency,proto3" json:"currency,omitempty"`
}

func (*OpenFriendCurrencyRequest) Reset()         {}
func (m *OpenFriendCurrencyRequest) String() string {
	return fmt.Sprintf("OpenFriendCurrencyRequest{%s}", m.Currency)
}
func (*OpenFriendCurrencyRequest) ProtoMessage() {}

// SetFriendCurrencyMaxDebtRequest raises or lowers the credit ceiling
// granted to pk on cur (§4.1, §6). MaxDebt is a base-10 string.
type SetFriendCurrencyMaxDebtRequest struct {
	PublicKey []byte `protobuf:"bytes,1,opt,name=public_key,proto3" json:"public_key,omitempty"`
	Currency  string `protobuf:"bytes,2,opt,name=currency,proto3" json:"currency,omitempty"`
	MaxDebt   string `protobuf:"bytes,3,opt,name=max_debt,proto3" json:"max_debt,omitempty"`
}

func (*SetFriendCurrencyMaxDebtRequest) Reset()         {}
func (m *SetFriendCurrencyMaxDebtRequest) String() string {
	return fmt.Sprintf("SetFriendCurrencyMaxDebtRequest{%s %s}", m.Currency, m.MaxDebt)
}
func (*SetFriendCurrencyMaxDebtRequest) ProtoMessage() {}

// AddInvoiceRequest registers an invoice a buyer may pay against
// (SPEC_FULL.md's invoice lifecycle, §6).
type AddInvoiceRequest struct {
	InvoiceId        []byte `protobuf:"bytes,1,opt,name=invoice_id,proto3" json:"invoice_id,omitempty"`
	Currency         string `protobuf:"bytes,2,opt,name=currency,proto3" json:"currency,omitempty"`
	TotalDestPayment string `protobuf:"bytes,3,opt,name=total_dest_payment,proto3" json:"total_dest_payment,omitempty"`
}

func (*AddInvoiceRequest) Reset()         {}
func (m *AddInvoiceRequest) String() string {
	return fmt.Sprintf("AddInvoiceRequest{%x %s}", m.InvoiceId, m.TotalDestPayment)
}
func (*AddInvoiceRequest) ProtoMessage() {}

// InvoiceIdRequest names an invoice by InvoiceId alone, shared by
// CommitInvoice and CancelInvoice.
type InvoiceIdRequest struct {
	InvoiceId []byte `protobuf:"bytes,1,opt,name=invoice_id,proto3" json:"invoice_id,omitempty"`
}

func (*InvoiceIdRequest) Reset()         {}
func (m *InvoiceIdRequest) String() string { return fmt.Sprintf("InvoiceIdRequest{%x}", m.InvoiceId) }
func (*InvoiceIdRequest) ProtoMessage()  {}

// RouteLeg mirrors router.RouteLeg on the wire: the hops after this
// node ending with the payment's destination, and the portion of the
// total payment it carries.
type RouteLeg struct {
	Currency    string   `protobuf:"bytes,1,opt,name=currency,proto3" json:"currency,omitempty"`
	Route       [][]byte `protobuf:"bytes,2,rep,name=route,proto3" json:"route,omitempty"`
	DestPayment string   `protobuf:"bytes,3,opt,name=dest_payment,proto3" json:"dest_payment,omitempty"`
	LeftFees    string   `protobuf:"bytes,4,opt,name=left_fees,proto3" json:"left_fees,omitempty"`
}

func (*RouteLeg) Reset()         {}
func (m *RouteLeg) String() string { return fmt.Sprintf("RouteLeg{%s}", m.DestPayment) }
func (*RouteLeg) ProtoMessage()  {}

// RequestSendFundsRequest begins a (possibly multi-route) payment
// toward Destination (§4.3, §6). The front-end is expected to have
// already obtained Legs from a route-discovery collaborator -- route
// discovery itself is out of scope here (§1 Non-goals).
type RequestSendFundsRequest struct {
	PaymentId        []byte      `protobuf:"bytes,1,opt,name=payment_id,proto3" json:"payment_id,omitempty"`
	Destination      []byte      `protobuf:"bytes,2,opt,name=destination,proto3" json:"destination,omitempty"`
	InvoiceId        []byte      `protobuf:"bytes,3,opt,name=invoice_id,proto3" json:"invoice_id,omitempty"`
	TotalDestPayment string      `protobuf:"bytes,4,opt,name=total_dest_payment,proto3" json:"total_dest_payment,omitempty"`
	Legs             []*RouteLeg `protobuf:"bytes,5,rep,name=legs,proto3" json:"legs,omitempty"`
}

func (*RequestSendFundsRequest) Reset()         {}
func (m *RequestSendFundsRequest) String() string {
	return fmt.Sprintf("RequestSendFundsRequest{%x legs=%d}", m.PaymentId, len(m.Legs))
}
func (*RequestSendFundsRequest) ProtoMessage() {}

// PaymentStatusRequest/Response expose router.PaymentStatus for a
// front-end polling a payment it originated.
type PaymentStatusRequest struct {
	PaymentId []byte `protobuf:"bytes,1,opt,name=payment_id,proto3" json:"payment_id,omitempty"`
}

func (*PaymentStatusRequest) Reset()         {}
func (m *PaymentStatusRequest) String() string {
	return fmt.Sprintf("PaymentStatusRequest{%x}", m.PaymentId)
}
func (*PaymentStatusRequest) ProtoMessage() {}

type PaymentStatusResponse struct {
	Status string `protobuf:"bytes,1,opt,name=status,proto3" json:"status,omitempty"`
}

func (*PaymentStatusResponse) Reset()         {}
func (m *PaymentStatusResponse) String() string { return m.Status }
func (*PaymentStatusResponse) ProtoMessage()  {}

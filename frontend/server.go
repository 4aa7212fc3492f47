package frontend

import (
	"context"
	"fmt"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/funder"
	"github.com/freedomlayer/offset-sub002/router"
)

// Server adapts a funder.Coordinator to FunderServer, translating each
// wire request into the matching funder.Command and submitting it
// through Coordinator.SubmitCommand -- the only door into the
// Coordinator's single-threaded state, per §4.6's ownership split.
// Grounded on rpcserver.go's rpcServer: a thin struct wrapping the
// actual daemon (there, *server; here, *funder.Coordinator), with every
// RPC method doing request parsing and a single call into it.
type Server struct {
	coord *funder.Coordinator
}

// NewServer wraps coord for gRPC registration via RegisterFunderServer.
func NewServer(coord *funder.Coordinator) *Server {
	return &Server{coord: coord}
}

func parsePublicKey(b []byte) (crypto.PublicKey, error) {
	return crypto.PublicKeyFromBytes(b)
}

func parseInvoiceId(b []byte) (crypto.InvoiceId, error) {
	var id crypto.InvoiceId
	if len(b) != crypto.InvoiceIdLen {
		return id, fmt.Errorf("frontend: invoice_id must be %d bytes, got %d", crypto.InvoiceIdLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func parsePaymentId(b []byte) (crypto.PaymentId, error) {
	var id crypto.PaymentId
	if len(b) != crypto.PaymentIdLen {
		return id, fmt.Errorf("frontend: payment_id must be %d bytes, got %d", crypto.PaymentIdLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("frontend: %q is not a base-10 integer", s)
	}
	return n, nil
}

func ackResponse(id crypto.Uid, err error) (*Ack, error) {
	if err != nil {
		return nil, err
	}
	return &Ack{AckId: id.Bytes()}, nil
}

func (s *Server) AddFriend(ctx context.Context, req *AddFriendRequest) (*Ack, error) {
	pk, err := parsePublicKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	id, err := s.coord.SubmitCommand(ctx, funder.AddFriend{PublicKey: pk, Name: req.Name})
	return ackResponse(id, err)
}

func (s *Server) OpenFriendCurrency(ctx context.Context, req *OpenFriendCurrencyRequest) (*Ack, error) {
	pk, err := parsePublicKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	cur, err := currency.New(req.Currency)
	if err != nil {
		return nil, err
	}
	id, err := s.coord.SubmitCommand(ctx, funder.OpenFriendCurrency{PublicKey: pk, Currency: cur})
	return ackResponse(id, err)
}

func (s *Server) SetFriendCurrencyMaxDebt(ctx context.Context, req *SetFriendCurrencyMaxDebtRequest) (*Ack, error) {
	pk, err := parsePublicKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	cur, err := currency.New(req.Currency)
	if err != nil {
		return nil, err
	}
	maxDebt, err := parseBigInt(req.MaxDebt)
	if err != nil {
		return nil, err
	}
	id, err := s.coord.SubmitCommand(ctx, funder.SetFriendCurrencyMaxDebt{PublicKey: pk, Currency: cur, MaxDebt: maxDebt})
	return ackResponse(id, err)
}

func (s *Server) AddInvoice(ctx context.Context, req *AddInvoiceRequest) (*Ack, error) {
	invoiceId, err := parseInvoiceId(req.InvoiceId)
	if err != nil {
		return nil, err
	}
	cur, err := currency.New(req.Currency)
	if err != nil {
		return nil, err
	}
	total, err := parseBigInt(req.TotalDestPayment)
	if err != nil {
		return nil, err
	}
	id, err := s.coord.SubmitCommand(ctx, funder.AddInvoice{InvoiceId: invoiceId, Currency: cur, TotalDestPayment: total})
	return ackResponse(id, err)
}

func (s *Server) CommitInvoice(ctx context.Context, req *InvoiceIdRequest) (*Ack, error) {
	invoiceId, err := parseInvoiceId(req.InvoiceId)
	if err != nil {
		return nil, err
	}
	id, err := s.coord.SubmitCommand(ctx, funder.CommitInvoice{InvoiceId: invoiceId})
	return ackResponse(id, err)
}

func (s *Server) CancelInvoice(ctx context.Context, req *InvoiceIdRequest) (*Ack, error) {
	invoiceId, err := parseInvoiceId(req.InvoiceId)
	if err != nil {
		return nil, err
	}
	id, err := s.coord.SubmitCommand(ctx, funder.CancelInvoice{InvoiceId: invoiceId})
	return ackResponse(id, err)
}

func (s *Server) RequestSendFunds(ctx context.Context, req *RequestSendFundsRequest) (*Ack, error) {
	paymentId, err := parsePaymentId(req.PaymentId)
	if err != nil {
		return nil, err
	}
	destination, err := parsePublicKey(req.Destination)
	if err != nil {
		return nil, err
	}
	invoiceId, err := parseInvoiceId(req.InvoiceId)
	if err != nil {
		return nil, err
	}
	total, err := parseBigInt(req.TotalDestPayment)
	if err != nil {
		return nil, err
	}

	legs := make([]router.RouteLeg, len(req.Legs))
	for i, l := range req.Legs {
		cur, err := currency.New(l.Currency)
		if err != nil {
			return nil, err
		}
		destPayment, err := parseBigInt(l.DestPayment)
		if err != nil {
			return nil, err
		}
		leftFees, err := parseBigInt(l.LeftFees)
		if err != nil {
			return nil, err
		}
		route := make([]crypto.PublicKey, len(l.Route))
		for j, hop := range l.Route {
			pk, err := parsePublicKey(hop)
			if err != nil {
				return nil, err
			}
			route[j] = pk
		}
		legs[i] = router.RouteLeg{Currency: cur, Route: route, DestPayment: destPayment, LeftFees: leftFees}
	}

	id, err := s.coord.SubmitCommand(ctx, funder.RequestSendFunds{
		PaymentId:        paymentId,
		Destination:      destination,
		InvoiceId:        invoiceId,
		TotalDestPayment: total,
		Legs:             legs,
	})
	return ackResponse(id, err)
}

func (s *Server) PaymentStatus(ctx context.Context, req *PaymentStatusRequest) (*PaymentStatusResponse, error) {
	paymentId, err := parsePaymentId(req.PaymentId)
	if err != nil {
		return nil, err
	}
	status, ok := s.coord.PaymentStatus(ctx, paymentId)
	if !ok {
		return nil, fmt.Errorf("frontend: unknown payment %x", paymentId.Bytes())
	}
	return &PaymentStatusResponse{Status: status.String()}, nil
}

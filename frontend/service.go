package frontend

import (
	"context"

	"google.golang.org/grpc"
)

// FunderServer is the front-end-facing surface of a Coordinator (§6):
// one RPC per command the front-end may issue, plus the read-only
// PaymentStatus query. Grounded on lnrpc.LightningServer's shape --
// every RPC takes a single request message and returns a single
// response, unary only, since none of §6's commands are naturally
// streaming.
type FunderServer interface {
	AddFriend(context.Context, *AddFriendRequest) (*Ack, error)
	OpenFriendCurrency(context.Context, *OpenFriendCurrencyRequest) (*Ack, error)
	SetFriendCurrencyMaxDebt(context.Context, *SetFriendCurrencyMaxDebtRequest) (*Ack, error)
	AddInvoice(context.Context, *AddInvoiceRequest) (*Ack, error)
	CommitInvoice(context.Context, *InvoiceIdRequest) (*Ack, error)
	CancelInvoice(context.Context, *InvoiceIdRequest) (*Ack, error)
	RequestSendFunds(context.Context, *RequestSendFundsRequest) (*Ack, error)
	PaymentStatus(context.Context, *PaymentStatusRequest) (*PaymentStatusResponse, error)
}

// RegisterFunderServer registers srv with s, the hand-written
// counterpart to a protoc-generated RegisterXxxServer function.
func RegisterFunderServer(s *grpc.Server, srv FunderServer) {
	s.RegisterService(&_FunderService_serviceDesc, srv)
}

func _FunderService_AddFriend_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddFriendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).AddFriend(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/AddFriend"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).AddFriend(ctx, req.(*AddFriendRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FunderService_OpenFriendCurrency_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OpenFriendCurrencyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).OpenFriendCurrency(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/OpenFriendCurrency"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).OpenFriendCurrency(ctx, req.(*OpenFriendCurrencyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FunderService_SetFriendCurrencyMaxDebt_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetFriendCurrencyMaxDebtRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).SetFriendCurrencyMaxDebt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/SetFriendCurrencyMaxDebt"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).SetFriendCurrencyMaxDebt(ctx, req.(*SetFriendCurrencyMaxDebtRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FunderService_AddInvoice_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddInvoiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).AddInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/AddInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).AddInvoice(ctx, req.(*AddInvoiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FunderService_CommitInvoice_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InvoiceIdRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).CommitInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/CommitInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).CommitInvoice(ctx, req.(*InvoiceIdRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FunderService_CancelInvoice_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InvoiceIdRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).CancelInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/CancelInvoice"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).CancelInvoice(ctx, req.(*InvoiceIdRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FunderService_RequestSendFunds_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RequestSendFundsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).RequestSendFunds(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/RequestSendFunds"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).RequestSendFunds(ctx, req.(*RequestSendFundsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FunderService_PaymentStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PaymentStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunderServer).PaymentStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/frontend.FunderService/PaymentStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunderServer).PaymentStatus(ctx, req.(*PaymentStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var _FunderService_serviceDesc = grpc.ServiceDesc{
	ServiceName: "frontend.FunderService",
	HandlerType: (*FunderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddFriend", Handler: _FunderService_AddFriend_Handler},
		{MethodName: "OpenFriendCurrency", Handler: _FunderService_OpenFriendCurrency_Handler},
		{MethodName: "SetFriendCurrencyMaxDebt", Handler: _FunderService_SetFriendCurrencyMaxDebt_Handler},
		{MethodName: "AddInvoice", Handler: _FunderService_AddInvoice_Handler},
		{MethodName: "CommitInvoice", Handler: _FunderService_CommitInvoice_Handler},
		{MethodName: "CancelInvoice", Handler: _FunderService_CancelInvoice_Handler},
		{MethodName: "RequestSendFunds", Handler: _FunderService_RequestSendFunds_Handler},
		{MethodName: "PaymentStatus", Handler: _FunderService_PaymentStatus_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "frontend/funder.proto",
}

// FunderServiceClient is the offsetctl-facing counterpart of
// FunderServer, grounded on lnrpc's generated Lightning client.
type FunderServiceClient interface {
	AddFriend(ctx context.Context, in *AddFriendRequest, opts ...grpc.CallOption) (*Ack, error)
	OpenFriendCurrency(ctx context.Context, in *OpenFriendCurrencyRequest, opts ...grpc.CallOption) (*Ack, error)
	SetFriendCurrencyMaxDebt(ctx context.Context, in *SetFriendCurrencyMaxDebtRequest, opts ...grpc.CallOption) (*Ack, error)
	AddInvoice(ctx context.Context, in *AddInvoiceRequest, opts ...grpc.CallOption) (*Ack, error)
	CommitInvoice(ctx context.Context, in *InvoiceIdRequest, opts ...grpc.CallOption) (*Ack, error)
	CancelInvoice(ctx context.Context, in *InvoiceIdRequest, opts ...grpc.CallOption) (*Ack, error)
	RequestSendFunds(ctx context.Context, in *RequestSendFundsRequest, opts ...grpc.CallOption) (*Ack, error)
	PaymentStatus(ctx context.Context, in *PaymentStatusRequest, opts ...grpc.CallOption) (*PaymentStatusResponse, error)
}

type funderServiceClient struct {
	cc *grpc.ClientConn
}

// NewFunderServiceClient wraps an established connection (typically
// carrying the macaroon credential that cmd/offsetctl attaches through
// its macaroonCredential PerRPCCredentials) into a FunderServiceClient.
func NewFunderServiceClient(cc *grpc.ClientConn) FunderServiceClient {
	return &funderServiceClient{cc: cc}
}

func (c *funderServiceClient) AddFriend(ctx context.Context, in *AddFriendRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/AddFriend", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *funderServiceClient) OpenFriendCurrency(ctx context.Context, in *OpenFriendCurrencyRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/OpenFriendCurrency", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *funderServiceClient) SetFriendCurrencyMaxDebt(ctx context.Context, in *SetFriendCurrencyMaxDebtRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/SetFriendCurrencyMaxDebt", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *funderServiceClient) AddInvoice(ctx context.Context, in *AddInvoiceRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/AddInvoice", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *funderServiceClient) CommitInvoice(ctx context.Context, in *InvoiceIdRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/CommitInvoice", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *funderServiceClient) CancelInvoice(ctx context.Context, in *InvoiceIdRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/CancelInvoice", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *funderServiceClient) RequestSendFunds(ctx context.Context, in *RequestSendFundsRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/RequestSendFunds", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *funderServiceClient) PaymentStatus(ctx context.Context, in *PaymentStatusRequest, opts ...grpc.CallOption) (*PaymentStatusResponse, error) {
	out := new(PaymentStatusResponse)
	if err := c.cc.Invoke(ctx, "/frontend.FunderService/PaymentStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

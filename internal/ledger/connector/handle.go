package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgeridl"
	"github.com/louisbranch/ledgerwallet/internal/ledger/principal"
	"github.com/louisbranch/ledgerwallet/internal/ledger/wire"
	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Handle is the set of wallet ledger operations bound to one session,
// descriptor and service id. It is safe for concurrent use.
type Handle struct {
	session   *Session
	serviceID principal.Principal
	methods   map[string]protoreflect.MethodDescriptor
}

// CreateHandle binds the wallet operations declared by descriptor to the
// service named by serviceID. A descriptor that does not declare the
// expected methods and fields is rejected here; a descriptor that disagrees
// with the remote service is only detected when a call is rejected.
func CreateHandle(session *Session, descriptor *ledgeridl.Descriptor, serviceID string) (*Handle, error) {
	if session == nil || session.conn == nil {
		return nil, apperrors.New(apperrors.CodeConnection, "ledger session is not initialized")
	}
	if descriptor == nil {
		return nil, apperrors.New(apperrors.CodeBinding, "interface descriptor is required")
	}
	id, err := principal.Parse(serviceID)
	if err != nil {
		return nil, err
	}

	methods := make(map[string]protoreflect.MethodDescriptor, len(ledgeridl.Methods))
	for _, name := range ledgeridl.Methods {
		m, ok := descriptor.Method(name)
		if !ok {
			return nil, apperrors.New(apperrors.CodeBinding,
				fmt.Sprintf("interface %s does not declare %s", descriptor.Service().FullName(), name))
		}
		methods[name] = m
	}
	if err := checkShapes(methods); err != nil {
		return nil, err
	}

	return &Handle{session: session, serviceID: id, methods: methods}, nil
}

// ServiceID returns the bound service principal.
func (h *Handle) ServiceID() principal.Principal {
	return h.serviceID
}

// CreateAccount registers the caller under user.Username. The ledger may
// return no record.
func (h *Handle) CreateAccount(ctx context.Context, user User) (Optional[User], error) {
	m := h.methods[ledgeridl.MethodCreateAccount]
	reqUser := m.Input().Fields().ByName("user")

	resp, err := h.invoke(ctx, ledgeridl.MethodCreateAccount, func(req *dynamicpb.Message) {
		req.Set(reqUser, protoreflect.ValueOfMessage(userMessage(reqUser.Message(), user)))
	})
	if err != nil {
		return None[User](), err
	}
	respUser := m.Output().Fields().ByName("user")
	if !resp.Has(respUser) {
		return None[User](), nil
	}
	return Some(userFromMessage(resp.Get(respUser).Message())), nil
}

// GetBalance returns the caller's balance.
func (h *Handle) GetBalance(ctx context.Context) (uint64, error) {
	m := h.methods[ledgeridl.MethodGetBalance]
	resp, err := h.invoke(ctx, ledgeridl.MethodGetBalance, nil)
	if err != nil {
		return 0, err
	}
	return resp.Get(m.Output().Fields().ByName("balance")).Uint(), nil
}

// GetSelf returns the caller's account record. Unknown callers get an empty
// record rather than an error.
func (h *Handle) GetSelf(ctx context.Context) (User, error) {
	m := h.methods[ledgeridl.MethodGetSelf]
	resp, err := h.invoke(ctx, ledgeridl.MethodGetSelf, nil)
	if err != nil {
		return User{}, err
	}
	return userFromMessage(resp.Get(m.Output().Fields().ByName("user")).Message()), nil
}

// TransferTokens moves amount from the caller to recipient.
func (h *Handle) TransferTokens(ctx context.Context, recipient principal.Principal, amount uint64) (TransferResult, error) {
	m := h.methods[ledgeridl.MethodTransferTokens]
	in := m.Input().Fields()
	resp, err := h.invoke(ctx, ledgeridl.MethodTransferTokens, func(req *dynamicpb.Message) {
		req.Set(in.ByName("to"), protoreflect.ValueOfBytes(recipient.Bytes()))
		req.Set(in.ByName("amount"), protoreflect.ValueOfUint64(amount))
	})
	if err != nil {
		return TransferResult{}, err
	}

	out := m.Output()
	switch field := resp.WhichOneof(out.Oneofs().ByName("result")); {
	case field == nil:
		return TransferResult{}, apperrors.New(apperrors.CodeBinding, "transfer result carries neither ok nor err")
	case field.Name() == "ok":
		return TransferOK(), nil
	default:
		return TransferErr(resp.Get(field).String()), nil
	}
}

func (h *Handle) invoke(ctx context.Context, name string, build func(*dynamicpb.Message)) (*dynamicpb.Message, error) {
	m := h.methods[name]
	req := dynamicpb.NewMessage(m.Input())
	if build != nil {
		build(req)
	}
	resp := dynamicpb.NewMessage(m.Output())

	ctx = metadata.AppendToOutgoingContext(ctx, wire.ServiceIDHeader, h.serviceID.String())
	if err := h.session.conn.Invoke(ctx, ledgeridl.FullMethod(m), req, resp); err != nil {
		return nil, classify(name, err)
	}
	return resp, nil
}

// classify maps call failures onto binding and remote errors.
func classify(method string, err error) error {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return apperrors.Wrap(apperrors.CodeRemote, fmt.Sprintf("%s: %v", method, err), err)
	}
	meta := map[string]string{"method": method, "grpc_code": st.Code().String()}
	if reason, ok := apperrors.ReasonFromStatus(st); ok {
		meta["reason"] = reason
	}
	if st.Code() == codes.Unimplemented {
		return apperrors.WrapWithMetadata(apperrors.CodeBinding,
			fmt.Sprintf("%s is not implemented by the ledger service: %s", method, st.Message()), meta, err)
	}
	return apperrors.WrapWithMetadata(apperrors.CodeRemote, st.Message(), meta, err)
}

func userMessage(md protoreflect.MessageDescriptor, u User) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(md)
	fields := md.Fields()
	msg.Set(fields.ByName("username"), protoreflect.ValueOfString(u.Username))
	msg.Set(fields.ByName("balance"), protoreflect.ValueOfUint64(u.Balance))
	return msg
}

func userFromMessage(msg protoreflect.Message) User {
	fields := msg.Descriptor().Fields()
	return User{
		Username: msg.Get(fields.ByName("username")).String(),
		Balance:  msg.Get(fields.ByName("balance")).Uint(),
	}
}

type fieldShape struct {
	message string
	field   protoreflect.Name
	kind    protoreflect.Kind
}

// checkShapes verifies the fields the typed operations read and write.
func checkShapes(methods map[string]protoreflect.MethodDescriptor) error {
	in := func(name string) protoreflect.MessageDescriptor { return methods[name].Input() }
	out := func(name string) protoreflect.MessageDescriptor { return methods[name].Output() }

	checks := []struct {
		md    protoreflect.MessageDescriptor
		shape fieldShape
	}{
		{in(ledgeridl.MethodCreateAccount), fieldShape{"CreateAccount request", "user", protoreflect.MessageKind}},
		{out(ledgeridl.MethodCreateAccount), fieldShape{"CreateAccount response", "user", protoreflect.MessageKind}},
		{out(ledgeridl.MethodGetBalance), fieldShape{"GetBalance response", "balance", protoreflect.Uint64Kind}},
		{out(ledgeridl.MethodGetSelf), fieldShape{"GetSelf response", "user", protoreflect.MessageKind}},
		{in(ledgeridl.MethodTransferTokens), fieldShape{"TransferTokens request", "to", protoreflect.BytesKind}},
		{in(ledgeridl.MethodTransferTokens), fieldShape{"TransferTokens request", "amount", protoreflect.Uint64Kind}},
		{out(ledgeridl.MethodTransferTokens), fieldShape{"TransferTokens response", "ok", protoreflect.MessageKind}},
		{out(ledgeridl.MethodTransferTokens), fieldShape{"TransferTokens response", "err", protoreflect.StringKind}},
	}
	for _, c := range checks {
		fd := c.md.Fields().ByName(c.shape.field)
		if fd == nil || fd.Kind() != c.shape.kind || fd.IsList() {
			return apperrors.New(apperrors.CodeBinding,
				fmt.Sprintf("%s must declare %s as %s", c.shape.message, c.shape.field, c.shape.kind))
		}
		if c.shape.kind == protoreflect.MessageKind && c.shape.field == "user" {
			if err := checkUser(fd.Message()); err != nil {
				return err
			}
		}
	}
	result := out(ledgeridl.MethodTransferTokens).Oneofs().ByName("result")
	if result == nil {
		return apperrors.New(apperrors.CodeBinding, "TransferTokens response must declare a result variant")
	}
	return nil
}

func checkUser(md protoreflect.MessageDescriptor) error {
	username := md.Fields().ByName("username")
	balance := md.Fields().ByName("balance")
	if username == nil || username.Kind() != protoreflect.StringKind || balance == nil || balance.Kind() != protoreflect.Uint64Kind {
		return apperrors.New(apperrors.CodeBinding, fmt.Sprintf("%s must declare username (string) and balance (uint64)", md.FullName()))
	}
	return nil
}

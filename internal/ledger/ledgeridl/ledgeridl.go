// Package ledgeridl declares the interface descriptor of the wallet ledger
// service: the messages and methods a Handle binds to, expressed as a
// protobuf file descriptor built at runtime.
package ledgeridl

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/emptypb" // registers google/protobuf/empty.proto
)

const (
	// Package is the protobuf package of the wallet ledger interface.
	Package = "ledger.wallet.v1"
	// ServiceName is the fully-qualified service name.
	ServiceName protoreflect.FullName = Package + ".WalletLedger"
	// FileName is the virtual path of the descriptor file.
	FileName = "ledger/wallet/v1/wallet_ledger.proto"
)

// Method names declared by the service.
const (
	MethodCreateAccount  = "CreateAccount"
	MethodGetBalance     = "GetBalance"
	MethodGetSelf        = "GetSelf"
	MethodTransferTokens = "TransferTokens"
)

// Methods lists every method a Handle requires.
var Methods = []string{MethodCreateAccount, MethodGetBalance, MethodGetSelf, MethodTransferTokens}

// StatusRootKeyMethod returns a replica's root signing key. It sits outside
// the wallet service because every session needs it before binding a handle.
const StatusRootKeyMethod = "/ledger.agent.v1.Status/RootKey"

// Descriptor is a resolved interface descriptor for one service.
type Descriptor struct {
	service protoreflect.ServiceDescriptor
}

// Load resolves the built-in wallet ledger descriptor.
func Load() (*Descriptor, error) {
	return FromFileDescriptorProto(FileDescriptorProto(), ServiceName)
}

// MustLoad is Load for package initialisation.
func MustLoad() *Descriptor {
	d, err := Load()
	if err != nil {
		panic(err)
	}
	return d
}

// FromFileDescriptorProto resolves a descriptor file and selects service.
func FromFileDescriptorProto(fdp *descriptorpb.FileDescriptorProto, service protoreflect.FullName) (*Descriptor, error) {
	file, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("resolve interface descriptor: %w", err)
	}
	sd := file.Services().ByName(service.Name())
	if sd == nil || sd.FullName() != service {
		return nil, fmt.Errorf("interface descriptor %s does not declare service %s", fdp.GetName(), service)
	}
	return &Descriptor{service: sd}, nil
}

// Service returns the service descriptor.
func (d *Descriptor) Service() protoreflect.ServiceDescriptor {
	return d.service
}

// Method looks up a method by its short name.
func (d *Descriptor) Method(name string) (protoreflect.MethodDescriptor, bool) {
	m := d.service.Methods().ByName(protoreflect.Name(name))
	return m, m != nil
}

// FullMethod returns the gRPC path of a method, "/package.Service/Method".
func FullMethod(m protoreflect.MethodDescriptor) string {
	return "/" + string(m.Parent().FullName()) + "/" + string(m.Name())
}

// FileDescriptorProto returns a fresh copy of the wallet ledger descriptor.
// Callers may mutate it.
func FileDescriptorProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(FileName),
		Package:    proto.String(Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/empty.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			message("User",
				scalar("username", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalar("balance", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
			),
			message("CreateAccountRequest", embedded("user", 1, "User")),
			// Message presence on user is the optional result.
			message("CreateAccountResponse", embedded("user", 1, "User")),
			message("GetBalanceRequest"),
			message("GetBalanceResponse", scalar("balance", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64)),
			message("GetSelfRequest"),
			message("GetSelfResponse", embedded("user", 1, "User")),
			message("TransferTokensRequest",
				scalar("to", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				scalar("amount", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
			),
			{
				Name: proto.String("TransferTokensResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					inOneof(&descriptorpb.FieldDescriptorProto{
						Name:     proto.String("ok"),
						Number:   proto.Int32(1),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName: proto.String(".google.protobuf.Empty"),
					}, 0),
					inOneof(scalar("err", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING), 0),
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("result")}},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String(string(ServiceName.Name())),
			Method: []*descriptorpb.MethodDescriptorProto{
				method(MethodCreateAccount, "CreateAccountRequest", "CreateAccountResponse"),
				method(MethodGetBalance, "GetBalanceRequest", "GetBalanceResponse"),
				method(MethodGetSelf, "GetSelfRequest", "GetSelfResponse"),
				method(MethodTransferTokens, "TransferTokensRequest", "TransferTokensResponse"),
			},
		}},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func embedded(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String("." + Package + "." + typeName),
	}
}

func inOneof(field *descriptorpb.FieldDescriptorProto, index int32) *descriptorpb.FieldDescriptorProto {
	field.OneofIndex = proto.Int32(index)
	return field
}

func method(name, input, output string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + Package + "." + input),
		OutputType: proto.String("." + Package + "." + output),
	}
}

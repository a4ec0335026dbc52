package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

type echoRequest struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type echoResponse struct {
	Greeting string   `json:"greeting"`
	Repeats  []string `json:"repeats"`
}

func echoService() Service {
	return Service{
		Name: "gohome.test.v1.Echo",
		File: "gohome/test/v1/echo.proto",
		Methods: []Method{
			{Name: "Greet", Handler: func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				var in echoRequest
				if err := Decode(req, &in); err != nil {
					return nil, err
				}
				if in.Name == "" {
					return nil, status.Error(codes.InvalidArgument, "name is required")
				}
				out := echoResponse{Greeting: "hello " + in.Name}
				for i := 0; i < in.Count; i++ {
					out.Repeats = append(out.Repeats, in.Name)
				}
				return Encode(out)
			}},
		},
	}
}

func dial(t *testing.T, svc Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	require.NoError(t, Register(server, svc))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRegisterAndInvoke(t *testing.T) {
	svc := echoService()
	conn := dial(t, svc)

	var out echoResponse
	err := Invoke(context.Background(), conn, svc.FullMethod("Greet"), echoRequest{Name: "den", Count: 2}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hello den", out.Greeting)
	assert.Equal(t, []string{"den", "den"}, out.Repeats)
}

func TestHandlerStatusPropagates(t *testing.T) {
	svc := echoService()
	conn := dial(t, svc)

	err := Invoke(context.Background(), conn, svc.FullMethod("Greet"), echoRequest{}, nil)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDescriptorRegistered(t *testing.T) {
	svc := echoService()
	dial(t, svc)

	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(svc.Name))
	require.NoError(t, err)
	service, ok := desc.(protoreflect.ServiceDescriptor)
	require.True(t, ok)
	method := service.Methods().ByName("Greet")
	require.NotNil(t, method)
	assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), method.Input().FullName())
}

func TestValidateRejectsBadServices(t *testing.T) {
	server := grpc.NewServer()
	defer server.Stop()

	assert.Error(t, Register(server, Service{Name: "Unqualified", File: "x.proto"}))
	assert.Error(t, Register(server, Service{Name: "a.B", File: ""}))
	assert.Error(t, Register(server, Service{Name: "a.B", File: "a/b.proto", Methods: []Method{{Name: "X"}}}))
}

func TestDecodeNilRequest(t *testing.T) {
	var in echoRequest
	require.NoError(t, Decode(nil, &in))
	assert.Empty(t, in.Name)
}

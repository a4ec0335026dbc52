// Package rpc builds gRPC services whose messages are google.protobuf.Struct
// values. The services register a descriptor with the global proto registry
// so server reflection (and grpcurl) can describe and invoke them.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// Handler serves one unary method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type Method struct {
	Name    string
	Handler Handler
}

// Service describes a Struct-typed gRPC service.
type Service struct {
	// Name is the fully-qualified service name, e.g. gohome.registry.v1.Registry.
	Name string
	// File is the descriptor path the service is published under.
	File    string
	Methods []Method
}

func (s Service) validate() error {
	if s.Name == "" || !strings.Contains(s.Name, ".") {
		return fmt.Errorf("service name %q must be fully qualified", s.Name)
	}
	if s.File == "" {
		return fmt.Errorf("service %s needs a descriptor file name", s.Name)
	}
	seen := make(map[string]bool, len(s.Methods))
	for _, m := range s.Methods {
		if m.Name == "" || m.Handler == nil {
			return fmt.Errorf("service %s has an incomplete method", s.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("service %s declares %s twice", s.Name, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// FullMethod returns the gRPC path of a method.
func (s Service) FullMethod(method string) string {
	return "/" + s.Name + "/" + method
}

// Register publishes the descriptor and mounts the service on server.
func Register(server *grpc.Server, svc Service) error {
	if err := svc.validate(); err != nil {
		return err
	}
	if err := registerDescriptor(svc); err != nil {
		return err
	}

	desc := grpc.ServiceDesc{
		ServiceName: svc.Name,
		HandlerType: (*any)(nil),
		Metadata:    svc.File,
	}
	for _, m := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    unaryHandler(svc.FullMethod(m.Name), m.Handler),
		})
	}
	server.RegisterService(&desc, struct{}{})
	return nil
}

func unaryHandler(fullMethod string, h Handler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		})
	}
}

func registerDescriptor(svc Service) error {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(svc.File); err == nil {
		return nil
	}

	pkg, short := splitName(svc.Name)
	service := &descriptorpb.ServiceDescriptorProto{Name: proto.String(short)}
	for _, m := range svc.Methods {
		service.Method = append(service.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.File),
		Package:    proto.String(pkg),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{service},
		Syntax:     proto.String("proto3"),
	}

	fd, err := protodesc.NewFile(file, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor for %s: %w", svc.Name, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register descriptor for %s: %w", svc.Name, err)
	}
	return nil
}

func splitName(full string) (string, string) {
	idx := strings.LastIndex(full, ".")
	return full[:idx], full[idx+1:]
}

// Decode unpacks a Struct request into a JSON-tagged Go value.
func Decode(req *structpb.Struct, out any) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

// Encode packs a JSON-tagged Go value into a Struct response.
func Encode(in any) (*structpb.Struct, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Invoke calls a Struct-typed method over conn, converting both directions.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, in, out any) error {
	req, err := Encode(in)
	if err != nil {
		return err
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, fullMethod, req, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return Decode(resp, out)
}

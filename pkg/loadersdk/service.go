// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loadersdk

import (
	"context"
	"encoding/base64"
	"fmt"
	"reflect"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "polyload.loader.v1.Loader"

// Method names of the loader service. Every method takes and returns a
// google.protobuf.Struct.
const (
	MethodInitialize      = "Initialize"
	MethodExecutionPath   = "ExecutionPath"
	MethodLoadFromFile    = "LoadFromFile"
	MethodLoadFromMemory  = "LoadFromMemory"
	MethodLoadFromPackage = "LoadFromPackage"
	MethodDiscover        = "Discover"
	MethodCall            = "Call"
	MethodClear           = "Clear"
	MethodDestroy         = "Destroy"
)

var methods = []string{
	MethodInitialize,
	MethodExecutionPath,
	MethodLoadFromFile,
	MethodLoadFromMemory,
	MethodLoadFromPackage,
	MethodDiscover,
	MethodCall,
	MethodClear,
	MethodDestroy,
}

// service is the handler type of the loader service.
type service interface {
	handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func methodHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(service) //nolint:forcetypeassert // guaranteed by RegisterService
		if interceptor == nil {
			return s.handle(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return s.handle(ctx, method, req.(*structpb.Struct)) //nolint:forcetypeassert // decoded above
		})
	}
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*service)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "polyload/loader/v1/loader.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: m, Handler: methodHandler(m)})
	}
	return desc
}

// Register registers l as the loader service on s.
func Register(s grpc.ServiceRegistrar, l Loader) {
	s.RegisterService(serviceDesc(), newServer(l))
}

// server adapts a Loader to the wire protocol. Modules are addressed by
// ids assigned here; id 0 is never used.
type server struct {
	loader Loader

	mu      sync.Mutex
	next    uint64
	modules map[uint64]Module
}

func newServer(l Loader) *server {
	return &server{loader: l, modules: make(map[uint64]Module)}
}

func (s *server) handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	switch method {
	case MethodInitialize:
		cfg := map[string]any{}
		if v, ok := fields["config"]; ok && v.GetStructValue() != nil {
			cfg = v.GetStructValue().AsMap()
		}
		return done(s.loader.Initialize(ctx, cfg))

	case MethodExecutionPath:
		return done(s.loader.ExecutionPath(ctx, fields["path"].GetStringValue()))

	case MethodLoadFromFile:
		var paths []string
		for _, v := range fields["paths"].GetListValue().GetValues() {
			paths = append(paths, v.GetStringValue())
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("%s: no paths", method)
		}
		return s.track(s.loader.LoadFromFile(ctx, paths))

	case MethodLoadFromMemory:
		buffer, err := base64.StdEncoding.DecodeString(fields["buffer"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("%s: buffer: %w", method, err)
		}
		return s.track(s.loader.LoadFromMemory(ctx, fields["name"].GetStringValue(), buffer))

	case MethodLoadFromPackage:
		return s.track(s.loader.LoadFromPackage(ctx, fields["path"].GetStringValue()))

	case MethodDiscover:
		m, err := s.module(fields)
		if err != nil {
			return nil, err
		}
		list := make([]any, 0, len(m.Functions()))
		for _, fn := range m.Functions() {
			list = append(list, map[string]any{"name": fn.Name, "signature": fn.Signature})
		}
		return structpb.NewStruct(map[string]any{"functions": list})

	case MethodCall:
		m, err := s.module(fields)
		if err != nil {
			return nil, err
		}
		var args []any
		for _, v := range fields["args"].GetListValue().GetValues() {
			args = append(args, v.AsInterface())
		}
		result, err := m.Call(ctx, fields["function"].GetStringValue(), args)
		if err != nil {
			return nil, err
		}
		return structpb.NewStruct(map[string]any{"result": result})

	case MethodClear:
		id := uint64(fields["id"].GetNumberValue())
		s.mu.Lock()
		m, ok := s.modules[id]
		delete(s.modules, id)
		s.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("unknown module %d", id)
		}
		return done(m.Close())

	case MethodDestroy:
		s.mu.Lock()
		s.modules = make(map[uint64]Module)
		s.mu.Unlock()
		return done(s.loader.Destroy(ctx))

	default:
		return nil, fmt.Errorf("unknown method %s", method)
	}
}

func (s *server) track(m Module, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, err
	}
	if isNil(m) {
		return nil, fmt.Errorf("loader returned no module")
	}
	s.mu.Lock()
	s.next++
	id := s.next
	s.modules[id] = m
	s.mu.Unlock()
	return structpb.NewStruct(map[string]any{"id": float64(id)})
}

// isNil reports whether m is nil or a typed nil pointer.
func isNil(m Module) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func (s *server) module(fields map[string]*structpb.Value) (Module, error) {
	id := uint64(fields["id"].GetNumberValue())
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return nil, fmt.Errorf("unknown module %d", id)
	}
	return m, nil
}

// done answers a method with no result fields.
func done(err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

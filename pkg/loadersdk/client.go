// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loadersdk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is the host-side stub of the loader service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient returns a client using conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Initialize sends the configuration scope to the remote loader. The
// configuration is reduced to JSON values first.
func (c *Client) Initialize(ctx context.Context, config map[string]any) error {
	plain := map[string]any{}
	if config != nil {
		data, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("%s: encode config: %w", MethodInitialize, err)
		}
		if err := json.Unmarshal(data, &plain); err != nil {
			return fmt.Errorf("%s: encode config: %w", MethodInitialize, err)
		}
	}
	_, err := c.invoke(ctx, MethodInitialize, map[string]any{"config": plain})
	return err
}

// ExecutionPath adds a search directory on the remote loader.
func (c *Client) ExecutionPath(ctx context.Context, path string) error {
	_, err := c.invoke(ctx, MethodExecutionPath, map[string]any{"path": path})
	return err
}

// LoadFromFile loads a module from files and returns its id.
func (c *Client) LoadFromFile(ctx context.Context, paths []string) (uint64, error) {
	list := make([]any, len(paths))
	for i, p := range paths {
		list[i] = p
	}
	return c.load(ctx, MethodLoadFromFile, map[string]any{"paths": list})
}

// LoadFromMemory loads a module from a buffer and returns its id.
func (c *Client) LoadFromMemory(ctx context.Context, name string, buffer []byte) (uint64, error) {
	return c.load(ctx, MethodLoadFromMemory, map[string]any{
		"name":   name,
		"buffer": base64.StdEncoding.EncodeToString(buffer),
	})
}

// LoadFromPackage loads a module from a bundle and returns its id.
func (c *Client) LoadFromPackage(ctx context.Context, path string) (uint64, error) {
	return c.load(ctx, MethodLoadFromPackage, map[string]any{"path": path})
}

func (c *Client) load(ctx context.Context, method string, req map[string]any) (uint64, error) {
	out, err := c.invoke(ctx, method, req)
	if err != nil {
		return 0, err
	}
	id := out.GetFields()["id"].GetNumberValue()
	if id < 1 || id != math.Trunc(id) {
		return 0, fmt.Errorf("%s: invalid module id %v", method, id)
	}
	return uint64(id), nil
}

// Discover lists the functions of module id.
func (c *Client) Discover(ctx context.Context, id uint64) ([]FunctionInfo, error) {
	out, err := c.invoke(ctx, MethodDiscover, map[string]any{"id": float64(id)})
	if err != nil {
		return nil, err
	}
	values := out.GetFields()["functions"].GetListValue().GetValues()
	fns := make([]FunctionInfo, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		fns = append(fns, FunctionInfo{
			Name:      f["name"].GetStringValue(),
			Signature: f["signature"].GetStringValue(),
		})
	}
	return fns, nil
}

// Call invokes function name of module id. Integral numbers in the result
// are returned as int64.
func (c *Client) Call(ctx context.Context, id uint64, name string, args []any) (any, error) {
	list := make([]any, len(args))
	copy(list, args)
	out, err := c.invoke(ctx, MethodCall, map[string]any{
		"id":       float64(id),
		"function": name,
		"args":     list,
	})
	if err != nil {
		return nil, err
	}
	return Normalize(out.GetFields()["result"].AsInterface()), nil
}

// Clear releases module id on the remote loader.
func (c *Client) Clear(ctx context.Context, id uint64) error {
	_, err := c.invoke(ctx, MethodClear, map[string]any{"id": float64(id)})
	return err
}

// Destroy releases the remote loader.
func (c *Client) Destroy(ctx context.Context) error {
	_, err := c.invoke(ctx, MethodDestroy, map[string]any{})
	return err
}

// Normalize converts integral float64 values, including those nested in
// lists and maps, to int64.
func Normalize(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []any:
		for i := range x {
			x[i] = Normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = Normalize(x[k])
		}
		return x
	default:
		return v
	}
}

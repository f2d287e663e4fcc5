package tagrpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "tagalarm.v1.TagService"

	// PublishMethod is the full method path of the Publish RPC.
	PublishMethod = "/" + ServiceName + "/Publish"
)

// Update is one tag value observed at a point in time.
type Update struct {
	Tag       string
	Value     any
	Timestamp time.Time
}

// TagServiceServer is implemented by the server side of the tag service.
type TagServiceServer interface {
	Publish(ctx context.Context, updates []Update) error
}

// ServiceDesc describes the tag service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TagServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tagalarm/v1/tags.proto",
}

// RegisterTagServiceServer registers srv on s.
func RegisterTagServiceServer(s grpc.ServiceRegistrar, srv TagServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		updates, err := Decode(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if err := srv.(TagServiceServer).Publish(ctx, updates); err != nil {
			return nil, err
		}
		return &emptypb.Empty{}, nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishMethod}
	return interceptor(ctx, in, info, call)
}

// Client calls the tag service over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Publish sends a batch of updates in one RPC.
func (c *Client) Publish(ctx context.Context, updates []Update, opts ...grpc.CallOption) error {
	req, err := Encode(updates)
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, PublishMethod, req, new(emptypb.Empty), opts...)
}

// Encode converts updates to the wire message:
//
//	{"updates": [{"tag": "...", "value": <scalar>, "timestamp": "<RFC 3339>"}]}
//
// A zero Timestamp is omitted so the server stamps the receive time.
func Encode(updates []Update) (*structpb.Struct, error) {
	list := make([]any, 0, len(updates))
	for _, u := range updates {
		item := map[string]any{"tag": u.Tag, "value": u.Value}
		if !u.Timestamp.IsZero() {
			item["timestamp"] = u.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		list = append(list, item)
	}
	s, err := structpb.NewStruct(map[string]any{"updates": list})
	if err != nil {
		return nil, fmt.Errorf("tagrpc: encode: %w", err)
	}
	return s, nil
}

// Decode is the inverse of Encode. Numbers decode as float64.
func Decode(s *structpb.Struct) ([]Update, error) {
	list := s.GetFields()["updates"].GetListValue()
	if list == nil {
		return nil, errors.New("updates list is required")
	}

	out := make([]Update, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		item := v.GetStructValue()
		if item == nil {
			return nil, fmt.Errorf("updates[%d]: not an object", i)
		}
		f := item.GetFields()

		u := Update{Tag: f["tag"].GetStringValue()}
		if u.Tag == "" {
			return nil, fmt.Errorf("updates[%d]: tag is required", i)
		}
		val, ok := f["value"]
		if !ok {
			return nil, fmt.Errorf("updates[%d]: value is required", i)
		}
		u.Value = val.AsInterface()
		if ts := f["timestamp"].GetStringValue(); ts != "" {
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("updates[%d]: timestamp: %w", i, err)
			}
			u.Timestamp = t
		}
		out = append(out, u)
	}
	return out, nil
}

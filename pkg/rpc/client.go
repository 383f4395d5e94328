package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote Verifier service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Reply is the decoded form of a Verify response.
type Reply struct {
	Verdict     string
	Steady      bool
	FailedCheck string
	WindowSize  int
	FirstRound  int
	Values      []float64
	Threshold   float64
	Average     float64
	Upper       float64
	Lower       float64
	Slope       float64
	Intercept   float64
	FitFirst    float64
	FitLast     float64
}

// VerifyStruct sends a raw request message.
func (c *Client) VerifyStruct(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, VerifyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify sends req and decodes the reply. Errors carry the gRPC status
// returned by the server.
func (c *Client) Verify(ctx context.Context, req Request, opts ...grpc.CallOption) (Reply, error) {
	in, err := req.Struct()
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}
	out, err := c.VerifyStruct(ctx, in, opts...)
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(out), nil
}

func decodeReply(s *structpb.Struct) Reply {
	f := s.GetFields()
	num := func(key string) float64 { return f[key].GetNumberValue() }

	r := Reply{
		Verdict:     f["verdict"].GetStringValue(),
		Steady:      f["steady"].GetBoolValue(),
		FailedCheck: f["failedCheck"].GetStringValue(),
		WindowSize:  int(num("windowSize")),
		FirstRound:  int(num("firstRound")),
		Threshold:   num("threshold"),
		Average:     num("average"),
		Upper:       num("upper"),
		Lower:       num("lower"),
		Slope:       num("slope"),
		Intercept:   num("intercept"),
		FitFirst:    num("fitFirst"),
		FitLast:     num("fitLast"),
	}
	for _, v := range f["values"].GetListValue().GetValues() {
		r.Values = append(r.Values, v.GetNumberValue())
	}
	return r
}

// Package rpc exposes steady state evaluation over gRPC as the
// steadystate.v1.Verifier service.
//
// Messages are google.protobuf.Struct so any gRPC client can call the service
// without generated stubs:
//
//	request:  {"values": [..], "windowSize": 5, "threshold": 0.1}
//	response: {"verdict": "steady", "steady": true, "failedCheck": "none",
//	           "values": [..], "firstRound": 6, "average": .., "upper": ..,
//	           "lower": .., "slope": .., "intercept": .., "fitFirst": ..,
//	           "fitLast": .., "threshold": .., "windowSize": 5}
//
// threshold is optional and defaults to the server evaluator's threshold.
// Too few values yield FailedPrecondition; malformed requests InvalidArgument.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/steadystate/pkg/steadystate"
)

const (
	ServiceName  = "steadystate.v1.Verifier"
	VerifyMethod = "/" + ServiceName + "/Verify"
)

// VerifierServer is the server API for the Verifier service.
type VerifierServer interface {
	Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Verifier service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VerifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Verify",
			Handler:    verifyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

// RegisterVerifierServer registers srv on s.
func RegisterVerifierServer(s grpc.ServiceRegistrar, srv VerifierServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VerifierServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VerifierServer).Verify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements VerifierServer on top of a steadystate.Evaluator.
type Server struct {
	evaluator *steadystate.Evaluator
	logger    *slog.Logger
}

// NewServer creates a Server. A nil evaluator uses the default threshold and a
// nil logger slog.Default().
func NewServer(evaluator *steadystate.Evaluator, logger *slog.Logger) *Server {
	if evaluator == nil {
		evaluator = steadystate.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{evaluator: evaluator, logger: logger}
}

// Verify evaluates the request's values.
func (s *Server) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := DecodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ev := s.evaluator
	if r.Threshold != nil {
		ev = steadystate.New(steadystate.WithThreshold(*r.Threshold))
	}

	res, err := ev.Evaluate(r.Values, r.WindowSize)
	if err != nil {
		switch {
		case errors.Is(err, steadystate.ErrInsufficientData):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, steadystate.ErrInvalidWindowSize),
			errors.Is(err, steadystate.ErrInvalidThreshold),
			errors.Is(err, steadystate.ErrNonFiniteSample):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			s.logger.Error("evaluation failed", "error", err)
			return nil, status.Error(codes.Internal, "evaluation failed")
		}
	}

	s.logger.Debug("values in window",
		"values", res.Values(),
		"verdict", res.Verdict.String(),
		"failed_check", res.FailedCheck.String(),
	)

	out, err := EncodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Request is the decoded form of a Verify request.
type Request struct {
	Values     []float64
	WindowSize int
	// Threshold is nil when the request leaves it to the server.
	Threshold *float64
}

// Struct encodes r as a Verify request message.
func (r Request) Struct() (*structpb.Struct, error) {
	vals := make([]any, len(r.Values))
	for i, v := range r.Values {
		vals[i] = v
	}
	m := map[string]any{
		"values":     vals,
		"windowSize": r.WindowSize,
	}
	if r.Threshold != nil {
		m["threshold"] = *r.Threshold
	}
	return structpb.NewStruct(m)
}

// DecodeRequest validates the shape of a Verify request message. Numeric
// checks on the values themselves are left to the evaluator.
func DecodeRequest(s *structpb.Struct) (Request, error) {
	fields := s.GetFields()

	list, ok := fields["values"]
	if !ok {
		return Request{}, errors.New("values is required")
	}
	lv, ok := list.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return Request{}, errors.New("values must be a list of numbers")
	}
	var r Request
	for i, v := range lv.ListValue.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return Request{}, fmt.Errorf("values[%d] is not a number", i)
		}
		r.Values = append(r.Values, n.NumberValue)
	}

	ws, ok := fields["windowSize"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return Request{}, errors.New("windowSize must be a number")
	}
	if ws.NumberValue != math.Trunc(ws.NumberValue) || ws.NumberValue < 1 || ws.NumberValue > math.MaxInt32 {
		return Request{}, fmt.Errorf("windowSize must be a positive integer: %v", ws.NumberValue)
	}
	r.WindowSize = int(ws.NumberValue)

	if t, present := fields["threshold"]; present {
		n, ok := t.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return Request{}, errors.New("threshold must be a number")
		}
		th := n.NumberValue
		r.Threshold = &th
	}

	return r, nil
}

// EncodeResult converts an evaluation result into a Verify response message.
func EncodeResult(res steadystate.Result) (*structpb.Struct, error) {
	vals := make([]any, len(res.Window))
	for i, p := range res.Window {
		vals[i] = p.Value
	}
	firstRound := 0
	if len(res.Window) > 0 {
		firstRound = res.Window[0].Round
	}

	return structpb.NewStruct(map[string]any{
		"verdict":     res.Verdict.String(),
		"steady":      res.Steady(),
		"failedCheck": res.FailedCheck.String(),
		"windowSize":  len(res.Window),
		"firstRound":  firstRound,
		"values":      vals,
		"threshold":   res.Threshold,
		"average":     res.Average,
		"upper":       res.Upper,
		"lower":       res.Lower,
		"slope":       res.Fit.Slope,
		"intercept":   res.Fit.Intercept,
		"fitFirst":    res.FitFirst,
		"fitLast":     res.FitLast,
	})
}

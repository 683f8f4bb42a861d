package backend

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// callMethod is the fixed unary RPC method this module's backend adapters
// speak. Unlike pkg/agent/llm_grpc.go's streaming Generate call against a
// service-specific generated client, this module has no .proto-compiled
// stubs available to regenerate (see DESIGN.md), so grpcAdapter invokes the
// method directly against google.golang.org/protobuf's precompiled
// structpb.Struct message — a real, already-compiled proto.Message requiring
// no code generation — carrying {persona, payload, options} out and
// {text, input_tokens, output_tokens} back.
const callMethod = "/orchestrator.backend.v1.BackendService/Call"

// grpcAdapter implements Adapter by calling an external model-serving
// process over gRPC, collapsed from the teacher's streaming-chunk channel
// (pkg/agent/llm_grpc.go) to a single blocking unary call, matching spec.md
// §4.9's single `call(...)` operation.
type grpcAdapter struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func newGRPCAdapter(addr string, timeout time.Duration) (*grpcAdapter, error) {
	if addr == "" {
		return nil, fmt.Errorf("grpc adapter requires a non-empty endpoint")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client for %s: %w", addr, err)
	}
	return &grpcAdapter{conn: conn, timeout: timeout}, nil
}

func (a *grpcAdapter) Call(ctx context.Context, persona string, payload string, opts Options) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"persona":      persona,
		"payload":      payload,
		"max_tokens":   opts.MaxTokens,
		"temperature":  opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode backend request: %w", err)
	}

	return timed(func() (string, Usage, error) {
		resp := &structpb.Struct{}
		if err := a.conn.Invoke(callCtx, callMethod, req, resp); err != nil {
			return "", Usage{}, fmt.Errorf("backend call failed: %w", err)
		}
		fields := resp.GetFields()
		text := fields["text"].GetStringValue()
		usage := Usage{
			InputTokens:  int(fields["input_tokens"].GetNumberValue()),
			OutputTokens: int(fields["output_tokens"].GetNumberValue()),
		}
		return text, usage, nil
	})
}

func (a *grpcAdapter) Close() error {
	return a.conn.Close()
}

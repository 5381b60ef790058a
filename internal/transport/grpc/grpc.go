// Package grpc implements the gRPC transport for agrivoice.
//
// The service is agrivoice.v1.QueryService with a single unary Ask method.
// Messages travel as JSON under the "json" content-subtype, so clients need
// no generated stubs: any gRPC client that sets the subtype can call it. The
// standard grpc.health.v1 service is registered alongside it.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/transport"
)

// Service and method names.
const (
	ServiceName = "agrivoice.v1.QueryService"
	AskMethod   = "/" + ServiceName + "/Ask"
)

// AskRequest is the request message of QueryService.Ask.
type AskRequest struct {
	Text        string `json:"text,omitempty"`
	Audio       []byte `json:"audio,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Language    string `json:"language,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// QueryServiceServer is the server API for QueryService.
type QueryServiceServer interface {
	Ask(ctx context.Context, req *AskRequest) (*message.QueryResult, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ask", Handler: askHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agrivoice/v1/query.proto",
}

func askHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServiceServer).Ask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AskMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QueryServiceServer).Ask(ctx, req.(*AskRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterQueryServiceServer registers srv on s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Client calls QueryService over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Ask sends one question and returns the pipeline result.
func (c *Client) Ask(ctx context.Context, req *AskRequest, opts ...grpc.CallOption) (*message.QueryResult, error) {
	out := new(message.QueryResult)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, AskMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// queryServer adapts a transport.Handler to QueryServiceServer.
type queryServer struct {
	handler transport.Handler
}

// Ask runs the pipeline. Input failures map to InvalidArgument; every other
// outcome is returned as a result whose success and error_kind tell the story.
func (s *queryServer) Ask(ctx context.Context, req *AskRequest) (*message.QueryResult, error) {
	result := s.handler(ctx, &message.Query{
		Text:        req.Text,
		Audio:       req.Audio,
		ContentType: req.ContentType,
		Language:    req.Language,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Source:      "grpc",
	})
	switch result.ErrorKind {
	case message.ErrorKindEmptyInput, message.ErrorKindInvalidInput:
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s: %s", result.ErrorKind, result.ErrorMessage))
	}
	return result, nil
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	health *grpchealth.Server

	mu     sync.Mutex
	server *grpc.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port, health: grpchealth.NewServer()}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Health returns the grpc.health.v1 server so readiness can be published to it.
func (t *Transport) Health() *grpchealth.Server { return t.health }

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.health.Shutdown()
		_ = t.Close()
	}()

	return t.Serve(lis, handler)
}

// Serve serves on an existing listener until the server stops.
func (t *Transport) Serve(lis net.Listener, handler transport.Handler) error {
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary))
	RegisterQueryServiceServer(server, &queryServer{handler: handler})
	healthpb.RegisterHealthServer(server, t.health)

	t.mu.Lock()
	t.server = server
	t.mu.Unlock()
	return server.Serve(lis)
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server != nil {
		server.GracefulStop()
	}
	return nil
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	slog.Debug("grpc call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

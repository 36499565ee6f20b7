package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"RebalancePool/internal/ingestion"
	"RebalancePool/internal/observability"
	"RebalancePool/internal/persistence"
	"RebalancePool/internal/projection"
	"RebalancePool/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names. Requests and responses are google.protobuf.Struct so the
// services need no generated stubs.
const (
	QueryServiceName  = "rebalancepool.v1.QueryService"
	IngestServiceName = "rebalancepool.v1.IngestService"
	AdminServiceName  = "rebalancepool.v1.AdminService"
)

// SnapshotFunc asks the core loop for a snapshot and returns its sequence.
type SnapshotFunc func(ctx context.Context) (int64, error)

// ServerDeps holds all dependencies needed by the services.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	InjectService *ingestion.InjectService
	SnapshotMgr   *persistence.SnapshotManager
	TakeSnapshot  SnapshotFunc
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	StartTime     time.Time
}

type handlerFunc func(ctx context.Context, req *structpb.Struct) (interface{}, error)

// method is one RPC, reachable over gRPC and, when route is set, over HTTP.
type method struct {
	service string
	name    string
	handler handlerFunc
}

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	gateway    *Gateway
	grpcAddr   string
	deps       *ServerDeps
	methods    map[string]method
}

// NewGRPCServer creates a gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		grpcAddr:   grpcAddr,
		deps:       deps,
	}
	s.methods = s.buildMethods()

	for _, name := range []string{QueryServiceName, IngestServiceName, AdminServiceName} {
		s.grpcServer.RegisterService(s.serviceDesc(name), s)
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)

	s.gateway = newGateway(httpAddr, s, deps)
	return s
}

func (s *GRPCServer) buildMethods() map[string]method {
	all := []method{
		{QueryServiceName, "GetPool", s.getPool},
		{QueryServiceName, "GetAccount", s.getAccount},
		{QueryServiceName, "GetTokenBalance", s.getTokenBalance},
		{QueryServiceName, "ListLiquidations", s.listLiquidations},
		{QueryServiceName, "ListClaims", s.listClaims},
		{QueryServiceName, "ListJournals", s.listJournals},
		{QueryServiceName, "GetSystemStatus", s.getSystemStatus},
		{IngestServiceName, "SubmitCommand", s.submitCommand},
		{AdminServiceName, "TakeSnapshot", s.takeSnapshot},
		{AdminServiceName, "RebuildProjections", s.rebuildProjections},
		{AdminServiceName, "GetCommandLogInfo", s.getCommandLogInfo},
		{AdminServiceName, "VerifyIntegrity", s.verifyIntegrity},
	}
	out := make(map[string]method, len(all))
	for _, m := range all {
		out[m.name] = m
	}
	return out
}

func (s *GRPCServer) serviceDesc(service string) *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: service,
		HandlerType: (*interface{})(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "rebalancepool/v1/service.proto",
	}
	for _, m := range s.methods {
		if m.service != service {
			continue
		}
		m := m
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.invoke(ctx, m, req.(*structpb.Struct))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + m.service + "/" + m.name}
				return interceptor(ctx, in, info, call)
			},
		})
	}
	return desc
}

// invoke runs a handler with metrics and converts its result to a Struct.
func (s *GRPCServer) invoke(ctx context.Context, m method, req *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()
	if req == nil {
		req = &structpb.Struct{}
	}

	result, err := m.handler(ctx, req)
	if err == nil {
		var out *structpb.Struct
		out, err = toStruct(result)
		if err == nil {
			s.observe(m.name, start, nil)
			return out, nil
		}
		err = status.Errorf(codes.Internal, "encode response: %v", err)
	}

	err = toStatus(err)
	s.observe(m.name, start, err)
	return nil, err
}

func (s *GRPCServer) observe(endpoint string, start time.Time, err error) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(endpoint).Inc()
	m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		m.QueryErrors.WithLabelValues(endpoint, status.Code(err).String()).Inc()
	}
}

// StartGRPC serves until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.deps.Logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON API until ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	return s.gateway.Start(ctx)
}

// ============================================================================
// QueryService
// ============================================================================

func (s *GRPCServer) getPool(ctx context.Context, _ *structpb.Struct) (interface{}, error) {
	return s.deps.QueryService.GetPool(ctx)
}

func (s *GRPCServer) getAccount(ctx context.Context, req *structpb.Struct) (interface{}, error) {
	addr, err := addressArg(req, "address")
	if err != nil {
		return nil, err
	}
	return s.deps.QueryService.GetAccount(ctx, addr)
}

func (s *GRPCServer) getTokenBalance(ctx context.Context, req *structpb.Struct) (interface{}, error) {
	token := stringArg(req, "token")
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	holder, err := addressArg(req, "holder")
	if err != nil {
		return nil, err
	}
	return s.deps.QueryService.GetTokenBalance(ctx, token, holder)
}

func (s *GRPCServer) listLiquidations(ctx context.Context, req *structpb.Struct) (interface{}, error) {
	limit, before, err := pageArgs(req)
	if err != nil {
		return nil, err
	}
	items, err := s.deps.QueryService.ListLiquidations(ctx, limit, before)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"liquidations": items}, nil
}

func (s *GRPCServer) listClaims(ctx context.Context, req *structpb.Struct) (interface{}, error) {
	addr, err := addressArg(req, "address")
	if err != nil {
		return nil, err
	}
	limit, before, err := pageArgs(req)
	if err != nil {
		return nil, err
	}
	items, err := s.deps.QueryService.ListClaims(ctx, addr, limit, before)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"claims": items}, nil
}

func (s *GRPCServer) listJournals(ctx context.Context, req *structpb.Struct) (interface{}, error) {
	addr, err := addressArg(req, "address")
	if err != nil {
		return nil, err
	}
	limit, before, err := pageArgs(req)
	if err != nil {
		return nil, err
	}
	items, err := s.deps.QueryService.GetJournalHistory(ctx, addr, limit, before)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"journals": items}, nil
}

func (s *GRPCServer) getSystemStatus(ctx context.Context, _ *structpb.Struct) (interface{}, error) {
	state := "starting"
	if s.deps.HealthChecker != nil && s.deps.HealthChecker.IsReady() {
		state = "ready"
	}
	watermark, updatedAt, err := s.deps.QueryService.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	resp := map[string]interface{}{
		"state":                state,
		"projection_watermark": watermark,
		"uptime_seconds":       int64(time.Since(s.deps.StartTime).Seconds()),
	}
	if !updatedAt.IsZero() {
		resp["projection_updated_at"] = updatedAt.UTC().Format(time.RFC3339Nano)
	}
	return resp, nil
}

// ============================================================================
// IngestService
// ============================================================================

func (s *GRPCServer) submitCommand(ctx context.Context, req *structpb.Struct) (interface{}, error) {
	commandType := stringArg(req, "command_type")
	if commandType == "" {
		return nil, status.Error(codes.InvalidArgument, "command_type is required")
	}
	payload := req.GetFields()["payload"].GetStructValue()
	if payload == nil {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	// encoding/json keeps integral numbers such as timestamp_us out of
	// exponent form.
	data, err := json.Marshal(payload.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "payload: %v", err)
	}
	return s.submitRaw(ctx, commandType, data)
}

func (s *GRPCServer) submitRaw(ctx context.Context, commandType string, data []byte) (interface{}, error) {
	cmd, err := s.deps.InjectService.Inject(ctx, commandType, data)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"accepted":        true,
		"command_type":    cmd.CommandType().String(),
		"idempotency_key": cmd.IdempotencyKey(),
	}, nil
}

// ============================================================================
// AdminService
// ============================================================================

func (s *GRPCServer) takeSnapshot(ctx context.Context, _ *structpb.Struct) (interface{}, error) {
	if s.deps.TakeSnapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are disabled")
	}
	seq, err := s.deps.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"sequence": seq}, nil
}

func (s *GRPCServer) rebuildProjections(ctx context.Context, _ *structpb.Struct) (interface{}, error) {
	if err := projection.RebuildProjections(ctx, s.deps.DB, s.deps.Logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return map[string]interface{}{"rebuilt": true}, nil
}

func (s *GRPCServer) getCommandLogInfo(ctx context.Context, _ *structpb.Struct) (interface{}, error) {
	latest, err := s.deps.SnapshotMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	return map[string]interface{}{"last_sequence": latest}, nil
}

func (s *GRPCServer) verifyIntegrity(ctx context.Context, _ *structpb.Struct) (interface{}, error) {
	return s.deps.QueryService.VerifyIntegrity(ctx)
}

// ============================================================================
// Helpers
// ============================================================================

// toStruct round-trips v through JSON so struct tags shape the response.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, query.ErrUnknownToken), errors.Is(err, ingestion.ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// stringArg reads a field that may arrive as a string or a number.
func stringArg(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatInt(int64(k.NumberValue), 10)
	}
	return ""
}

func addressArg(req *structpb.Struct, name string) (common.Address, error) {
	s := stringArg(req, name)
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// pageArgs reads limit and the exclusive "before" sequence cursor.
func pageArgs(req *structpb.Struct) (int, *int64, error) {
	var limit int
	if s := stringArg(req, "limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, nil, status.Errorf(codes.InvalidArgument, "limit: %v", err)
		}
		limit = n
	}

	var before *int64
	if s := stringArg(req, "before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, nil, status.Errorf(codes.InvalidArgument, "before: %v", err)
		}
		before = &n
	}
	return limit, before, nil
}

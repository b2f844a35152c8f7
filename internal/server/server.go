// Package server exposes the depot administrative console over gRPC.
//
// The service is depot.admin.v1.AdminService. Every method takes and returns
// a google.protobuf.Struct carrying a JSON-shaped message, so the service
// needs no generated code; the DTOs live in messages.go.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/depot-reserve/internal/controller"
	"github.com/ChuLiYu/depot-reserve/internal/jobmanager"
	depotstatus "github.com/ChuLiYu/depot-reserve/internal/status"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

var log = slog.Default()

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "depot.admin.v1.AdminService"

// Backend is what the console operates on. *controller.Controller
// implements it.
type Backend interface {
	EnqueueOrder(order types.Order, priority int) error
	OrderResult(id types.OrderID) (types.OrderOutcome, error)
	EnableJobs(ids []types.JobID) jobmanager.BatchReport
	DisableJobs(ids []types.JobID) jobmanager.BatchReport
	ClearJobErrors(ids []types.JobID) jobmanager.BatchReport
	RestoreDefaults() jobmanager.BatchReport
	ExecuteJob(id types.JobID) error
	InterruptJob(id types.JobID) error
	DeleteJob(id types.JobID) error
	Job(id types.JobID) (types.ScheduledJob, error)
	Status() depotstatus.Report
}

var _ Backend = (*controller.Controller)(nil)

// Server implements AdminService.
type Server struct {
	backend Backend
	grpc    *grpc.Server
}

// NewServer creates the service and its grpc.Server.
func NewServer(backend Backend, opts ...grpc.ServerOption) *Server {
	s := &Server{backend: backend}
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	log.Info("admin service listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop finishes in-flight calls and stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// ============================================================================
// Orders
// ============================================================================

// SubmitOrder queues an order for reservation.
func (s *Server) SubmitOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubmitOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.backend.EnqueueOrder(req.Order, req.Priority); err != nil {
		return nil, toStatus(err)
	}
	return encode(SubmitOrderReply{OrderID: req.Order.ID})
}

// OrderResult returns the outcome of a dispatched order.
func (s *Server) OrderResult(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req OrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	out, err := s.backend.OrderResult(req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(out)
}

// ============================================================================
// Jobs
// ============================================================================

func (s *Server) batch(in *structpb.Struct, fn func([]types.JobID) jobmanager.BatchReport) (*structpb.Struct, error) {
	var req JobsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if len(req.JobIDs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no job ids")
	}
	return encode(batchReply(fn(req.JobIDs)))
}

// EnableJobs enables each job independently.
func (s *Server) EnableJobs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.batch(in, s.backend.EnableJobs)
}

// DisableJobs disables each job independently.
func (s *Server) DisableJobs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.batch(in, s.backend.DisableJobs)
}

// ClearJobErrors clears the last error of each job independently.
func (s *Server) ClearJobErrors(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.batch(in, s.backend.ClearJobErrors)
}

// RestoreDefaults resets the registry to the default job set.
func (s *Server) RestoreDefaults(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encode(batchReply(s.backend.RestoreDefaults()))
}

func (s *Server) single(in *structpb.Struct, fn func(types.JobID) error) (*structpb.Struct, error) {
	var req JobRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "no job id")
	}
	if err := fn(req.JobID); err != nil {
		return nil, toStatus(err)
	}

	reply := JobReply{JobID: req.JobID}
	if j, err := s.backend.Job(req.JobID); err == nil {
		reply.State = jobmanager.VisualStateOf(j)
	}
	return encode(reply)
}

// ExecuteJob starts a run now.
func (s *Server) ExecuteJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.single(in, s.backend.ExecuteJob)
}

// InterruptJob asks a running job to stop.
func (s *Server) InterruptJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.single(in, s.backend.InterruptJob)
}

// DeleteJob deletes an idle job.
func (s *Server) DeleteJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.single(in, s.backend.DeleteJob)
}

// Status returns the console report.
func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encode(s.backend.Status())
}

// ============================================================================
// Errors
// ============================================================================

// toStatus maps domain errors to gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, jobmanager.ErrJobNotFound),
		errors.Is(err, controller.ErrOrderNotFound):
		code = codes.NotFound
	case errors.Is(err, controller.ErrDuplicateOrder),
		errors.Is(err, jobmanager.ErrDuplicateJob):
		code = codes.AlreadyExists
	case errors.Is(err, controller.ErrInvalidOrder),
		errors.Is(err, jobmanager.ErrInvalidTrigger):
		code = codes.InvalidArgument
	case errors.Is(err, jobmanager.ErrGuardViolation),
		errors.Is(err, controller.ErrOrderPending),
		errors.Is(err, controller.ErrNotOwner):
		code = codes.FailedPrecondition
	case errors.Is(err, controller.ErrStopped), errors.Is(err, controller.ErrNotStarted):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// ============================================================================
// Service descriptor
// ============================================================================

type handlerFunc func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, h handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return h(srv.(*Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return h(srv.(*Server), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitOrder", (*Server).SubmitOrder),
		unary("OrderResult", (*Server).OrderResult),
		unary("EnableJobs", (*Server).EnableJobs),
		unary("DisableJobs", (*Server).DisableJobs),
		unary("ClearJobErrors", (*Server).ClearJobErrors),
		unary("ExecuteJob", (*Server).ExecuteJob),
		unary("InterruptJob", (*Server).InterruptJob),
		unary("DeleteJob", (*Server).DeleteJob),
		unary("RestoreDefaults", (*Server).RestoreDefaults),
		unary("Status", (*Server).Status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "depot/admin/v1/admin.proto",
}

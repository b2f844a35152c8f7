package server

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/depot-reserve/internal/jobmanager"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// SubmitOrderRequest queues Order with Priority.
type SubmitOrderRequest struct {
	Order    types.Order `json:"order"`
	Priority int         `json:"priority"`
}

// SubmitOrderReply acknowledges a queued order.
type SubmitOrderReply struct {
	OrderID types.OrderID `json:"order_id"`
}

// OrderRequest names one order.
type OrderRequest struct {
	OrderID types.OrderID `json:"order_id"`
}

// JobsRequest names the jobs of a batch command.
type JobsRequest struct {
	JobIDs []types.JobID `json:"job_ids"`
}

// JobRequest names one job.
type JobRequest struct {
	JobID types.JobID `json:"job_id"`
}

// JobReply reports the job state after a command.
type JobReply struct {
	JobID types.JobID       `json:"job_id"`
	State types.VisualState `json:"state,omitempty"`
}

// BatchFailure is one id a batch command rejected.
type BatchFailure struct {
	JobID types.JobID `json:"job_id"`
	Error string      `json:"error"`
}

// BatchReply lists per-id outcomes of a batch command.
type BatchReply struct {
	Command   string         `json:"command"`
	Succeeded []types.JobID  `json:"succeeded"`
	Failed    []BatchFailure `json:"failed,omitempty"`
}

func batchReply(r jobmanager.BatchReport) BatchReply {
	reply := BatchReply{
		Command:   string(r.Command),
		Succeeded: r.Succeeded,
	}
	if reply.Succeeded == nil {
		reply.Succeeded = []types.JobID{}
	}
	for _, f := range r.Failed {
		reply.Failed = append(reply.Failed, BatchFailure{JobID: f.JobID, Error: f.Err.Error()})
	}
	return reply
}

// encode converts a JSON-shaped value into a Struct envelope.
func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return s, nil
}

// decode fills v from a Struct envelope.
func decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

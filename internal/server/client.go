package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/depot-reserve/internal/status"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// Client calls AdminService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the admin service at addr.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial admin service %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, reply any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return decode(out, reply)
}

// SubmitOrder queues order with priority.
func (c *Client) SubmitOrder(ctx context.Context, order types.Order, priority int) error {
	return c.call(ctx, "SubmitOrder", SubmitOrderRequest{Order: order, Priority: priority}, nil)
}

// OrderResult fetches the outcome of an order.
func (c *Client) OrderResult(ctx context.Context, id types.OrderID) (types.OrderOutcome, error) {
	var out types.OrderOutcome
	err := c.call(ctx, "OrderResult", OrderRequest{OrderID: id}, &out)
	return out, err
}

// EnableJobs enables jobs.
func (c *Client) EnableJobs(ctx context.Context, ids ...types.JobID) (BatchReply, error) {
	return c.batch(ctx, "EnableJobs", ids)
}

// DisableJobs disables jobs.
func (c *Client) DisableJobs(ctx context.Context, ids ...types.JobID) (BatchReply, error) {
	return c.batch(ctx, "DisableJobs", ids)
}

// ClearJobErrors clears job errors.
func (c *Client) ClearJobErrors(ctx context.Context, ids ...types.JobID) (BatchReply, error) {
	return c.batch(ctx, "ClearJobErrors", ids)
}

// RestoreDefaults resets the default job set.
func (c *Client) RestoreDefaults(ctx context.Context) (BatchReply, error) {
	var out BatchReply
	err := c.call(ctx, "RestoreDefaults", struct{}{}, &out)
	return out, err
}

func (c *Client) batch(ctx context.Context, method string, ids []types.JobID) (BatchReply, error) {
	var out BatchReply
	err := c.call(ctx, method, JobsRequest{JobIDs: ids}, &out)
	return out, err
}

// ExecuteJob starts a run now.
func (c *Client) ExecuteJob(ctx context.Context, id types.JobID) (JobReply, error) {
	return c.single(ctx, "ExecuteJob", id)
}

// InterruptJob interrupts a running job.
func (c *Client) InterruptJob(ctx context.Context, id types.JobID) (JobReply, error) {
	return c.single(ctx, "InterruptJob", id)
}

// DeleteJob deletes a job.
func (c *Client) DeleteJob(ctx context.Context, id types.JobID) (JobReply, error) {
	return c.single(ctx, "DeleteJob", id)
}

func (c *Client) single(ctx context.Context, method string, id types.JobID) (JobReply, error) {
	var out JobReply
	err := c.call(ctx, method, JobRequest{JobID: id}, &out)
	return out, err
}

// Status fetches the console report.
func (c *Client) Status(ctx context.Context) (status.Report, error) {
	var out status.Report
	err := c.call(ctx, "Status", struct{}{}, &out)
	return out, err
}

package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// GRPCHealthClient probes the opr server's gRPC listener.
type GRPCHealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
	token  string
}

// NewGRPCHealthClient connects to the given gRPC address.
func NewGRPCHealthClient(addr, token string) (*GRPCHealthClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCHealthClient{
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
		token:  token,
	}, nil
}

func (c *GRPCHealthClient) Close() error {
	return c.conn.Close()
}

// Health returns the serving status of service ("" is the whole server).
func (c *GRPCHealthClient) Health(ctx context.Context, service string) (string, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

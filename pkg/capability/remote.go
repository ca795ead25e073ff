package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
)

// RemoteClient talks to an external ML capability service. Operation
// payloads travel as JSON over HTTP; liveness uses the service's standard
// gRPC health endpoint.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client

	grpcConn *grpc.ClientConn
	health   healthpb.HealthClient
}

// NewRemoteClient creates a client for the capability service. grpcTarget
// may be empty, in which case Healthy always reports an error.
func NewRemoteClient(baseURL, grpcTarget string) (*RemoteClient, error) {
	c := &RemoteClient{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	if grpcTarget != "" {
		conn, err := grpc.NewClient(grpcTarget, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("creating capability health channel: %w", err)
		}
		c.grpcConn = conn
		c.health = healthpb.NewHealthClient(conn)
	}
	return c, nil
}

// Close releases the health channel.
func (c *RemoteClient) Close() error {
	if c.grpcConn != nil {
		return c.grpcConn.Close()
	}
	return nil
}

// Healthy probes the service's gRPC health endpoint.
func (c *RemoteClient) Healthy(ctx context.Context) error {
	if c.health == nil {
		return errkind.New(errkind.Validation, "capability", "no health endpoint configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return errkind.Wrap(errkind.BusUnavailable, "capability", err, "health probe failed")
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return errkind.New(errkind.BusUnavailable, "capability", "service status %s", resp.Status)
	}
	return nil
}

// Train implements Trainer.
func (c *RemoteClient) Train(ctx context.Context, req TrainRequest) (*models.TrainingResult, error) {
	var result models.TrainingResult
	if err := c.post(ctx, "/v1/train", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Collect implements DataCollector.
func (c *RemoteClient) Collect(ctx context.Context, req CollectRequest) (*CollectResult, error) {
	var result CollectResult
	if err := c.post(ctx, "/v1/collect", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Infer implements Inferer.
func (c *RemoteClient) Infer(ctx context.Context, req InferRequest) (*InferResult, error) {
	var result InferResult
	if err := c.post(ctx, "/v1/infer", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SmokeTest implements SmokeTester.
func (c *RemoteClient) SmokeTest(ctx context.Context, model string, version models.Version) (*models.DeploymentTestResult, error) {
	req := struct {
		Model   string `json:"model"`
		Version string `json:"version"`
	}{Model: model, Version: version.String()}
	var result models.DeploymentTestResult
	if err := c.post(ctx, "/v1/smoke-test", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeliverExperiences implements ExperienceReceiver.
func (c *RemoteClient) DeliverExperiences(ctx context.Context, batch models.ExperienceBatch) error {
	var ack struct {
		Accepted int `json:"accepted"`
	}
	return c.post(ctx, "/v1/experiences", batch, &ack)
}

// post sends one JSON request and decodes the JSON response. Context
// deadline expiry maps to a timeout error; non-2xx responses map to
// step_failed with the body's message when present.
func (c *RemoteClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errkind.Wrap(errkind.Serialization, "capability", err, "encoding %s request", path)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errkind.Wrap(errkind.Timeout, "capability", err, "%s deadline exceeded", path)
		}
		return errkind.Wrap(errkind.StepFailed, "capability", err, "%s request failed", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errkind.Wrap(errkind.StepFailed, "capability", err, "reading %s response", path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var remoteErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &remoteErr)
		msg := remoteErr.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return errkind.New(errkind.StepFailed, "capability", "%s returned %d: %s", path, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errkind.Wrap(errkind.Serialization, "capability", err, "decoding %s response", path)
	}
	return nil
}

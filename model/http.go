package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend talks to an external model server over its replica API.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBackend creates a backend for the model server at baseURL.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type spawnRequest struct {
	ReplicaID string `json:"replica_id"`
	Model     string `json:"model"`
}

type inferRequest struct {
	ReplicaID     string `json:"replica_id"`
	Prompt        string `json:"prompt"`
	ContextBudget int    `json:"context_budget"`
}

type inferResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (b *HTTPBackend) Spawn(mirrorID, modelName string) error {
	return b.post(context.Background(), "/v1/replicas", &spawnRequest{ReplicaID: mirrorID, Model: modelName}, nil)
}

func (b *HTTPBackend) Stop(mirrorID string) error {
	req, err := http.NewRequest(http.MethodDelete, b.baseURL+"/v1/replicas/"+mirrorID, nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine DELETE replica: %w", err)
	}
	defer resp.Body.Close()
	// 404 means the replica is already gone; Stop is idempotent.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("engine HTTP %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

func (b *HTTPBackend) Infer(ctx context.Context, mirrorID, prompt string, contextBudget int) (string, error) {
	var out inferResponse
	err := b.post(ctx, "/v1/infer", &inferRequest{
		ReplicaID:     mirrorID,
		Prompt:        prompt,
		ContextBudget: contextBudget,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrEngineError, out.Error)
	}
	return out.Text, nil
}

func (b *HTTPBackend) Heartbeat(mirrorID string) error {
	resp, err := b.httpClient.Get(b.baseURL + "/v1/replicas/" + mirrorID + "/health")
	if err != nil {
		return fmt.Errorf("engine heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("engine HTTP %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

func (b *HTTPBackend) Ping() error {
	resp, err := b.httpClient.Get(b.baseURL + "/v1/health")
	if err != nil {
		return fmt.Errorf("engine ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("engine HTTP %d", resp.StatusCode)
	}
	return nil
}

func (b *HTTPBackend) Name() string {
	return "http engine"
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("engine marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("engine read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("engine HTTP %d: %s", resp.StatusCode, string(data))
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("engine decode: %w", err)
		}
	}
	return nil
}

var _ Backend = (*HTTPBackend)(nil)

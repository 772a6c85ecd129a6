package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const voyageEndpoint = "https://api.voyageai.com/v1/embeddings"

// Voyage calls the Voyage AI embeddings endpoint.
type Voyage struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewVoyage creates a Voyage AI embedding provider.
func NewVoyage(apiKey, model string) *Voyage {
	if model == "" {
		model = "voyage-3"
	}
	return &Voyage{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the Voyage embedding for one query text.
func (v *Voyage) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(&voyageRequest{
		Input:     []string{text},
		Model:     v.model,
		InputType: "query",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post embeddings: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("voyage api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("voyage returned no embeddings")
	}
	return out.Data[0].Embedding, nil
}

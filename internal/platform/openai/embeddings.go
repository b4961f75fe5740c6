package openai

import (
	"context"
	"fmt"
	"strings"
)

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input, in input order. Blank inputs are sent
// as a single space since the API rejects empty strings.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	req := embeddingsRequest{Model: c.embedModel, Input: make([]string, len(inputs))}
	for i, s := range inputs {
		if s = strings.TrimSpace(s); s == "" {
			s = " "
		}
		req.Input[i] = s
	}

	var resp embeddingsResponse
	if err := c.postJSON(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(inputs))
	for pos, d := range resp.Data {
		slot := d.Index
		if slot < 0 || slot >= len(out) || out[slot] != nil {
			slot = pos
		}
		if slot < len(out) && out[slot] == nil {
			out[slot] = d.Embedding
		}
	}
	for i, vec := range out {
		if len(vec) == 0 {
			return nil, fmt.Errorf("openai: embeddings reply missing input %d of %d (model %s)", i, len(inputs), c.embedModel)
		}
	}
	return out, nil
}

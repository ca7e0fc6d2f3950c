package aijobs

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kgr0831/transcription-worker/internal/store"
)

// GenAIClient is the genai-backed LLMClient. Prompt templates and model selection per job type
// are intentionally out of scope here; this just routes a job's input payload to the model and
// returns its text response.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient dials the Gemini API with apiKey.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("aijobs: create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GenAIClient{client: client, model: model}, nil
}

// Run sends job.InputPayload to the model and returns its text response.
func (c *GenAIClient) Run(ctx context.Context, job store.AIJob) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(job.InputPayload), nil)
	if err != nil {
		return "", fmt.Errorf("aijobs: generate content for job %s (%s): %w", job.ID, job.JobType, err)
	}
	return resp.Text(), nil
}

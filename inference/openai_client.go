package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"cardgen/core"
	"cardgen/logging"
	"cardgen/render"
)

// OpenAIClient implements Client against the OpenAI-compatible API using the
// Images endpoint for synthesis and the Audio endpoint for transcription.
// Safe for concurrent use; the underlying client pools connections.
type OpenAIClient struct {
	client          *openai.Client
	imageModel      string
	transcribeModel string
	logger          *logging.Logger
}

// NewOpenAIClient creates a backend client from the loaded configuration.
// Returns an error when no API key is configured; callers that want to run
// fallback-only should not construct a client at all.
func NewOpenAIClient(cfg *core.Config, logger *logging.Logger) (*OpenAIClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("inference: config cannot be nil")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("inference: API key is required for the remote backend")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.ImageLLMURL != "" {
		clientConfig.BaseURL = cfg.ImageLLMURL
	}

	return &OpenAIClient{
		client:          openai.NewClientWithConfig(clientConfig),
		imageModel:      cfg.ImageModel,
		transcribeModel: cfg.TranscribeModel,
		logger:          logger.Named("inference"),
	}, nil
}

// GenerateImage runs one synthesis attempt. The response is requested as
// base64 so the image bytes come back in-band instead of via a short-lived
// URL that would need a second fetch inside the attempt window.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string, width, height int) core.AttemptResult {
	if prompt == "" {
		return fatal("prompt cannot be empty")
	}

	req := openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		Size:           fmt.Sprintf("%dx%d", width, height),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}

	resp, err := c.client.CreateImage(ctx, req)
	if err != nil {
		res := classifyError(err)
		c.logger.Warnw("image attempt failed",
			zap.String("outcome", res.Outcome.String()),
			zap.String("reason", res.Reason))
		return res
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return retryable("backend returned no image data", 0)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return retryable(fmt.Sprintf("image payload not decodable: %v", err), 0)
	}
	if err := render.ValidateImageData(data); err != nil {
		return retryable(fmt.Sprintf("image payload invalid: %v", err), 0)
	}

	return core.AttemptResult{
		Outcome:   core.AttemptSuccess,
		ImageData: data,
	}
}

// Transcribe runs one speech recognition attempt over the audio bytes.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte) core.AttemptResult {
	if len(audio) == 0 {
		return fatal("audio payload is empty")
	}

	req := openai.AudioRequest{
		Model:    c.transcribeModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "voice.ogg",
	}

	resp, err := c.client.CreateTranscription(ctx, req)
	if err != nil {
		res := classifyError(err)
		c.logger.Warnw("transcription attempt failed",
			zap.String("outcome", res.Outcome.String()),
			zap.String("reason", res.Reason))
		return res
	}

	if resp.Text == "" {
		return retryable("backend returned empty transcript", 0)
	}

	return core.AttemptResult{
		Outcome:    core.AttemptSuccess,
		Transcript: resp.Text,
	}
}

// Ensure OpenAIClient implements Client at compile time.
var _ Client = (*OpenAIClient)(nil)

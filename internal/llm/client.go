package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/pkg/circuitbreaker"
	"github.com/lodeworks/backend/pkg/logger"
	"github.com/lodeworks/backend/pkg/retry"
)

const MaxDimensionScore = 2500

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// OutcomeKind tags the evaluator's response once it has been validated
// at the boundary. Everything downstream operates on this closed type
// instead of the raw completion payload.
type OutcomeKind int

const (
	OutcomeScored OutcomeKind = iota
	OutcomeZeroScores
	OutcomeMalformed
)

type Evaluation struct {
	Novelty        int
	Density        int
	Coherence      int
	Alignment      int
	Metals         map[models.Metal]float64
	Classification string
	Reasoning      string
}

type EvaluationOutcome struct {
	Kind   OutcomeKind
	Scores *Evaluation
	Reason string
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

const evaluationSystemPrompt = `You are the Lodeworks contribution evaluator. Score the submitted text on four dimensions, each an integer from 0 to 2500:

1. novelty: originality of the ideas relative to common knowledge
2. density: informational substance per unit of text
3. coherence: internal logical consistency and structure
4. alignment: fit with the platform's contribution guidelines

Also assay the contribution's metal composition as weights in [0, 1] summing to at most 1.0:
- gold: foundational, durable insight
- silver: solid supporting analysis
- copper: useful but routine material

Return JSON only:
{"novelty": 0, "density": 0, "coherence": 0, "alignment": 0, "metals": {"gold": 0.0, "silver": 0.0, "copper": 0.0}, "classification": "strong|moderate|weak", "reasoning": "one sentence"}`

// EvaluateSubmission calls the external evaluator and validates its
// response. Transport failures return an error; a parseable response is
// always folded into an EvaluationOutcome, including the all-zero and
// malformed cases.
func (c *Client) EvaluateSubmission(ctx context.Context, text, title, category string) (*EvaluationOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	userPrompt := fmt.Sprintf("Title: %s\nCategory: %s\n\nContribution:\n%s", title, category, text)

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: c.model,
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleSystem, Content: evaluationSystemPrompt},
						{Role: openai.ChatMessageRoleUser, Content: userPrompt},
					},
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("evaluator returned no choices")
			}

			content = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	outcome := parseEvaluation(content)

	logger.Info("Submission evaluated",
		zap.String("title", title),
		zap.Int("outcome_kind", int(outcome.Kind)),
	)

	return outcome, nil
}

func parseEvaluation(content string) *EvaluationOutcome {
	var raw struct {
		Novelty        int                `json:"novelty"`
		Density        int                `json:"density"`
		Coherence      int                `json:"coherence"`
		Alignment      int                `json:"alignment"`
		Metals         map[string]float64 `json:"metals"`
		Classification string             `json:"classification"`
		Reasoning      string             `json:"reasoning"`
	}

	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return &EvaluationOutcome{
			Kind:   OutcomeMalformed,
			Reason: fmt.Sprintf("unparseable evaluator output: %v", err),
		}
	}

	if raw.Novelty == 0 && raw.Density == 0 && raw.Coherence == 0 && raw.Alignment == 0 {
		return &EvaluationOutcome{
			Kind:   OutcomeZeroScores,
			Reason: "all scores are 0",
		}
	}

	eval := &Evaluation{
		Novelty:        clampScore(raw.Novelty),
		Density:        clampScore(raw.Density),
		Coherence:      clampScore(raw.Coherence),
		Alignment:      clampScore(raw.Alignment),
		Metals:         make(map[models.Metal]float64),
		Classification: raw.Classification,
		Reasoning:      raw.Reasoning,
	}

	for name, weight := range raw.Metals {
		metal := models.Metal(strings.ToLower(name))
		switch metal {
		case models.MetalGold, models.MetalSilver, models.MetalCopper:
			if weight > 0 {
				eval.Metals[metal] = weight
			}
		}
	}

	return &EvaluationOutcome{Kind: OutcomeScored, Scores: eval}
}

// extractJSON tolerates evaluator replies that wrap the JSON object in
// markdown fences or prose.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxDimensionScore {
		return MaxDimensionScore
	}
	return score
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding provider returned no data")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

// Package extraction detects brand and competitor mentions in provider results.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"

	"github.com/brandlens/visibility-bot/internal/models"
)

// Input is one provider result to analyze
type Input struct {
	Brand    string
	Prompt   string
	Provider string
	Response string
	Results  []models.SearchResult
}

// Candidate is a mention as returned by the extraction model
type Candidate struct {
	MentionType    string  `json:"mentionType" jsonschema:"enum=direct,enum=indirect,enum=competitive"`
	Position       int     `json:"position" jsonschema:"description=1-based order of appearance in the response"`
	Context        string  `json:"context" jsonschema:"description=Short passage surrounding the mention"`
	Sentiment      string  `json:"sentiment" jsonschema:"enum=positive,enum=negative,enum=neutral"`
	Confidence     float64 `json:"confidence" jsonschema:"description=Confidence between 0 and 1"`
	ExtractedText  string  `json:"extractedText" jsonschema:"description=Literal text of the mention"`
	CompetitorName string  `json:"competitorName" jsonschema:"description=Competitor name for competitive mentions or empty"`
}

type extractionResponse struct {
	Mentions []Candidate `json:"mentions"`
}

// Extractor finds mentions in a single provider result
type Extractor interface {
	Extract(ctx context.Context, in Input) ([]Candidate, error)
}

// OpenAIExtractor uses OpenAI structured outputs with a strict schema
type OpenAIExtractor struct {
	client openai.Client
	model  string
	schema interface{}
}

var _ Extractor = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor creates an extractor. Retries are left to the caller.
func NewOpenAIExtractor(apiKey, model, baseURL string) *OpenAIExtractor {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(90 * time.Second),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	return &OpenAIExtractor{
		client: openai.NewClient(opts...),
		model:  model,
		schema: generateSchema[extractionResponse](),
	}
}

func generateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func (e *OpenAIExtractor) Extract(ctx context.Context, in Input) ([]Candidate, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "mention_extraction",
		Description: openai.String("Brand and competitor mentions found in an AI answer"),
		Schema:      e.schema,
		Strict:      openai.Bool(true),
	}

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage(buildExtractionPrompt(in)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
		Temperature: openai.Float(0.1),
	})
	if err != nil {
		return nil, eris.Wrap(err, "extraction: chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("extraction: no choices returned")
	}

	var out extractionResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, eris.Wrap(err, "extraction: decode structured output")
	}
	return out.Mentions, nil
}

const extractionSystemPrompt = `You analyze answers produced by AI assistants and find every mention of a brand and of its competitors.
Classify each mention:
- direct: the brand is named explicitly
- indirect: the brand is referred to without its name (product, domain, founder, slogan)
- competitive: another company or product competing with the brand is named; set competitorName
Report the position as the 1-based order in which mentions appear.
Give a confidence between 0 and 1. Leave competitorName empty unless the mention is competitive.`

func buildExtractionPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brand: %s\n", in.Brand)
	fmt.Fprintf(&b, "User question: %s\n", in.Prompt)
	fmt.Fprintf(&b, "Assistant (%s) answer:\n", in.Provider)

	if strings.TrimSpace(in.Response) != "" {
		b.WriteString(in.Response)
	} else {
		for i, r := range in.Results {
			fmt.Fprintf(&b, "%d. %s - %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
		}
	}
	return b.String()
}

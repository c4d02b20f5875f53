package scope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"videoscope/internal/models"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrParseFailed means the extraction model returned malformed or invalid
// structured output.
var ErrParseFailed = errors.New("scope parsing failed")

// CostCodeMapping is the default construction division taxonomy.
var CostCodeMapping = map[string]string{
	"01": "General Requirements",
	"02": "Existing Conditions",
	"03": "Concrete",
	"04": "Masonry",
	"05": "Metals",
	"06": "Wood, Plastics, and Composites",
	"07": "Thermal and Moisture Protection",
	"08": "Openings",
	"09": "Finishes",
	"10": "Specialties",
	"11": "Equipment",
	"12": "Furnishings",
	"13": "Special Construction",
	"14": "Conveying Equipment",
	"21": "Fire Suppression",
	"22": "Plumbing",
	"23": "HVAC",
	"26": "Electrical",
	"27": "Communications",
	"28": "Electronic Safety and Security",
}

// Service extracts structured scope items and a project summary from a
// transcript using a chat completion model.
type Service struct {
	client *openai.Client
	model  string
}

func NewService(apiKey, baseURL, model string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if model == "" {
		model = openai.ChatModelGPT4
	}
	return &Service{client: &client, model: model}, nil
}

// Parse runs the extraction prompt against the transcript with the given
// cost-code taxonomy and validates the structured response.
func (s *Service) Parse(ctx context.Context, transcript string, mapping map[string]string) (*models.ScopeAnalysis, error) {
	if mapping == nil {
		mapping = CostCodeMapping
	}

	system, err := systemPrompt(mapping)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage("Analyze this job site transcript and extract scope items:\n\n" + transcript),
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(2000),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no completion returned", ErrParseFailed)
	}

	return DecodeAnalysis(resp.Choices[0].Message.Content, mapping)
}

// DecodeAnalysis parses and validates the model's JSON answer.
func DecodeAnalysis(content string, mapping map[string]string) (*models.ScopeAnalysis, error) {
	var analysis models.ScopeAnalysis
	if err := json.Unmarshal([]byte(stripFences(content)), &analysis); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrParseFailed, err)
	}
	for i, item := range analysis.Items {
		if item.Code == "" || item.Title == "" || item.Details == "" {
			return nil, fmt.Errorf("%w: scope item %d missing required fields", ErrParseFailed, i)
		}
		if _, ok := mapping[item.Code]; !ok {
			return nil, fmt.Errorf("%w: invalid cost code %q", ErrParseFailed, item.Code)
		}
	}
	return &analysis, nil
}

func systemPrompt(mapping map[string]string) (string, error) {
	codes, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode mapping: %v", ErrParseFailed, err)
	}
	return fmt.Sprintf(`You are a construction project analyst. Your task is to analyze a transcript from a job site video and extract scope items organized by cost codes, plus a project summary.

Cost Code Mapping:
%s

Instructions:
1. Analyze the transcript and identify specific work items, materials, or tasks mentioned
2. Categorize each item according to the appropriate cost code division
3. Extract a clear title and detailed description for each scope item
4. Summarize the project: overview, key requirements, concerns, decision points, important notes
5. Return ONLY a valid JSON object with this exact structure:
{
  "scope_items": [
    {"code": "XX", "title": "Brief descriptive title", "details": "Detailed description of the work item"}
  ],
  "project_summary": {
    "overview": "...",
    "key_requirements": ["..."],
    "concerns": ["..."],
    "decision_points": ["..."],
    "important_notes": ["..."]
  }
}

Requirements:
- Use only the cost codes provided in the mapping
- Each scope item must have all three fields: code, title, details
- Be specific and actionable in descriptions
- If no relevant scope items are found, use an empty array for scope_items
- Return ONLY the JSON object, no other text or formatting`, codes), nil
}

// stripFences removes a markdown code fence the model sometimes wraps
// around its JSON answer.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

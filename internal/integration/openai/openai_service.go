package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// Commands the agent may choose
const (
	CommandShowField    = "ShowField"
	CommandShowPatterns = "ShowPatterns"
	CommandListFields   = "ListFields"
	CommandGeneralQuery = "GeneralQuery"
)

// AgentResponse defines the structured output from the OpenAI agent.
type AgentResponse struct {
	CommandName string `json:"command_name" jsonschema_description:"The command to execute: ShowField, ShowPatterns, ListFields or GeneralQuery"`
	FieldID     string `json:"field_id" jsonschema_description:"The id of the agricultural field the user refers to, if applicable"`
	UserMessage string `json:"user_message" jsonschema_description:"A message to show back to the user in their original language"`
}

// OpenAIService defines the interface for interacting with the OpenAI agent.
type OpenAIService interface {
	InterpretUserQuery(ctx context.Context, userMessage string, knownFields []string) (*AgentResponse, error)
}

// openAIServiceImpl implements the OpenAIService interface.
type openAIServiceImpl struct {
	client openai.Client
	model  openai.ChatModel
	schema interface{}
	logger *zap.Logger
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// NewOpenAIService creates and initializes a new OpenAIService.
// Extra request options are appended after the API key.
func NewOpenAIService(apiKey, model string, logger *zap.Logger, opts ...option.RequestOption) (OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not configured")
	}
	chatModel := openai.ChatModel(model)
	if model == "" {
		chatModel = openai.ChatModelGPT4o
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	return &openAIServiceImpl{
		client: client,
		model:  chatModel,
		schema: GenerateSchema[AgentResponse](),
		logger: logger,
	}, nil
}

// SystemPrompt builds the instructions for a given set of loaded fields.
func SystemPrompt(knownFields []string) string {
	fields := "none loaded"
	if len(knownFields) > 0 {
		fields = strings.Join(knownFields, ", ")
	}
	return fmt.Sprintf(`You are the assistant of a precision agriculture tool that reduces redundant monitoring stations.
Stations with the same soil and crop sensor activity pattern are merged into one group.

Known field ids: %s

Behavior:
1. If the user wants the reduced result of one field:
   - command_name = "ShowField", field_id = the matching known id.
2. If the user wants the binary sensor activity patterns of one field:
   - command_name = "ShowPatterns", field_id = the matching known id.
3. If the user asks which fields exist:
   - command_name = "ListFields", field_id = "".
4. Anything else:
   - command_name = "GeneralQuery", field_id = "", and answer briefly.
If the field cannot be matched to a known id, leave field_id empty and ask which field they mean.
Always reply in the language the user wrote in. Output strictly in JSON.`, fields)
}

// InterpretUserQuery sends a message to the OpenAI agent and returns the structured response.
func (s *openAIServiceImpl) InterpretUserQuery(ctx context.Context, userMessage string, knownFields []string) (*AgentResponse, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "agent_response",
		Description: openai.String("Structured response containing command, field id, and user message"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(knownFields)),
			openai.UserMessage(userMessage),
		},
		ResponseFormat: respFormat,
		Model:          s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	return ParseAgentResponse(chat.Choices[0].Message.Content, s.logger)
}

// ParseAgentResponse decodes the agent's JSON answer.
func ParseAgentResponse(content string, logger *zap.Logger) (*AgentResponse, error) {
	var agentResp AgentResponse
	if err := json.Unmarshal([]byte(content), &agentResp); err != nil {
		if logger != nil {
			logger.Warn("Failed to unmarshal OpenAI response", zap.Error(err), zap.String("raw", content))
		}
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}
	return &agentResp, nil
}

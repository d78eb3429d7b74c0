package coordination

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Tool describes one function the language model may call.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Execute     func(arguments string) (string, error)
}

// NewTool builds a tool whose parameter schema is reflected from T.
func NewTool[T any](name, description string, execute func(parameters T) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var parameters T

	return Tool{
		Name:        name,
		Description: description,
		Schema:      reflector.Reflect(parameters),
		Execute: func(arguments string) (string, error) {
			var parameters T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
					return "", fmt.Errorf("invalid arguments for %q: %w", name, err)
				}
			}
			return execute(parameters)
		},
	}
}

func assistantTools(a *Assistant) []Tool {
	return []Tool{
		NewTool("clear_conversation", "Forget the current conversation history and start fresh",
			func(struct{}) (string, error) {
				a.Clear()
				return "Conversation cleared. Respond with a very short confirmation", nil
			}),
		NewTool("system_health", "Report the health of connected services and circuit breakers",
			func(struct{}) (string, error) {
				data, err := json.Marshal(a.HealthStatus())
				if err != nil {
					return "", fmt.Errorf("failed to encode health status: %w", err)
				}
				return string(data), nil
			}),
	}
}

// Tools returns every tool exposed to the language model.
func (a *Assistant) Tools() []Tool {
	return append([]Tool(nil), a.tools...)
}

// CallTool executes a named tool with raw JSON arguments.
func (a *Assistant) CallTool(ctx context.Context, name, arguments string) (string, error) {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	for _, tool := range a.tools {
		if tool.Name != name {
			continue
		}
		response, err := tool.Execute(arguments)
		if err != nil {
			err = fmt.Errorf("failed to execute tool %q: %w", name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		return response, nil
	}

	err := fmt.Errorf("tool not found: %s", name)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

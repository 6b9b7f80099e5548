package llm

import (
	"errors"
	"fmt"

	"github.com/ashureev/groupmind/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

var errCompletionRemote = errors.New("completion service returned error")

func encodeRequest(model string, msgs []Message, maxTokens int) (*structpb.Struct, error) {
	list := make([]any, 0, len(msgs))
	for _, m := range msgs {
		item := map[string]any{
			"role":    m.Role,
			"content": m.Content,
		}
		if m.Name != "" {
			item["name"] = m.Name
		}
		list = append(list, item)
	}
	s, err := structpb.NewStruct(map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   list,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	return s, nil
}

// decodeRequest turns a wire request back into a Request. A leading system
// message becomes the System override.
func decodeRequest(s *structpb.Struct) (Request, error) {
	fields := s.GetFields()
	msgs := fields["messages"].GetListValue().GetValues()
	if len(msgs) == 0 {
		return Request{}, errors.New("request has no messages")
	}

	req := Request{
		Model:     fields["model"].GetStringValue(),
		MaxTokens: int(fields["max_tokens"].GetNumberValue()),
	}
	for i, v := range msgs {
		m := v.GetStructValue().GetFields()
		role := m["role"].GetStringValue()
		content := m["content"].GetStringValue()
		if i == 0 && role == "system" {
			req.System = content
			continue
		}
		req.Turns = append(req.Turns, domain.Turn{
			Role:    domainRole(role),
			Content: content,
			Name:    m["name"].GetStringValue(),
		})
	}
	return req, nil
}

func domainRole(role string) domain.Role {
	switch role {
	case "system":
		return domain.RoleSystem
	case "assistant":
		return domain.RoleAssistant
	default:
		return domain.RoleUser
	}
}

func encodeResponse(resp *Response) (*structpb.Struct, error) {
	choices := make([]any, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, map[string]any{"content": c.Content})
	}
	fields := map[string]any{"choices": choices}
	if resp.Usage != nil {
		fields["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode completion response: %w", err)
	}
	return s, nil
}

func decodeResponse(s *structpb.Struct) (*Response, error) {
	fields := s.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, fmt.Errorf("%w: %s", errCompletionRemote, msg)
	}

	resp := &Response{}
	for _, v := range fields["choices"].GetListValue().GetValues() {
		resp.Choices = append(resp.Choices, Choice{
			Content: v.GetStructValue().GetFields()["content"].GetStringValue(),
		})
	}
	if usage := fields["usage"].GetStructValue(); usage != nil {
		u := usage.GetFields()
		resp.Usage = &Usage{
			PromptTokens:     int(u["prompt_tokens"].GetNumberValue()),
			CompletionTokens: int(u["completion_tokens"].GetNumberValue()),
			TotalTokens:      int(u["total_tokens"].GetNumberValue()),
		}
	}
	return resp, nil
}

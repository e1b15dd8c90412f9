package httpapi

import (
	"strings"

	"inferd/pkg/types"
)

// flattenChat renders a multi-turn conversation into the single prompt a
// base GGUF model expects, using the template its family was trained on.
// Unknown families get a plain role-prefixed transcript.
func flattenChat(family string, messages []types.ChatMessage) string {
	switch family {
	case "qwen":
		return flattenChatML(messages)
	case "gemma":
		return flattenGemma(messages)
	case "mistral":
		return flattenMistral(messages)
	case "llama":
		return flattenLlama3(messages)
	default:
		return flattenGeneric(messages)
	}
}

// ChatML, used by the qwen family.
func flattenChatML(messages []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// Gemma has no system role; system content is folded into the first user
// turn, and the assistant role is called "model".
func flattenGemma(messages []types.ChatMessage) string {
	var b strings.Builder
	var system string
	for _, m := range messages {
		role := m.Role
		content := m.Content
		switch role {
		case "system":
			system = content
			continue
		case "assistant":
			role = "model"
		case "user":
			if system != "" {
				content = system + "\n\n" + content
				system = ""
			}
		}
		b.WriteString("<start_of_turn>")
		b.WriteString(role)
		b.WriteString("\n")
		b.WriteString(content)
		b.WriteString("<end_of_turn>\n")
	}
	b.WriteString("<start_of_turn>model\n")
	return b.String()
}

func flattenMistral(messages []types.ChatMessage) string {
	var b strings.Builder
	var pending []string
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			b.WriteString("[INST] ")
			b.WriteString(strings.Join(pending, "\n\n"))
			b.WriteString(" [/INST] ")
			b.WriteString(m.Content)
			b.WriteString("</s>")
			pending = pending[:0]
		default:
			pending = append(pending, m.Content)
		}
	}
	if len(pending) > 0 {
		b.WriteString("[INST] ")
		b.WriteString(strings.Join(pending, "\n\n"))
		b.WriteString(" [/INST]")
	}
	return b.String()
}

func flattenLlama3(messages []types.ChatMessage) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, m := range messages {
		b.WriteString("<|start_header_id|>")
		b.WriteString(m.Role)
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(m.Content)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

func flattenGeneric(messages []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}

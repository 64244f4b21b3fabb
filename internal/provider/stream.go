package provider

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// parseStreamLine converts one line of claude stream-json output into chunks.
// Unknown event types yield no chunks.
func parseStreamLine(line []byte) ([]Chunk, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal json: %w", err)
	}

	eventType, _ := raw["type"].(string)
	switch eventType {
	case "assistant":
		var chunks []Chunk
		if text := messageText(raw); text != "" {
			chunks = append(chunks, Chunk{Kind: ChunkText, Text: text})
		}
		if action := extractToolAction(raw); action != "" {
			chunks = append(chunks, Chunk{Kind: ChunkTool, Text: action})
		}
		return chunks, nil
	case "result":
		if isErr, _ := raw["is_error"].(bool); isErr {
			msg, _ := raw["result"].(string)
			return []Chunk{{Kind: ChunkError, Text: msg}}, nil
		}
		if result, ok := raw["result"].(string); ok {
			return []Chunk{{Kind: ChunkResult, Text: result}}, nil
		}
		return nil, nil
	case "error":
		if msg, ok := raw["error"].(string); ok {
			return []Chunk{{Kind: ChunkError, Text: msg}}, nil
		}
		if msg, ok := raw["message"].(string); ok {
			return []Chunk{{Kind: ChunkError, Text: msg}}, nil
		}
		return []Chunk{{Kind: ChunkError, Text: "unknown error"}}, nil
	default:
		return nil, nil
	}
}

// messageText joins the text blocks of an assistant message.
func messageText(raw map[string]any) string {
	if msg, ok := raw["message"].(string); ok {
		return msg
	}
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	var text string
	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t == "text" {
			s, _ := block["text"].(string)
			text += s
		}
	}
	return text
}

// extractToolAction returns a short description of the first tool_use block.
func extractToolAction(raw map[string]any) string {
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t == "tool_use" {
			return formatToolAction(block)
		}
	}
	return ""
}

func formatToolAction(block map[string]any) string {
	name, _ := block["name"].(string)
	if name == "" {
		return ""
	}
	input, _ := block["input"].(map[string]any)

	switch name {
	case "Read", "Edit", "Write":
		verb := map[string]string{"Read": "Reading", "Edit": "Editing", "Write": "Writing"}[name]
		if path, ok := input["file_path"].(string); ok {
			return verb + " " + truncate(filepath.Base(path), 20)
		}
		return verb + " file"
	case "Bash":
		if cmd, ok := input["command"].(string); ok {
			return "Running " + truncate(firstWord(cmd), 20)
		}
		return "Running command"
	case "Glob", "Grep":
		if pattern, ok := input["pattern"].(string); ok {
			return "Searching " + truncate(pattern, 15)
		}
		return "Searching files"
	default:
		return name
	}
}

func firstWord(s string) string {
	for i, c := range s {
		if c == ' ' || c == '\n' {
			return s[:i]
		}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

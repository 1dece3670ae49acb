package pipeline

import (
	"encoding/json"
	"strings"

	"finanalyst/core"
)

// parseKeyFigures turns a model response into structured figures. The prompt
// asks for a JSON array, but models wrap it in prose or code fences often
// enough that parsing scans for the array first and falls back to line
// parsing when no valid JSON is present. An empty result is legitimate for
// documents with no extractable figures.
func parseKeyFigures(text string) []core.KeyFigure {
	if figures, ok := parseJSONFigures(text); ok {
		return figures
	}
	return parseLineFigures(text)
}

func parseJSONFigures(text string) ([]core.KeyFigure, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var figures []core.KeyFigure
	if err := json.Unmarshal([]byte(text[start:end+1]), &figures); err != nil {
		return nil, false
	}

	valid := figures[:0]
	for _, figure := range figures {
		figure.Name = strings.TrimSpace(figure.Name)
		figure.Value = strings.TrimSpace(figure.Value)
		if figure.Name != "" && figure.Value != "" {
			valid = append(valid, figure)
		}
	}
	return valid, true
}

// parseLineFigures extracts "Name: Value" lines, the shape models produce
// when they ignore the JSON instruction.
func parseLineFigures(text string) []core.KeyFigure {
	var figures []core.KeyFigure
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" || len(name) > 60 {
			continue
		}
		figures = append(figures, core.KeyFigure{Name: name, Value: value})
	}
	return figures
}

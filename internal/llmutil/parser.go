// Package llmutil extracts structured payloads from free-form model output.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

	// codeBlockRegex extracts content wrapped in markdown with any language tag.
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

	documentStart = regexp.MustCompile(`(?i)<!doctype html|<html[\s>]`)
	documentEnd   = regexp.MustCompile(`(?i)</html\s*>`)
)

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	jsonStringToParse := response

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			jsonStringToParse = matches[1]
		}
	} else if (isObject || isArray) && (!strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[")) {
		// The structure is embedded in conversational text.
		first, last := -1, -1
		if isObject {
			fb := strings.Index(response, "{")
			lb := strings.LastIndex(response, "}")
			if fb != -1 && lb > fb {
				first, last = fb, lb+1
			}
		}
		if first == -1 && isArray {
			fb := strings.Index(response, "[")
			lb := strings.LastIndex(response, "]")
			if fb != -1 && lb > fb {
				first, last = fb, lb+1
			}
		}
		if first != -1 {
			jsonStringToParse = response[first:last]
		}
	}

	var result T
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
	}
	return &result, nil
}

// CleanCodeOutput removes a surrounding markdown fence (```html, ```css, ...).
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if matches := codeBlockRegex.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}
	return content
}

// ExtractHTMLDocument pulls a complete HTML document out of model output,
// tolerating fences and surrounding prose. It reports false when the output
// holds no document.
func ExtractHTMLDocument(content string) (string, bool) {
	content = CleanCodeOutput(content)
	start := documentStart.FindStringIndex(content)
	if start == nil {
		return "", false
	}
	rest := content[start[0]:]
	if end := documentEnd.FindAllStringIndex(rest, -1); len(end) > 0 {
		rest = rest[:end[len(end)-1][1]]
	}
	return strings.TrimSpace(rest), true
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

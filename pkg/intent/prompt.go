package intent

import (
	"encoding/json"
	"fmt"
	"strings"
)

func buildPrompt(message string, sc StageContext, digest string) string {
	var prompt strings.Builder

	prompt.WriteString("<system>\n")
	prompt.WriteString("You are an intent classifier for a public-health data analysis assistant.\n")
	prompt.WriteString("You do NOT answer the user. You only label what the user wants to do.\n")
	prompt.WriteString("</system>\n\n")

	prompt.WriteString("<session_state>\n")
	if sc.InWorkflow() {
		prompt.WriteString(fmt.Sprintf("GUIDED_WORKFLOW: %s\n", sc.Workflow))
		prompt.WriteString(fmt.Sprintf("CURRENT_STAGE: %s\n", sc.Stage))
		if sc.StagePrompt != "" {
			prompt.WriteString(fmt.Sprintf("STAGE_QUESTION: %s\n", sc.StagePrompt))
		}
		prompt.WriteString("STAGE_OPTIONS:\n")
		for _, c := range sc.Choices {
			prompt.WriteString(fmt.Sprintf("  - %s\n", c.Value))
		}
	} else {
		prompt.WriteString("FREE_FORM: no guided workflow is active.\n")
	}
	if len(sc.Schemas) > 0 {
		prompt.WriteString("ATTACHED_DATA:\n")
		for _, s := range sc.Schemas {
			prompt.WriteString(fmt.Sprintf("  %s\n", s))
		}
	}
	prompt.WriteString("</session_state>\n\n")

	if digest != "" {
		prompt.WriteString("<context>\n")
		prompt.WriteString(digest)
		prompt.WriteString("\n</context>\n\n")
	}

	prompt.WriteString("<user_message>\n")
	prompt.WriteString(message)
	prompt.WriteString("\n</user_message>\n\n")

	prompt.WriteString(fmt.Sprintf("<intent_definitions version=%q>\n", TaxonomyVersion))
	prompt.WriteString("Choose exactly ONE label from this closed list:\n")
	for _, d := range taxonomy {
		scope := ""
		if d.WorkflowScoped {
			scope = " (only while a guided workflow is active)"
		}
		prompt.WriteString(fmt.Sprintf("%s: %s%s\n", d.Type, d.Description, scope))
	}
	prompt.WriteString("</intent_definitions>\n\n")

	if len(sc.Workflows) > 0 {
		prompt.WriteString("<workflows>\n")
		for _, w := range sc.Workflows {
			prompt.WriteString(fmt.Sprintf("- %s\n", w.Value))
		}
		prompt.WriteString("</workflows>\n\n")
	}

	if len(sc.Capabilities) > 0 {
		prompt.WriteString("<capabilities>\n")
		for _, c := range sc.Capabilities {
			prompt.WriteString(fmt.Sprintf("- %s [%s]: %s\n", c.Name, c.Intent, c.Description))
			if len(c.Operations) > 0 {
				prompt.WriteString(fmt.Sprintf("  operations: %s\n", strings.Join(c.Operations, ", ")))
			}
		}
		prompt.WriteString("</capabilities>\n\n")
	}

	prompt.WriteString("<output_format>\n")
	prompt.WriteString("Respond with ONLY valid JSON:\n")
	prompt.WriteString("{\n")
	prompt.WriteString("  \"intent\": \"one label from the list\",\n")
	prompt.WriteString("  \"confidence\": 0.9,\n")
	prompt.WriteString("  \"value\": \"stage option or workflow name when relevant, otherwise empty\",\n")
	prompt.WriteString("  \"rationale\": \"brief explanation\"\n")
	prompt.WriteString("}\n")
	prompt.WriteString("</output_format>")

	return prompt.String()
}

type modelReply struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Value      string  `json:"value"`
	Rationale  string  `json:"rationale"`
}

func parseReply(response string) (*modelReply, error) {
	jsonContent := extractJSON(response)
	if jsonContent == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(jsonContent), &reply); err != nil {
		return nil, fmt.Errorf("JSON unmarshal failed: %w", err)
	}
	return &reply, nil
}

func extractJSON(response string) string {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")

	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return ""
	}

	return response[startIdx : endIdx+1]
}

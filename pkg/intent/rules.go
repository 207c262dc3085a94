package intent

import (
	"strings"
)

var controlVocabulary = []Choice{
	{Value: string(ExitWorkflow), Aliases: []string{"exit", "quit", "cancel", "stop", "leave", "exit workflow", "free form", "freeform"}},
	{Value: string(RestartWorkflow), Aliases: []string{"restart", "start over", "reset", "begin again", "restart workflow"}},
}

// fastPath answers from the closed stage vocabulary without any model call. It only
// applies while a workflow stage with enumerable answers is active.
func fastPath(message string, sc StageContext) (Intent, bool) {
	if !sc.InWorkflow() || len(sc.Choices) == 0 {
		return Intent{}, false
	}

	if value, ok := Match(sc.Choices, message); ok {
		return Intent{
			Type:       SelectOption,
			Confidence: 1.0,
			Value:      value,
			Rationale:  "matched stage vocabulary",
			Source:     SourceFastPath,
		}, true
	}

	// Control words discard selections, so a typo must not trigger them
	if control, ok := MatchExact(controlVocabulary, message); ok {
		return Intent{
			Type:       Type(control),
			Confidence: 1.0,
			Rationale:  "matched workflow control word",
			Source:     SourceFastPath,
		}, true
	}
	return Intent{}, false
}

var (
	questionWords = []string{"why", "what", "how", "which", "explain", "meaning", "mean", "when", "who", "whats"}
	startWords    = []string{"start", "begin", "run", "launch"}
	listWorkflows = []string{"what workflows", "which workflows", "list workflows", "show workflows", "available workflows", "guided workflows", "what guided"}
	summaryStems  = []string{"summar", "recap", "so far", "what did i", "what have we"}
	summaryScope  = []string{"conversation", "chat", "so far", "discussed", "we talked", "what did i", "what have we"}
	dataWords     = []string{"column", "schema", "dataset", "variables", "fields", "what data", "which data", "my data look", "describe data", "describe the data", "describe my data"}
	helpPhrases   = []string{"what can you do", "how does this work", "what do you do", "capabilities"}
	analysisStems = []string{
		" mean ", "average", "median", "correlat", "regress", "t test", "ttest", "compare", "distribution",
		"trend", "variance", " std ", "standard deviation", "percentile", "quantile", " plot", "chart",
		"histogram", " count", " sum ", " total", " rate", "significan", "calculate", "compute", "analy",
		"highest", "lowest", " top ", "outlier",
	}
)

// baseline derives a conservative intent from keywords. It is deterministic and used
// whenever the model path is unavailable, fails, or times out.
func baseline(message string, sc StageContext, workflows func(string) (string, bool)) Intent {
	n := Normalize(message)
	padded := " " + n + " "
	words := strings.Fields(n)

	heuristic := func(t Type, conf float64, value, why string) Intent {
		return Intent{Type: t, Confidence: conf, Value: value, Rationale: why, Source: SourceHeuristic}
	}

	if n == "" {
		return heuristic(Unclear, 0, "", "empty message")
	}

	if containsAny(padded, listWorkflows) {
		return heuristic(ListWorkflows, 0.7, "", "asked for workflows")
	}
	if containsAny(padded, summaryStems) && containsAny(padded, summaryScope) {
		return heuristic(ConversationSummary, 0.7, "", "asked for a recap")
	}
	if containsAny(padded, dataWords) {
		return heuristic(DescribeData, 0.7, "", "asked about available data")
	}
	if n == "help" || containsAny(padded, helpPhrases) {
		return heuristic(Help, 0.7, "", "asked for help")
	}

	if len(words) > 0 && hasWord(words, startWords) && workflows != nil {
		if name, ok := workflows(message); ok {
			return heuristic(StartWorkflow, 0.75, name, "start verb with a workflow name")
		}
	}

	if sc.InWorkflow() {
		if isQuestion(message, words) {
			return heuristic(AskInfo, 0.7, "", "question inside a workflow stage")
		}
		if hasWord(words, []string{"exit", "quit", "cancel", "stop", "leave"}) {
			return heuristic(ExitWorkflow, 0.7, "", "exit keyword")
		}
		if hasWord(words, []string{"restart", "reset"}) || strings.Contains(padded, " start over ") {
			return heuristic(RestartWorkflow, 0.7, "", "restart keyword")
		}
		if value, ok := mentioned(sc.Choices, padded); ok {
			return heuristic(SelectOption, 0.75, value, "stage option mentioned in sentence")
		}
	}

	if containsAny(padded, analysisStems) {
		return heuristic(Analyze, 0.65, "", "analytical keyword")
	}

	return heuristic(Unclear, 0.3, "", "no keyword matched")
}

func containsAny(padded string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(padded, n) {
			return true
		}
	}
	return false
}

func hasWord(words []string, set []string) bool {
	for _, w := range words {
		for _, s := range set {
			if w == s {
				return true
			}
		}
	}
	return false
}

func isQuestion(message string, words []string) bool {
	if strings.HasSuffix(strings.TrimSpace(message), "?") {
		return true
	}
	return len(words) > 0 && hasWord(words[:1], questionWords)
}

// mentioned finds exactly one stage option named inside a longer sentence
func mentioned(choices []Choice, padded string) (string, bool) {
	found := ""
	for _, c := range choices {
		for _, term := range c.terms() {
			if len(term) < 3 || !strings.Contains(padded, " "+term+" ") {
				continue
			}
			if found != "" && found != c.Value {
				return "", false
			}
			found = c.Value
		}
	}
	return found, found != ""
}

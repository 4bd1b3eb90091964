package actions

import "strings"

// Output shapes the model is asked to produce, one per action. Every field
// without omitempty is required.

type CleanOutput struct {
	CleanedText string `json:"cleaned_text" jsonschema:"description=The cleaned and corrected text."`
}

type SummarizeOutput struct {
	Summary string `json:"summary" jsonschema:"description=A concise summary of the input text."`
}

type KeyPointsOutput struct {
	Points []string `json:"points" jsonschema:"description=A list of key points extracted from the text."`
}

type SimplifyOutput struct {
	SimplifiedText string `json:"simplified_text" jsonschema:"description=The simplified version of the input text."`
}

type AnalogyOutput struct {
	Analogy string `json:"analogy" jsonschema:"description=An analogy or example explaining the concept."`
}

type ClassifyOutput struct {
	Category string `json:"category" jsonschema:"description=The category the text belongs to."`
}

type ToneOutput struct {
	Tone        string `json:"tone" jsonschema:"description=The emotional tone of the text."`
	Explanation string `json:"explanation" jsonschema:"description=Brief explanation of why this tone was selected."`
}

type GenericOutput struct {
	Result string `json:"result" jsonschema:"description=The result of the operation."`
}

func joinPoints(points []string) string {
	lines := make([]string, len(points))
	for i, p := range points {
		lines[i] = "- " + p
	}
	return strings.Join(lines, "\n")
}

package models

import "time"

// Action identifies one text transformation. The string value is the
// wire-level identifier and is case-sensitive.
type Action string

const (
	ActionClean     Action = "clean"
	ActionSummarize Action = "summarize"
	ActionKeypoints Action = "keypoints"
	ActionSimplify  Action = "simplify"
	ActionExamples  Action = "examples"
	ActionClassify  Action = "classify"
	ActionSentiment Action = "sentiment"
)

// BuiltinActions lists the actions that ship with a bespoke output shape,
// in the order they are presented to users.
var BuiltinActions = []Action{
	ActionClean,
	ActionSummarize,
	ActionKeypoints,
	ActionSimplify,
	ActionExamples,
	ActionClassify,
	ActionSentiment,
}

type Step struct {
	Action Action         `json:"action" yaml:"action"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Workflow is immutable once created.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
}

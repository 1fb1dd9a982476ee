// SPDX-License-Identifier: Apache-2.0

package chains

import (
	"maps"

	"github.com/d-gangz/glowing-braintrust/internal/eval"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
)

// StoryDatasetName is the remote dataset the structured and traced story
// experiments run against.
const StoryDatasetName = "story-input"

// StoryCases is the inline dataset of the plain story experiment.
var StoryCases = eval.Inline{
	{Input: invoke.Input{"genre": "science fiction", "context": "space exploration in the distant future"}},
	{Input: invoke.Input{"genre": "romance", "context": "two people from different backgrounds meet in a small town"}},
	{Input: invoke.Input{"genre": "thriller", "context": "mysterious disappearances in a quiet suburban neighborhood"}},
}

// Preset is a ready-made experiment: which chain runs over which dataset.
type Preset struct {
	Experiment string
	Project    string
	Chain      string
	// Dataset names a remote dataset; empty means Inline is used.
	Dataset  string
	Inline   eval.Inline
	Metadata map[string]any
}

var storyModels = map[string]any{
	"model_1":      "gemini-flash-001",
	"model_2":      "4o-mini",
	"dataset":      "story_input",
	"chain_length": 2,
}

func Presets() []Preset {
	return []Preset{
		{
			Experiment: "prompt_chain_evaluation",
			Project:    ProjectWorkflow,
			Chain:      NameStory,
			Inline:     StoryCases,
		},
		{
			Experiment: "prompt_chain_evaluation_structured_output",
			Project:    ProjectWorkflow,
			Chain:      NameStoryStructured,
			Dataset:    StoryDatasetName,
			Metadata:   maps.Clone(storyModels),
		},
		{
			Experiment: "prompt_chain_trace",
			Project:    ProjectWorkflow,
			Chain:      NameStoryTrace,
			Dataset:    StoryDatasetName,
			Metadata:   maps.Clone(storyModels),
		},
	}
}

// PresetByName matches either the experiment name or the chain name.
func PresetByName(name string) (Preset, bool) {
	for _, p := range Presets() {
		if p.Experiment == name || p.Chain == name {
			return p, true
		}
	}
	return Preset{}, false
}

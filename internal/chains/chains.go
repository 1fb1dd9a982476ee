// SPDX-License-Identifier: Apache-2.0

// Package chains declares the concrete prompt chains of the workflow-glowing
// and suggested-response projects.
package chains

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/chain"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/knowledge"
)

const (
	ProjectWorkflow          = "workflow-glowing"
	ProjectSuggestedResponse = "suggested-response"
)

const (
	SlugStoryOutline           = "storyoutline-geminiFlash001"
	SlugStoryOutlineStructured = "storyoutline-geminiflash001-so"
	SlugStory                  = "story-4omini"
	SlugStoryExtra             = "story-4omini-xtra"

	SlugOpenIssues        = "open-issues-handler-8ae1"
	SlugLanguageSelection = "language-selection-handler-1bb5"
	SlugSuggestedResponse = "suggested-response-generator-f95c"
)

const (
	NameStory             = "story"
	NameStoryStructured   = "story-structured"
	NameStoryTrace        = "story-trace"
	NameSuggestedResponse = "suggested-response"
)

// StoryContexts are the settings the traced story chain picks from.
var StoryContexts = []string{
	"In a world where shadows come alive at midnight",
	"On a space station orbiting a dying star",
	"During the last day before technology permanently stops working",
}

// ContextPicker produces the setting injected between outline and story.
type ContextPicker func(ctx context.Context) (string, error)

// RandomContext picks one of choices after waiting delay.
func RandomContext(choices []string, delay time.Duration) ContextPicker {
	return func(ctx context.Context) (string, error) {
		if len(choices) == 0 {
			return "", nil
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-timer.C:
			}
		}
		return choices[rand.IntN(len(choices))], nil
	}
}

type Deps struct {
	Invoker   invoke.Invoker
	Knowledge *knowledge.Provider
	Logger    *slog.Logger
	// Contexts defaults to RandomContext(StoryContexts, time.Second).
	Contexts ContextPicker
}

func (d Deps) provider() *knowledge.Provider {
	if d.Knowledge == nil {
		return knowledge.Default()
	}
	return d.Knowledge
}

// Story turns {genre, context} into a plain-text outline, then a story.
func Story(d Deps) (*chain.Chain, error) {
	return chain.New(chain.Config{
		Name:    NameStory,
		Project: ProjectWorkflow,
		Invoker: d.Invoker,
		Logger:  d.Logger,
		Steps: []chain.Step{
			{
				Name:   "outline",
				Slug:   SlugStoryOutline,
				Shape:  invoke.ShapeText,
				Params: chain.FromTask("genre", "context"),
			},
			{
				Name:   "story",
				Slug:   SlugStory,
				Shape:  invoke.ShapeText,
				Params: []chain.Param{chain.Bind("outline", chain.Output("outline"))},
			},
		},
	})
}

// StoryStructured uses the structured outline prompt and forwards only its
// outline field.
func StoryStructured(d Deps) (*chain.Chain, error) {
	return chain.New(chain.Config{
		Name:    NameStoryStructured,
		Project: ProjectWorkflow,
		Invoker: d.Invoker,
		Logger:  d.Logger,
		Steps: []chain.Step{
			{
				Name:   "outline",
				Slug:   SlugStoryOutlineStructured,
				Shape:  invoke.ShapeRecord,
				Params: chain.FromTask("genre", "context"),
			},
			{
				Name:   "story",
				Slug:   SlugStory,
				Shape:  invoke.ShapeText,
				Params: []chain.Param{chain.Bind("outline", chain.Field("outline", "outline"))},
			},
		},
	})
}

// StoryTrace injects a locally chosen setting between outline and story.
func StoryTrace(d Deps) (*chain.Chain, error) {
	pick := d.Contexts
	if pick == nil {
		pick = RandomContext(StoryContexts, time.Second)
	}

	return chain.New(chain.Config{
		Name:    NameStoryTrace,
		Project: ProjectWorkflow,
		Invoker: d.Invoker,
		Logger:  d.Logger,
		Steps: []chain.Step{
			{
				Name:   "outline",
				Slug:   SlugStoryOutlineStructured,
				Shape:  invoke.ShapeRecord,
				Params: chain.FromTask("genre", "context"),
			},
			{
				Name:  "random_context",
				Shape: invoke.ShapeText,
				Local: func(ctx context.Context, _ invoke.Input) (invoke.Result, error) {
					c, err := pick(ctx)
					if err != nil {
						return nil, err
					}
					return invoke.Text(c), nil
				},
			},
			{
				Name:  "story",
				Slug:  SlugStoryExtra,
				Shape: invoke.ShapeText,
				Params: []chain.Param{
					chain.Bind("outline", chain.Field("outline", "outline")),
					chain.Bind("context", chain.Output("random_context")),
				},
			},
		},
	})
}

// SuggestedResponse drafts a streamed guest-service reply: open issues, then
// auxiliary reply material, then the guest's language, then the reply.
func SuggestedResponse(d Deps) (*chain.Chain, error) {
	kb := d.provider()

	return chain.New(chain.Config{
		Name:    NameSuggestedResponse,
		Project: ProjectSuggestedResponse,
		Invoker: d.Invoker,
		Logger:  d.Logger,
		Static:  kb.Context().Fields(),
		Steps: []chain.Step{
			{
				Name:  "open_issues",
				Slug:  SlugOpenIssues,
				Shape: invoke.ShapeText,
				Params: chain.Params(
					chain.FromStatic("brand_customer_term", "unit_name", "unit_term"),
					chain.FromTask("conversation", "current_date_time", "unit_open_issues_max_limit"),
				),
			},
			{
				Name:   "auxiliary",
				Shape:  invoke.ShapeRecord,
				Params: []chain.Param{chain.Bind("open_issues", chain.Output("open_issues"))},
				Local: func(ctx context.Context, in invoke.Input) (invoke.Result, error) {
					aux, err := kb.Auxiliary(ctx, in.Get("open_issues"))
					if err != nil {
						return nil, err
					}
					return invoke.Record{
						"knowledge_base": aux.KnowledgeBase,
						"quick_replies":  aux.QuickReplies,
					}, nil
				},
			},
			{
				Name:  "language",
				Slug:  SlugLanguageSelection,
				Shape: invoke.ShapeRecord,
				Params: chain.Params(
					chain.FromStatic("brand_customer_term", "unit_name"),
					chain.FromTask("conversation"),
				),
			},
			{
				Name:  "reply",
				Slug:  SlugSuggestedResponse,
				Shape: invoke.ShapeStream,
				Params: chain.Params(
					chain.FromStatic(
						"brand_communication_guidelines",
						"brand_customer_term",
						"brand_response_guidelines",
						"unit_communication_guidelines",
						"unit_name",
						"unit_response_guidelines",
						"unit_specific_information",
						"unit_term",
					),
					chain.FromTask("conversation", "current_date_time", "last_name", "salutation"),
					[]chain.Param{
						chain.Bind("knowledge_base", chain.Field("auxiliary", "knowledge_base")),
						chain.Bind("quick_replies", chain.Field("auxiliary", "quick_replies")),
						chain.Bind("language", chain.Field("language", "language")),
						chain.Bind("open_issues", chain.Output("open_issues")),
					},
				),
			},
		},
	})
}

// SuggestedResponseInput is the task input of the suggested-response chain.
type SuggestedResponseInput struct {
	Salutation             string `json:"salutation" yaml:"salutation"`
	LastName               string `json:"last_name" yaml:"last_name"`
	Conversation           string `json:"conversation" yaml:"conversation"`
	CurrentDateTime        string `json:"current_date_time" yaml:"current_date_time"`
	UnitOpenIssuesMaxLimit string `json:"unit_open_issues_max_limit" yaml:"unit_open_issues_max_limit"`
}

func (in SuggestedResponseInput) Input() invoke.Input {
	return invoke.Input{
		"salutation":                 in.Salutation,
		"last_name":                  in.LastName,
		"conversation":               in.Conversation,
		"current_date_time":          in.CurrentDateTime,
		"unit_open_issues_max_limit": in.UnitOpenIssuesMaxLimit,
	}
}

// Registry holds every chain by name.
type Registry struct {
	chains map[string]*chain.Chain
}

func NewRegistry(d Deps) (*Registry, error) {
	builders := map[string]func(Deps) (*chain.Chain, error){
		NameStory:             Story,
		NameStoryStructured:   StoryStructured,
		NameStoryTrace:        StoryTrace,
		NameSuggestedResponse: SuggestedResponse,
	}

	r := &Registry{chains: make(map[string]*chain.Chain, len(builders))}
	for name, build := range builders {
		c, err := build(d)
		if err != nil {
			return nil, fmt.Errorf("build chain %s: %w", name, err)
		}
		r.chains[name] = c
	}
	return r, nil
}

func (r *Registry) Get(name string) (*chain.Chain, bool) {
	c, ok := r.chains[name]
	return c, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Describe() []chain.Info {
	names := r.Names()
	out := make([]chain.Info, 0, len(names))
	for _, name := range names {
		out = append(out, r.chains[name].Describe())
	}
	return out
}

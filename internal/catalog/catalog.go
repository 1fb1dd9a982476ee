// SPDX-License-Identifier: Apache-2.0

// Package catalog runs prompts from a local YAML catalog against an
// OpenAI-compatible endpoint, so chains can execute without the hosted
// prompt service.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"gopkg.in/yaml.v3"
)

var ErrUnknownPrompt = errors.New("unknown prompt")

const DefaultModel = "gpt-4o-mini"

// Prompt is one catalog entry. System and User are text/template sources
// executed over the invocation input.
type Prompt struct {
	Project         string `yaml:"project"`
	Slug            string `yaml:"slug"`
	Model           string `yaml:"model"`
	System          string `yaml:"system"`
	User            string `yaml:"user"`
	MaxOutputTokens int64  `yaml:"max_output_tokens"`
}

type document struct {
	Model   string   `yaml:"model"`
	Prompts []Prompt `yaml:"prompts"`
}

type compiled struct {
	prompt Prompt
	system *template.Template
	user   *template.Template
}

type Catalog struct {
	prompts map[string]compiled
}

func key(project, slug string) string {
	return project + "/" + slug
}

// Parse reads a catalog document:
//
//	model: gpt-4o-mini
//	prompts:
//	  - project: workflow-glowing
//	    slug: story-4omini
//	    user: "Write a story from this outline: {{.outline}}"
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}

	c := &Catalog{prompts: make(map[string]compiled, len(doc.Prompts))}
	for _, p := range doc.Prompts {
		if p.Project == "" || p.Slug == "" {
			return nil, errors.New("prompt catalog entry needs project and slug")
		}
		k := key(p.Project, p.Slug)
		if _, dup := c.prompts[k]; dup {
			return nil, fmt.Errorf("prompt %s declared twice", k)
		}
		if p.Model == "" {
			p.Model = doc.Model
		}
		if p.Model == "" {
			p.Model = DefaultModel
		}

		system, err := compile(k+"#system", p.System)
		if err != nil {
			return nil, err
		}
		user, err := compile(k+"#user", p.User)
		if err != nil {
			return nil, err
		}
		c.prompts[k] = compiled{prompt: p, system: system, user: user}
	}
	return c, nil
}

func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog %s: %w", path, err)
	}
	return Parse(raw)
}

func compile(name, src string) (*template.Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	t, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("prompt template %s: %w", name, err)
	}
	return t, nil
}

// Rendered is a prompt with its templates executed.
type Rendered struct {
	Prompt
	SystemText string
	UserText   string
}

// Render executes the templates of project/slug over in.
func (c *Catalog) Render(project, slug string, in invoke.Input) (Rendered, error) {
	entry, ok := c.prompts[key(project, slug)]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownPrompt, key(project, slug))
	}

	data := map[string]string(in.Clone())
	system, err := execute(entry.system, data)
	if err != nil {
		return Rendered{}, err
	}
	user, err := execute(entry.user, data)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Prompt: entry.prompt, SystemText: system, UserText: user}, nil
}

func execute(t *template.Template, data map[string]string) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Has reports whether project/slug is in the catalog.
func (c *Catalog) Has(project, slug string) bool {
	_, ok := c.prompts[key(project, slug)]
	return ok
}

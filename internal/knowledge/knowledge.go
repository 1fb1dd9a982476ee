// SPDX-License-Identifier: Apache-2.0

// Package knowledge provides the brand and unit guidance plus auxiliary
// reply material that the suggested-response chain is grounded on.
package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed static.yaml
var embeddedDocument []byte

// StaticContext is constant for the lifetime of the process.
type StaticContext struct {
	BrandCommunicationGuidelines string `yaml:"brand_communication_guidelines"`
	BrandCustomerTerm            string `yaml:"brand_customer_term"`
	BrandResponseGuidelines      string `yaml:"brand_response_guidelines"`
	UnitCommunicationGuidelines  string `yaml:"unit_communication_guidelines"`
	UnitName                     string `yaml:"unit_name"`
	UnitResponseGuidelines       string `yaml:"unit_response_guidelines"`
	UnitSpecificInformation      string `yaml:"unit_specific_information"`
	UnitTerm                     string `yaml:"unit_term"`
}

// Fields returns the context keyed the way prompts name their parameters.
func (s StaticContext) Fields() map[string]string {
	return map[string]string{
		"brand_communication_guidelines": s.BrandCommunicationGuidelines,
		"brand_customer_term":            s.BrandCustomerTerm,
		"brand_response_guidelines":      s.BrandResponseGuidelines,
		"unit_communication_guidelines":  s.UnitCommunicationGuidelines,
		"unit_name":                      s.UnitName,
		"unit_response_guidelines":       s.UnitResponseGuidelines,
		"unit_specific_information":      s.UnitSpecificInformation,
		"unit_term":                      s.UnitTerm,
	}
}

type Auxiliary struct {
	KnowledgeBase string `yaml:"knowledge_base"`
	QuickReplies  string `yaml:"quick_replies"`
}

func (a Auxiliary) Fields() map[string]string {
	return map[string]string{
		"knowledge_base": a.KnowledgeBase,
		"quick_replies":  a.QuickReplies,
	}
}

type document struct {
	Context   StaticContext `yaml:"context"`
	Auxiliary Auxiliary     `yaml:"auxiliary"`
}

type Provider struct {
	doc document
}

var (
	defaultOnce     sync.Once
	defaultProvider *Provider
)

// Default returns the provider backed by the embedded document.
func Default() *Provider {
	defaultOnce.Do(func() {
		defaultProvider = MustLoad(embeddedDocument)
	})
	return defaultProvider
}

// Load parses a knowledge document with top-level "context" and "auxiliary"
// sections.
func Load(raw []byte) (*Provider, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge document: %w", err)
	}
	return &Provider{doc: doc}, nil
}

func MustLoad(raw []byte) *Provider {
	p, err := Load(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Provider) Context() StaticContext {
	return p.doc.Context
}

// Auxiliary returns reply material for the open issues described by hint.
// The hint is not consulted yet: every call returns the same data.
func (p *Provider) Auxiliary(ctx context.Context, hint string) (Auxiliary, error) {
	if err := ctx.Err(); err != nil {
		return Auxiliary{}, err
	}
	_ = hint
	return p.doc.Auxiliary, nil
}

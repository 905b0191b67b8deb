/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// binding produces the replacement text for one slot.
type binding interface {
	render() (string, error)
}

type unbound string

func (u unbound) render() (string, error) {
	return "", fmt.Errorf("placeholder %q never bound", string(u))
}

type text string

func (t text) render() (string, error) { return string(t), nil }

type jsonValue struct{ v any }

func (j jsonValue) render() (string, error) {
	b, err := json.MarshalIndent(j.v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering JSON slot: %w", err)
	}
	return string(b), nil
}

type yamlValue struct{ v any }

func (y yamlValue) render() (string, error) {
	b, err := yaml.Marshal(y.v)
	if err != nil {
		return "", fmt.Errorf("rendering YAML slot: %w", err)
	}
	return string(b), nil
}

// bind installs b into the named slot, enforcing that the slot exists and
// has not been bound before.
func (p *Prompt) bind(name string, b binding) (*Prompt, error) {
	cur, ok := p.slots[name]
	if !ok {
		return nil, fmt.Errorf("template has no placeholder %q", name)
	}
	if _, isUnbound := cur.(unbound); !isUnbound {
		return nil, fmt.Errorf("placeholder %q bound twice", name)
	}
	next := p.clone()
	next.slots[name] = b
	return next, nil
}

// BindText binds a plain string value. Unlike templates this accepts
// runtime data; the value is spliced in verbatim.
func (p *Prompt) BindText(name, value string) (*Prompt, error) {
	return p.bind(name, text(value))
}

// BindJSON binds any value rendered as indented JSON.
func (p *Prompt) BindJSON(name string, value any) (*Prompt, error) {
	return p.bind(name, jsonValue{v: value})
}

// BindYAML binds any value rendered as YAML.
func (p *Prompt) BindYAML(name string, value any) (*Prompt, error) {
	return p.bind(name, yamlValue{v: value})
}

// MustBindText is BindText for bindings known valid at compile time.
func (p *Prompt) MustBindText(name, value string) *Prompt {
	return Must(p.BindText(name, value))
}

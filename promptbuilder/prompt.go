/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package promptbuilder assembles LLM prompts from templates with
// {{placeholder}} slots. Templates are compile-time literals; runtime data
// enters only through Bind methods, and Build fails when a slot is unbound
// or bound twice. Prompts are immutable; each Bind returns a fresh copy.
package promptbuilder

import (
	"fmt"
	"maps"
	"strings"
	"unicode"
)

// literal only accepts untyped string constants at call sites. Templates
// and developer-authored fragments go through this type so that runtime
// data cannot masquerade as template text.
type literal string

// Prompt is a template plus the binding state for each of its slots.
type Prompt struct {
	template string
	slots    map[string]binding
}

// New parses a template literal and registers a slot for every
// {{placeholder}} it contains.
func New(template literal) (*Prompt, error) {
	slots := make(map[string]binding)
	parsed, err := walk(string(template), func(name string) (string, error) {
		if _, ok := slots[name]; !ok {
			slots[name] = unbound(name)
		}
		return "{{" + name + "}}", nil
	})
	if err != nil {
		return nil, err
	}
	return &Prompt{template: parsed, slots: slots}, nil
}

// Must panics on error, for package-level prompt variables whose templates
// are fixed at compile time.
func Must(p *Prompt, err error) *Prompt {
	if err != nil {
		panic(err)
	}
	return p
}

// Placeholders returns the set of slot names in the template.
func (p *Prompt) Placeholders() map[string]struct{} {
	names := make(map[string]struct{}, len(p.slots))
	for name := range p.slots {
		names[name] = struct{}{}
	}
	return names
}

// Build renders the template. It fails if any slot was never bound or if a
// bound value cannot be rendered.
func (p *Prompt) Build() (string, error) {
	rendered := make(map[string]string, len(p.slots))
	for name, b := range p.slots {
		v, err := b.render()
		if err != nil {
			return "", err
		}
		rendered[name] = v
	}
	return walk(p.template, func(name string) (string, error) {
		v, ok := rendered[name]
		if !ok {
			return "", fmt.Errorf("internal: slot %q vanished between parse and build", name)
		}
		return v, nil
	})
}

func (p *Prompt) clone() *Prompt {
	return &Prompt{template: p.template, slots: maps.Clone(p.slots)}
}

// walk scans template text, invoking resolve for each {{name}} slot and
// splicing its return value into the output.
func walk(template string, resolve func(name string) (string, error)) (string, error) {
	var out strings.Builder
	for {
		open := strings.Index(template, "{{")
		if open < 0 {
			out.WriteString(template)
			return out.String(), nil
		}
		out.WriteString(template[:open])
		rest := template[open:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder near %q", truncate(rest))
		}
		name := strings.TrimSpace(rest[2:end])
		if !identifier(name) {
			return "", fmt.Errorf("invalid placeholder name %q", name)
		}
		v, err := resolve(name)
		if err != nil {
			return "", err
		}
		out.WriteString(v)
		template = rest[end+2:]
	}
}

// identifier reports whether s is a letter followed by letters, digits or
// underscores.
func identifier(s string) bool {
	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '_'):
		default:
			return false
		}
	}
	return s != ""
}

func truncate(s string) string {
	if len(s) > 20 {
		return s[:20] + "..."
	}
	return s
}

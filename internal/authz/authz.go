// Package authz implements the authorization evaluator (spec §4.10):
// isAuthorized/hasCapability over a user's set of capability
// instances. Parsing the auth_def_file format itself is out of scope
// (spec §1's Non-goals); this package consumes already-parsed
// CapabilityInstance values, however they were loaded.
package authz

import (
	"regexp"
	"sync"
)

// CapabilityClass names one operation an authorization rule can grant,
// e.g. "ReadResource", "WriteBranch", "CreateTag".
type CapabilityClass string

// CapabilityInstance is one granted rule: class plus the URL-glob
// parameters it applies to. Matching is full-string regex against each
// argument position in order (spec §4.10).
type CapabilityInstance struct {
	Class CapabilityClass
	Args  []string
}

// Evaluator answers isAuthorized/hasCapability queries for a set of
// users, each with their own capability instances (user config plus
// any predefined rule bundles already merged in by the caller).
type Evaluator struct {
	mu      sync.RWMutex
	enabled bool
	grants  map[string][]CapabilityInstance
	compile map[string]*regexp.Regexp
}

// NewEvaluator constructs an Evaluator. When enabled is false, every
// check passes unconditionally (spec §4.10: "When authorization is
// disabled globally, both return true").
func NewEvaluator(enabled bool) *Evaluator {
	return &Evaluator{
		enabled: enabled,
		grants:  map[string][]CapabilityInstance{},
		compile: map[string]*regexp.Regexp{},
	}
}

// SetUserCapabilities replaces the full capability set for a user.
func (e *Evaluator) SetUserCapabilities(user string, instances []CapabilityInstance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.grants[user] = instances
}

// HasCapability reports whether user holds any instance of class at
// all, regardless of argument matching; used as the coarse gate before
// a fine-grained IsAuthorized check (spec §4.10).
func (e *Evaluator) HasCapability(user string, class CapabilityClass) bool {
	if !e.enabled {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, inst := range e.grants[user] {
		if inst.Class == class {
			return true
		}
	}
	return false
}

// IsAuthorized reports whether any of user's instances of class match
// args via full-string regex at every position.
func (e *Evaluator) IsAuthorized(user string, class CapabilityClass, args ...string) bool {
	if !e.enabled {
		return true
	}
	e.mu.RLock()
	instances := e.grants[user]
	e.mu.RUnlock()

	for _, inst := range instances {
		if inst.Class != class || len(inst.Args) != len(args) {
			continue
		}
		if e.matches(inst.Args, args) {
			return true
		}
	}
	return false
}

func (e *Evaluator) matches(patterns, args []string) bool {
	for i, pattern := range patterns {
		re, err := e.compiled(pattern)
		if err != nil || !re.MatchString(args[i]) {
			return false
		}
	}
	return true
}

func (e *Evaluator) compiled(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	if re, ok := e.compile[pattern]; ok {
		e.mu.RUnlock()
		return re, nil
	}
	e.mu.RUnlock()

	anchored := "^(?:" + pattern + ")$"
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.compile[pattern] = re
	e.mu.Unlock()
	return re, nil
}

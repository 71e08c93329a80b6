package model

import (
	"fmt"
	"regexp"
)

// Pattern narrows a query to resources within one (tool, resource group)
// whose URL matches a regular expression. Patterns compile lazily and
// cache their compiled form so repeated queries over the same pattern
// don't re-compile the regexp every call.
type Pattern struct {
	ToolID           string
	ResourceGroupURL string
	URLPattern       string

	compiled *regexp.Regexp
}

// Compile compiles URLPattern, caching the result on the Pattern value.
// Callers should keep using the same Pattern value (or a copy of it
// after the first Compile call) to benefit from the cache.
func (p *Pattern) Compile() (*regexp.Regexp, error) {
	if p.compiled != nil {
		return p.compiled, nil
	}
	re, err := regexp.Compile(p.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid URL pattern %q: %w", p.URLPattern, err)
	}
	p.compiled = re
	return re, nil
}

// Matches reports whether the pattern's (tool, group) coordinates and
// compiled URL regexp match the given resource coordinates.
func (p *Pattern) Matches(toolID, resourceGroupURL, url string) (bool, error) {
	if p.ToolID != "" && p.ToolID != toolID {
		return false, nil
	}
	if p.ResourceGroupURL != "" && p.ResourceGroupURL != resourceGroupURL {
		return false, nil
	}
	re, err := p.Compile()
	if err != nil {
		return false, err
	}
	return re.MatchString(url), nil
}

// ResourceLinkPattern pairs two resource patterns used to query links:
// From must match the link's source endpoint, To its destination.
type ResourceLinkPattern struct {
	From Pattern
	To   Pattern
}

// MatchesLink reports whether the pair matches a link's endpoints.
func (p *ResourceLinkPattern) MatchesLink(from, to ResourceRef) (bool, error) {
	fromOK, err := p.From.Matches(from.ToolID, from.ResourceGroupURL, from.URL)
	if err != nil || !fromOK {
		return false, err
	}
	toOK, err := p.To.Matches(to.ToolID, to.ResourceGroupURL, to.URL)
	if err != nil || !toOK {
		return false, err
	}
	return true, nil
}

package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zen-systems/concierge/pkg/engine"
	"github.com/zen-systems/concierge/pkg/tool"
)

// PermissionDeniedError reports that a role may not use an intent. The
// message names the topic and nothing else; the allow-list stays internal.
type PermissionDeniedError struct {
	Intent string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("your role does not have access to %s assistance", e.Intent)
}

// IsPermissionDenied reports whether err is a permission denial.
func IsPermissionDenied(err error) bool {
	var pd *PermissionDeniedError
	return errors.As(err, &pd)
}

// CheckPermission is a pure lookup against the role allow-list. A "*" entry
// grants every intent. Unknown roles have no grants.
func CheckPermission(perms map[string][]string, role, intent string) bool {
	for _, allowed := range perms[role] {
		if allowed == "*" || allowed == intent {
			return true
		}
	}
	return false
}

// ScopeFilter narrows a handler result to what the requesting user may see.
// The router applies it to every result before merging.
type ScopeFilter interface {
	FilterResult(user tool.User, intent string, res *engine.Result) *engine.Result
}

// PassthroughScope applies no narrowing.
type PassthroughScope struct{}

// FilterResult returns the result unchanged.
func (PassthroughScope) FilterResult(_ tool.User, _ string, res *engine.Result) *engine.Result {
	return res
}

// SourcePrefixScope withholds sources carrying configured prefixes from the
// named roles. The answer text is left alone.
type SourcePrefixScope struct {
	// Hidden maps a role to the source prefixes withheld from it.
	Hidden map[string][]string
}

// FilterResult returns a copy of the result without the withheld sources.
func (f SourcePrefixScope) FilterResult(user tool.User, _ string, res *engine.Result) *engine.Result {
	if res == nil {
		return nil
	}
	prefixes := f.Hidden[user.Role]
	if len(prefixes) == 0 {
		return res
	}

	filtered := *res
	filtered.Sources = nil
	for _, src := range res.Sources {
		if !hasAnyPrefix(src, prefixes) {
			filtered.Sources = append(filtered.Sources, src)
		}
	}
	return &filtered
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

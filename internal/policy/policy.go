// Package policy restricts which commands an invocation may run.
package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/hubroute/internal/errors"
)

// alwaysAllowed never touch the chain, the hub or local state.
var alwaysAllowed = map[string]struct{}{
	"":        {},
	"version": {},
	"schema":  {},
}

// CheckCommandAllowed passes when allowlist is empty or names commandPath or
// one of its parent groups ("settings" allows "settings control").
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	if _, ok := alwaysAllowed[normPath]; ok {
		return nil
	}
	for _, allowed := range allowlist {
		prefix := normalize(allowed)
		if prefix == "" {
			continue
		}
		if normPath == prefix || strings.HasPrefix(normPath, prefix+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("command %q blocked by --enable-commands policy", normPath))
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}

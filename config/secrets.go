package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// SecretProvider resolves the ref part of a "secretref:<provider>:<ref>"
// header value.
//
// Implementations must be safe for concurrent use and must not log values.
type SecretProvider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

var (
	envRefPattern    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	secretRefPattern = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)
)

// ResolveHeaders expands ${VAR} references and secretref values in the
// transport headers, so a file can carry "Bearer ${OPENAI_API_KEY}" instead
// of the key itself. A referenced variable that is not set is an error.
// "$$" is a literal "$".
func (c *Config) ResolveHeaders(ctx context.Context, lookup func(string) (string, bool), providers ...SecretProvider) error {
	if len(c.Transport.Headers) == 0 {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	byName := lo.SliceToMap(providers, func(p SecretProvider) (string, SecretProvider) {
		return p.Name(), p
	})

	out := make(map[string]string, len(c.Transport.Headers))
	for k, v := range c.Transport.Headers {
		expanded, err := expandStrict(v, lookup)
		if err != nil {
			return fmt.Errorf("%w: header %q: %w", ErrInvalid, k, err)
		}
		resolved, err := resolveSecretRefs(ctx, expanded, byName)
		if err != nil {
			return fmt.Errorf("%w: header %q: %w", ErrInvalid, k, err)
		}
		out[k] = resolved
	}
	c.Transport.Headers = out
	return nil
}

func expandStrict(s string, lookup func(string) (string, bool)) (string, error) {
	const dollar = "\x00LLMCORE_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	s = envRefPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := m[2 : len(m)-1]
		v, ok := lookup(key)
		if !ok {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		missing = lo.Uniq(missing)
		slices.Sort(missing)
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return strings.ReplaceAll(s, dollar, "$"), nil
}

func resolveSecretRefs(ctx context.Context, value string, providers map[string]SecretProvider) (string, error) {
	matches := secretRefPattern.FindAllStringSubmatchIndex(value, -1)
	out := value
	// Replace from the end so earlier indexes stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		name, ref := out[m[2]:m[3]], out[m[4]:m[5]]

		p, ok := providers[name]
		if !ok {
			return "", fmt.Errorf("secret provider %q is not registered", name)
		}
		resolved, err := p.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("secret provider %q: %w", name, err)
		}
		if resolved == "" {
			return "", fmt.Errorf("secret provider %q returned empty value", name)
		}
		out = out[:m[0]] + resolved + out[m[1]:]
	}
	return out, nil
}

package agent

import (
	"context"
	"strings"

	"github.com/harun/nara/internal/tracing"
	"github.com/harun/nara/pkg/skills"
)

// Identity documents read from the memory root for every prompt.
const (
	SoulFile = "SOUL.md"
	UserFile = "USER.md"
)

// buildSystemPrompt assembles the system prompt: identity documents, memory
// context relevant to the query, and the available-skills list. Sections
// that resolve empty are omitted.
func (a *Agent) buildSystemPrompt(ctx context.Context, query string) (string, error) {
	var parts []string

	soul, err := a.memory.GetFileContent(SoulFile)
	if err != nil {
		return "", err
	}
	if soul != "" {
		parts = append(parts, soul)
	}

	user, err := a.memory.GetFileContent(UserFile)
	if err != nil {
		return "", err
	}
	if user != "" {
		parts = append(parts, user)
	}

	memoryContext, err := a.memory.GetContext(ctx, query, 0)
	if err != nil {
		return "", err
	}
	if memoryContext != "" {
		parts = append(parts, memoryContext)
	}

	if list := skills.FormatList(a.currentSkills()); list != "" {
		parts = append(parts, list)
	}

	return strings.Join(parts, "\n\n"), nil
}

// IdentityContext returns the identity documents joined together, without
// memory search. Heartbeat prompts embed this as their context block; load
// failures degrade to an empty section.
func (a *Agent) IdentityContext(ctx context.Context) string {
	var parts []string

	for _, name := range []string{SoulFile, UserFile} {
		content, err := a.memory.GetFileContent(name)
		if err != nil {
			logger := tracing.LoggerFromContext(ctx, a.logger)
			logger.Warn().Err(err).Str("file", name).Msg("failed to load identity file")
			continue
		}
		if content != "" {
			parts = append(parts, content)
		}
	}

	return strings.Join(parts, "\n\n")
}

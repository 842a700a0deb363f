package skills

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// SkillFileName is the file a directory must contain to count as a skill.
const SkillFileName = "SKILL.md"

// Skill is one loaded skill. Available reflects whether every declared
// requirement was satisfied at discovery time; Missing holds a description
// per unmet requirement.
type Skill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Content     string   `json:"-"`
	Path        string   `json:"path"`
	RequireBins []string `json:"require_bins,omitempty"`
	RequireEnv  []string `json:"require_env,omitempty"`
	Available   bool     `json:"available"`
	Missing     []string `json:"missing,omitempty"`
}

// frontmatter is the YAML header shape of a SKILL.md file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Metadata    struct {
		Requires struct {
			Bins []string `yaml:"bins"`
			Env  []string `yaml:"env"`
		} `yaml:"requires"`
	} `yaml:"metadata"`
}

// Loader discovers skills under a root directory.
type Loader struct {
	dir          string
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// LoaderConfig holds skills loader configuration.
type LoaderConfig struct {
	Dir    string
	Logger zerolog.Logger
}

// NewLoader creates a skills loader rooted at cfg.Dir.
func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{
		dir:          cfg.Dir,
		logger:       cfg.Logger.With().Str("component", "skills-loader").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(MetadataSchema),
	}
}

// Discover scans the skills root and loads every skill directory, sorted by
// directory name. A missing root is an empty skill set. Files that fail to
// parse degrade to a bare skill named after the directory rather than
// failing discovery.
func (l *Loader) Discover() ([]Skill, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read skills directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		skillPath := filepath.Join(l.dir, entry.Name(), SkillFileName)
		raw, err := os.ReadFile(skillPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			l.logger.Warn().Err(err).Str("skill", entry.Name()).Msg("Failed to read skill file")
			continue
		}

		skills = append(skills, l.loadSkill(entry.Name(), skillPath, string(raw)))
	}

	l.logger.Debug().Int("count", len(skills)).Msg("Discovered skills")
	return skills, nil
}

// loadSkill parses one SKILL.md. Invalid frontmatter never rejects the skill:
// the directory name and full body stand in, and the skill stays available.
func (l *Loader) loadSkill(dirName, path, raw string) Skill {
	meta, body, ok := l.parseFrontmatter(dirName, raw)
	if !ok {
		meta = frontmatter{}
		body = raw
	}

	skill := Skill{
		Name:        meta.Name,
		Description: meta.Description,
		Content:     strings.TrimSpace(body),
		Path:        path,
		RequireBins: meta.Metadata.Requires.Bins,
		RequireEnv:  meta.Metadata.Requires.Env,
	}
	if skill.Name == "" {
		skill.Name = dirName
	}

	skill.Available, skill.Missing = checkRequirements(skill.RequireBins, skill.RequireEnv)
	if !skill.Available {
		l.logger.Debug().
			Str("skill", skill.Name).
			Strs("missing", skill.Missing).
			Msg("Skill requirements not met")
	}
	return skill
}

var frontmatterPattern = regexp.MustCompile(`(?s)\A---\s*\n(.*?)\n---\s*\n?(.*)\z`)

// parseFrontmatter splits a SKILL.md into its YAML header and Markdown body
// and validates the header against MetadataSchema. ok is false when there is
// no usable frontmatter.
func (l *Loader) parseFrontmatter(dirName, raw string) (frontmatter, string, bool) {
	match := frontmatterPattern.FindStringSubmatch(raw)
	if match == nil {
		return frontmatter{}, "", false
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal([]byte(match[1]), &generic); err != nil || generic == nil {
		l.logger.Warn().Err(err).Str("skill", dirName).Msg("Invalid skill frontmatter YAML")
		return frontmatter{}, "", false
	}

	if err := l.validateMetadata(generic); err != nil {
		l.logger.Warn().Err(err).Str("skill", dirName).Msg("Skill frontmatter failed validation")
		return frontmatter{}, "", false
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(match[1]), &meta); err != nil {
		return frontmatter{}, "", false
	}
	return meta, match[2], true
}

// validateMetadata checks parsed frontmatter against the JSON schema.
func (l *Loader) validateMetadata(meta map[string]interface{}) error {
	result, err := gojsonschema.Validate(l.schemaLoader, gojsonschema.NewGoLoader(meta))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errMsg string
		for i, verr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += verr.String()
		}
		return fmt.Errorf("schema validation errors: %s", errMsg)
	}
	return nil
}

// checkRequirements verifies required binaries and environment variables and
// describes each one that is missing.
func checkRequirements(bins, env []string) (bool, []string) {
	var missing []string
	for _, bin := range bins {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, fmt.Sprintf("binary %q not found on PATH", bin))
		}
	}
	for _, name := range env {
		if os.Getenv(name) == "" {
			missing = append(missing, fmt.Sprintf("environment variable %q not set", name))
		}
	}
	return len(missing) == 0, missing
}

// FormatList renders the available skills as a prompt section. Unavailable
// skills are omitted entirely; no available skills yields "" so callers can
// skip the section.
func FormatList(skills []Skill) string {
	var available []Skill
	for _, s := range skills {
		if s.Available {
			available = append(available, s)
		}
	}
	if len(available) == 0 {
		return ""
	}

	lines := []string{"## Available Skills\n"}
	for _, s := range available {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", s.Name, s.Description))
	}
	return strings.Join(lines, "\n")
}

// Content returns the Markdown body of the named skill.
func Content(skills []Skill, name string) (string, bool) {
	for _, s := range skills {
		if s.Name == name {
			return s.Content, true
		}
	}
	return "", false
}

// Package skills discovers Markdown skill files and renders them into the
// agent prompt.
//
// A skill is a directory under the skills root containing a SKILL.md file:
// YAML frontmatter advertising the skill (name, description, requirements)
// followed by a Markdown body with the actual instructions. Requirements name
// binaries that must be on PATH and environment variables that must be set;
// a skill with unmet requirements stays listed internally but is excluded
// from the prompt section.
package skills

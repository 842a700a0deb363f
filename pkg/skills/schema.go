package skills

// MetadataSchema is the JSON Schema for SKILL.md frontmatter validation.
// Every field is optional; a skill with no frontmatter at all is still valid.
const MetadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Skill name shown in the prompt"
    },
    "description": {
      "type": "string",
      "description": "One-line summary shown in the prompt"
    },
    "metadata": {
      "type": "object",
      "properties": {
        "requires": {
          "type": "object",
          "properties": {
            "bins": {
              "type": "array",
              "items": {
                "type": "string",
                "minLength": 1
              },
              "description": "Binaries that must be on PATH"
            },
            "env": {
              "type": "array",
              "items": {
                "type": "string",
                "minLength": 1
              },
              "description": "Environment variables that must be set"
            }
          }
        }
      }
    }
  }
}`

package extract

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML frontmatter an agent may emit at the top of plan
// content. Only fields the recovery subsystem consumes are modeled.
type Frontmatter struct {
	Dependencies []string `yaml:"dependencies"`
	Branch       string   `yaml:"branch"`
}

// ParseFrontmatter extracts YAML frontmatter from plan content. Returns
// the frontmatter and the remaining content. Malformed frontmatter yields
// an empty Frontmatter and the input unchanged: frontmatter is evidence,
// not a contract, so parse failures are not surfaced.
func ParseFrontmatter(content []byte) (Frontmatter, []byte) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return Frontmatter{}, content
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return Frontmatter{}, content
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:endIdx], &fm); err != nil {
		return Frontmatter{}, content
	}

	remaining := bytes.TrimLeft(rest[endIdx+4:], "\n")
	return fm, remaining
}

// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/puppylab/miniagent/pkg/errors"
)

const maxNameLen = 64

var (
	namePattern        = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	headingPattern     = regexp.MustCompile(`^#{1,5}\s+(.*?)\s*#*\s*$`)
	placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	paramPattern       = regexp.MustCompile(`^[-*]\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?:\(([^)]*)\))?\s*:\s*(.*)$`)
)

type frontmatter struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Timeout       string `yaml:"timeout"`
	OpenArguments bool   `yaml:"open-arguments"`
}

// Parse reads one skill document. The skill name comes from the frontmatter
// or, failing that, from the name of the directory holding the document.
func Parse(src Source) (Descriptor, error) {
	data := src.Data
	if data == nil {
		var err error
		data, err = os.ReadFile(src.Path)
		if err != nil {
			return Descriptor{}, errors.MalformedSkill(src.Path, "cannot read skill document").
				WithContext("cause", err.Error())
		}
	}

	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Descriptor{}, errors.MalformedSkill(src.Path, err.Error())
	}

	var meta frontmatter
	if fm != "" {
		if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
			return Descriptor{}, errors.MalformedSkill(src.Path, fmt.Sprintf("parse frontmatter: %v", err))
		}
	}

	d := Descriptor{
		Name:   strings.TrimSpace(meta.Name),
		Closed: !meta.OpenArguments,
		Source: src.Path,
	}
	if d.Name == "" && src.Path != "" {
		d.Name = filepath.Base(filepath.Dir(src.Path))
	}
	if meta.Timeout != "" {
		d.Timeout, err = time.ParseDuration(meta.Timeout)
		if err != nil || d.Timeout <= 0 {
			return Descriptor{}, errors.MalformedSkill(src.Path, fmt.Sprintf("invalid timeout %q", meta.Timeout))
		}
	}

	sections := splitSections(body)
	d.Description = oneLine(sections["description"])
	if d.Description == "" {
		d.Description = strings.TrimSpace(meta.Description)
	}
	d.Meta = strings.TrimSpace(firstOf(sections, "meta", "metadata"))

	if err := parseUsage(&d, sections["usage"]); err != nil {
		return Descriptor{}, errors.MalformedSkill(src.Path, err.Error()).WithContext("skill", d.Name)
	}
	for _, line := range codeLines(firstOf(sections, "examples", "example")) {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "- "), "$ "))
		if line != "" {
			d.Examples = append(d.Examples, line)
		}
	}

	if err := validate(d); err != nil {
		return Descriptor{}, errors.MalformedSkill(src.Path, err.Error()).WithContext("skill", d.Name)
	}
	return d, nil
}

// splitFrontmatter separates an optional leading YAML block from the body.
func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimLeft(content, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return "", content, nil
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	return strings.TrimSpace(parts[1]), parts[2], nil
}

// splitSections maps lower-cased heading titles to their text. Text before
// the first heading is dropped; a repeated heading keeps the first one.
func splitSections(body string) map[string]string {
	out := make(map[string]string)
	var (
		title string
		buf   strings.Builder
		open  bool
	)
	flush := func() {
		if open {
			if _, seen := out[title]; !seen {
				out[title] = buf.String()
			}
		}
		buf.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	inFence := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				flush()
				title = strings.ToLower(strings.TrimSpace(m[1]))
				open = true
				continue
			}
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()
	return out
}

func firstOf(sections map[string]string, names ...string) string {
	for _, n := range names {
		if s, ok := sections[n]; ok {
			return s
		}
	}
	return ""
}

// codeLines returns the non-empty lines of a section with fence markers
// removed.
func codeLines(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func oneLine(section string) string {
	return strings.Join(codeLines(section), " ")
}

// parseUsage takes the first plain line of the usage section as the
// template and every "- name (type[, optional]): description" line naming a
// template placeholder as a parameter. Other described lines are prose.
func parseUsage(d *Descriptor, section string) error {
	described := make(map[string]Parameter)
	var order []string

	for _, line := range codeLines(section) {
		if m := paramPattern.FindStringSubmatch(line); m != nil {
			p, err := parseParameter(m[1], m[2], m[3])
			if err != nil {
				return err
			}
			if _, dup := described[p.Name]; dup {
				return fmt.Errorf("parameter %q described twice", p.Name)
			}
			described[p.Name] = p
			order = append(order, p.Name)
			continue
		}
		if d.Template == "" {
			d.Template = strings.Trim(strings.TrimPrefix(line, "$ "), "`")
		}
	}
	if d.Template == "" {
		return fmt.Errorf("usage template is required")
	}

	placeholders := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(d.Template, -1) {
		name := m[1]
		if _, ok := described[name]; !ok {
			return fmt.Errorf("placeholder {%s} has no description", name)
		}
		placeholders[name] = true
	}
	for _, name := range order {
		if !placeholders[name] {
			slog.Debug("skill.usage.skipped", slog.String("skill", d.Name), slog.String("line", name))
			continue
		}
		d.Parameters = append(d.Parameters, described[name])
	}

	// The usage line is the first example.
	d.Examples = append(d.Examples, d.Template)
	return nil
}

func parseParameter(name, attrs, description string) (Parameter, error) {
	p := Parameter{
		Name:        name,
		Type:        TypeString,
		Required:    true,
		Description: strings.TrimSpace(description),
	}
	for _, attr := range strings.Split(attrs, ",") {
		attr = strings.ToLower(strings.TrimSpace(attr))
		switch {
		case attr == "":
		case attr == "optional":
			p.Required = false
		case attr == "required":
			p.Required = true
		case ParamType(attr).valid():
			p.Type = ParamType(attr)
		case attr == "int":
			p.Type = TypeInteger
		case attr == "bool":
			p.Type = TypeBoolean
		default:
			return Parameter{}, fmt.Errorf("parameter %q has unknown attribute %q", name, attr)
		}
	}
	if p.Description == "" {
		return Parameter{}, fmt.Errorf("parameter %q has an empty description", name)
	}
	return p, nil
}

func validate(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if d.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(d.Examples) == 0 {
		return fmt.Errorf("at least one example is required")
	}
	return nil
}

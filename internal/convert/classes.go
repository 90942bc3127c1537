package convert

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClassMap resolves detector class ids to label names.
type ClassMap map[int]string

// ClassMapFromNames indexes names by position.
func ClassMapFromNames(names []string) ClassMap {
	classes := make(ClassMap, len(names))
	for i, name := range names {
		classes[i] = name
	}
	return classes
}

// Name returns the label for id.
func (m ClassMap) Name(id int) (string, bool) {
	name, ok := m[id]
	return name, ok
}

// IDs returns the class ids in ascending order.
func (m ClassMap) IDs() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Names returns the labels ordered by class id.
func (m ClassMap) Names() []string {
	ids := m.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = m[id]
	}
	return names
}

// LoadClassMap reads class names from a data.yaml (.yaml/.yml) or a
// classes.txt file.
func LoadClassMap(path string) (ClassMap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open class map: %w", err)
	}
	defer file.Close()

	var classes ClassMap
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		classes, err = ParseDataYAML(file)
	default:
		classes, err = ParseClassesText(file)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%s: no class names found", path)
	}
	return classes, nil
}

// ParseDataYAML reads the names key of an Ultralytics dataset file, which is
// either a list or an index-to-name mapping.
func ParseDataYAML(r io.Reader) (ClassMap, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty dataset file")
		}
		return nil, fmt.Errorf("parse dataset yaml: %w", err)
	}
	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode names list: %w", err)
		}
		return ClassMapFromNames(names), nil
	case yaml.MappingNode:
		var indexed map[int]string
		if err := doc.Names.Decode(&indexed); err != nil {
			return nil, fmt.Errorf("decode names mapping: %w", err)
		}
		return ClassMap(indexed), nil
	case 0:
		return nil, errors.New("dataset yaml has no names key")
	default:
		return nil, errors.New("dataset yaml names must be a list or a mapping")
	}
}

// ParseClassesText reads one class per line, either "idx: name" or a bare
// name whose id is its position among the non-empty lines.
func ParseClassesText(r io.Reader) (ClassMap, error) {
	classes := ClassMap{}
	scanner := bufio.NewScanner(r)
	position := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, name := position, line
		if before, after, found := strings.Cut(line, ":"); found {
			if parsed, err := strconv.Atoi(strings.TrimSpace(before)); err == nil {
				id, name = parsed, strings.TrimSpace(after)
			}
		}
		if name == "" {
			return nil, fmt.Errorf("line %d: empty class name", lineNo)
		}
		if existing, dup := classes[id]; dup {
			return nil, fmt.Errorf("line %d: class id %d already named %q", lineNo, id, existing)
		}
		classes[id] = name
		position++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read classes: %w", err)
	}
	return classes, nil
}

// Package prompts loads the LLM prompt templates embedded at compile time.
// Templates are JSON objects of key to text; placeholders are {{.Name}}.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

var placeholder = regexp.MustCompile(`\{\{\.([A-Za-z][A-Za-z0-9]*)\}\}`)

// file is one parsed prompt file.
type file struct {
	once    sync.Once
	prompts map[string]string
	err     error
}

var (
	files   = make(map[string]*file)
	filesMu sync.Mutex
)

// MissingFieldsError reports template placeholders the caller gave no value for.
type MissingFieldsError struct {
	Key    string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("prompt %q is missing values for %s", e.Key, strings.Join(e.Fields, ", "))
}

// Get retrieves a prompt by filename (e.g. "sourcing.json") and key.
func Get(filename, key string) (string, error) {
	prompts, err := load(filename)
	if err != nil {
		return "", err
	}
	prompt, ok := prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// Fields lists the distinct placeholders of template in order of appearance.
func Fields(template string) []string {
	var fields []string
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if !slices.Contains(fields, m[1]) {
			fields = append(fields, m[1])
		}
	}
	return fields
}

// Format replaces {{.Key}} placeholders with values from data. Unknown
// placeholders are left in place. Values are inserted verbatim and never
// re-expanded.
func Format(template string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := data[m[3:len(m)-2]]; ok {
			return v
		}
		return m
	})
}

// Render fills the prompt filename/key from data. Every placeholder must
// have a value so that a renamed ICP field cannot silently ship a prompt
// with a literal {{.Name}} in it.
func Render(filename, key string, data map[string]string) (string, error) {
	tmpl, err := Get(filename, key)
	if err != nil {
		return "", err
	}
	var missing []string
	for _, f := range Fields(tmpl) {
		if _, ok := data[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return "", &MissingFieldsError{Key: key, Fields: missing}
	}
	return Format(tmpl, data), nil
}

// Keys returns the sorted prompt keys of a file.
func Keys(filename string) ([]string, error) {
	prompts, err := load(filename)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

func load(filename string) (map[string]string, error) {
	filesMu.Lock()
	f, ok := files[filename]
	if !ok {
		f = &file{}
		files[filename] = f
	}
	filesMu.Unlock()

	f.once.Do(func() {
		data, err := promptFiles.ReadFile(filename)
		if err != nil {
			f.err = fmt.Errorf("failed to read prompt file %s: %w", filename, err)
			return
		}
		if err := json.Unmarshal(data, &f.prompts); err != nil {
			f.err = fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
		}
	})
	return f.prompts, f.err
}

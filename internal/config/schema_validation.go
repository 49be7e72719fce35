package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	launchschema "github.com/Paintersrp/muther/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce     sync.Once
	manifestSchema *jsonschema.Schema
	schemaErr      error
)

// SchemaIssue is one violation of the launch manifest schema.
type SchemaIssue struct {
	// Path is the manifest location, e.g. "children[1].health".
	Path string
	// Child names the child the location belongs to, when it is known.
	Child   string
	Message string
}

// SchemaError lists every schema violation of a manifest, ordered by path.
type SchemaError struct {
	Issues []SchemaIssue
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema validation failed:")
	for _, issue := range e.Issues {
		fmt.Fprintf(&b, "\n- %s: %s", issue.Path, issue.Message)
		if issue.Child != "" {
			fmt.Fprintf(&b, " (child %q)", issue.Child)
		}
	}
	return b.String()
}

func loadManifestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("launch.v1.json", bytes.NewReader(launchschema.LaunchV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add launch schema resource: %w", err)
			return
		}
		manifestSchema, schemaErr = compiler.Compile("launch.v1.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile launch schema: %w", schemaErr)
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	return manifestSchema, nil
}

// validateAgainstSchema checks the raw decoded manifest. TOML and YAML both
// decode into map[string]any, so the document is round-tripped through JSON
// to give the validator plain JSON values.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadManifestSchema()
	if err != nil {
		return fmt.Errorf("load launch schema: %w", err)
	}

	instance, err := toJSONValue(doc)
	if err != nil {
		return fmt.Errorf("prepare manifest for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	names := childNames(doc)
	schemaErr := &SchemaError{}
	collectIssues(vErr, names, schemaErr)
	sort.SliceStable(schemaErr.Issues, func(i, j int) bool {
		return schemaErr.Issues[i].Path < schemaErr.Issues[j].Path
	})
	return schemaErr
}

func toJSONValue(doc map[string]any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// childNames returns the declared child names by index, so issues can name
// the child even when the violation is inside it.
func childNames(doc map[string]any) []string {
	list, _ := doc["children"].([]any)
	names := make([]string, len(list))
	for i, item := range list {
		if entry, ok := item.(map[string]any); ok {
			names[i], _ = entry["name"].(string)
		}
	}
	return names
}

// collectIssues flattens the validator's cause tree into leaf issues. Wrapper
// nodes ("doesn't validate with ...") only repeat their causes.
func collectIssues(err *jsonschema.ValidationError, names []string, out *SchemaError) {
	if len(err.Causes) > 0 {
		for _, cause := range err.Causes {
			collectIssues(cause, names, out)
		}
		return
	}
	path, child := manifestLocation(err.InstanceLocation, names)
	out.Issues = append(out.Issues, SchemaIssue{Path: path, Child: child, Message: err.Message})
}

// manifestLocation turns a JSON pointer such as "/children/1/health" into
// "children[1].health" and resolves the child it points into.
func manifestLocation(ptr string, names []string) (string, string) {
	segments := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	var b strings.Builder
	child := ""
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		decoded := strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if index, err := strconv.Atoi(decoded); err == nil {
			fmt.Fprintf(&b, "[%d]", index)
			if i == 1 && segments[0] == "children" && index < len(names) {
				child = names[index]
			}
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(decoded)
	}
	if b.Len() == 0 {
		return "manifest", ""
	}
	return b.String(), child
}

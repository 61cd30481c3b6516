package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Transform is a declarative payload mapping. It is evaluated by a small
// interpreter that only touches the decoded payload, so tenant-supplied
// transforms cannot reach the host.
//
// Source form:
//
//	{"operations": [
//	  {"op": "select",   "fields": ["claim.id", "status"]},
//	  {"op": "rename",   "from": "claim.id", "to": "claimId"},
//	  {"op": "set",      "path": "source", "value": "claimsflow"},
//	  {"op": "template", "path": "summary", "template": "Claim {{claimId}} is {{status}}"},
//	  {"op": "remove",   "fields": ["internal"]},
//	  {"op": "wrap",     "key": "data"}
//	]}
//
// A bare JSON array of operations is accepted as well.
type Transform struct {
	Operations []Operation `json:"operations"`
}

type OpKind string

const (
	OpSelect   OpKind = "select"
	OpRemove   OpKind = "remove"
	OpRename   OpKind = "rename"
	OpSet      OpKind = "set"
	OpTemplate OpKind = "template"
	OpWrap     OpKind = "wrap"
)

type Operation struct {
	Op       OpKind          `json:"op"`
	Fields   []string        `json:"fields,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Path     string          `json:"path,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Template string          `json:"template,omitempty"`
	Key      string          `json:"key,omitempty"`
}

const maxTransformOps = 64

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// ParseTransform parses and validates transform source.
func ParseTransform(src string) (*Transform, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidTransform)
	}

	var t Transform
	if strings.HasPrefix(src, "[") {
		if err := decodeStrict(src, &t.Operations); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransform, err)
		}
	} else if err := decodeStrict(src, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransform, err)
	}

	if len(t.Operations) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrInvalidTransform)
	}
	if len(t.Operations) > maxTransformOps {
		return nil, fmt.Errorf("%w: more than %d operations", ErrInvalidTransform, maxTransformOps)
	}
	for i, op := range t.Operations {
		if err := op.validate(); err != nil {
			return nil, fmt.Errorf("%w: operation %d: %v", ErrInvalidTransform, i, err)
		}
	}
	return &t, nil
}

func decodeStrict(src string, v any) error {
	dec := json.NewDecoder(strings.NewReader(src))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(v)
}

func (op Operation) validate() error {
	switch op.Op {
	case OpSelect, OpRemove:
		if len(op.Fields) == 0 {
			return fmt.Errorf("%s requires fields", op.Op)
		}
		for _, f := range op.Fields {
			if !validPath(f) {
				return fmt.Errorf("invalid field path %q", f)
			}
		}
	case OpRename:
		if !validPath(op.From) || !validPath(op.To) {
			return fmt.Errorf("rename requires from and to paths")
		}
	case OpSet:
		if !validPath(op.Path) {
			return fmt.Errorf("set requires a path")
		}
		if len(op.Value) == 0 {
			return fmt.Errorf("set requires a value")
		}
	case OpTemplate:
		if !validPath(op.Path) {
			return fmt.Errorf("template requires a path")
		}
	case OpWrap:
		if op.Key == "" || strings.Contains(op.Key, ".") {
			return fmt.Errorf("wrap requires a plain key")
		}
	default:
		return fmt.Errorf("unsupported op %q", op.Op)
	}
	return nil
}

func validPath(p string) bool {
	if p == "" {
		return false
	}
	for _, part := range strings.Split(p, ".") {
		if part == "" {
			return false
		}
	}
	return true
}

// Apply runs the operations against a JSON object payload and returns the
// canonical encoding of the result.
func (t *Transform) Apply(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("transform: decode payload: %w", err)
	}
	doc, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transform: payload is not a JSON object")
	}

	for i, op := range t.Operations {
		next, err := op.apply(doc)
		if err != nil {
			return nil, fmt.Errorf("transform: operation %d (%s): %w", i, op.Op, err)
		}
		doc = next
	}
	return encodeCanonical(doc)
}

func (op Operation) apply(doc map[string]any) (map[string]any, error) {
	switch op.Op {
	case OpSelect:
		out := map[string]any{}
		for _, f := range op.Fields {
			if v, ok := getPath(doc, f); ok {
				if err := setPath(out, f, v); err != nil {
					return nil, err
				}
			}
		}
		return out, nil
	case OpRemove:
		for _, f := range op.Fields {
			deletePath(doc, f)
		}
		return doc, nil
	case OpRename:
		v, ok := getPath(doc, op.From)
		if !ok {
			return doc, nil
		}
		deletePath(doc, op.From)
		return doc, setPath(doc, op.To, v)
	case OpSet:
		dec := json.NewDecoder(bytes.NewReader(op.Value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return doc, setPath(doc, op.Path, v)
	case OpTemplate:
		rendered := placeholder.ReplaceAllStringFunc(op.Template, func(m string) string {
			path := placeholder.FindStringSubmatch(m)[1]
			v, ok := getPath(doc, path)
			if !ok {
				return ""
			}
			return stringify(v)
		})
		return doc, setPath(doc, op.Path, rendered)
	case OpWrap:
		return map[string]any{op.Key: doc}, nil
	}
	return nil, fmt.Errorf("unsupported op %q", op.Op)
}

func getPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc map[string]any, path string, v any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, exists := cur[p]
		if !exists {
			child := map[string]any{}
			cur[p] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %q crosses a non-object value at %q", path, p)
		}
		cur = child
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

func deletePath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = child
	}
	delete(cur, parts[len(parts)-1])
}

func stringify(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case nil:
		return ""
	default:
		data, err := encodeCanonical(typed)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

package redaction

import (
	"fmt"
	"strconv"
	"strings"

	gojson "github.com/coreos/go-json"
	jp "github.com/reclaimprotocol/jsonpathplus-go"

	"tlsn-notary/shared"
)

// ExtractJSONFields adds the raw bytes of every value selected by paths in
// the JSON document body. Values are taken verbatim from body (quotes and
// escapes included) so they match the transcript byte for byte. A path that
// selects nothing adds nothing.
func ExtractJSONFields(set *PrivateDataSet, body []byte, paths []string) (int, error) {
	added := 0
	for _, path := range paths {
		ranges, err := LocateJSONValues(body, path)
		if err != nil {
			return added, err
		}
		for _, r := range ranges {
			if set.Add(body[r.Start:r.End]) {
				added++
			}
		}
	}
	return added, nil
}

// LocateJSONValues returns the byte range in doc of every value selected by
// the JSONPath expression, in match order.
func LocateJSONValues(doc []byte, expr string) ([]shared.Range, error) {
	matches, err := jp.Query(expr, string(doc))
	if err != nil {
		return nil, fmt.Errorf("JSONPath query %q failed: %w", expr, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var root gojson.Node
	if err := gojson.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("failed to parse JSON for offsets: %w", err)
	}

	ranges := make([]shared.Range, 0, len(matches))
	for _, m := range matches {
		steps, err := parseMatchPath(m.Path)
		if err != nil {
			return nil, err
		}
		node, err := walk(&root, steps)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", m.Path, err)
		}
		// Node.End is the offset of the value's last byte
		r := shared.Range{Start: node.Start, End: node.End + 1}
		if r.IsEmpty() || !r.Within(len(doc)) {
			return nil, fmt.Errorf("match %s resolved to %v in a %d byte document", m.Path, r, len(doc))
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// pathStep is one member access of a normalized match path: an object key,
// or an array index when isIndex is set.
type pathStep struct {
	key     string
	index   int
	isIndex bool
}

func (s pathStep) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	return strconv.Quote(s.key)
}

// parseMatchPath splits the normalized path reported for a match, such as
// $['choices'][0]['message'] or $.choices[0].message, into steps. Bracketed
// quoted names are object keys and bracketed integers are indexes.
func parseMatchPath(path string) ([]pathStep, error) {
	rest, ok := strings.CutPrefix(path, "$")
	if !ok {
		return nil, fmt.Errorf("match path %q is not rooted at $", path)
	}

	var steps []pathStep
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return nil, fmt.Errorf("match path %q has an empty member name", path)
			}
			steps = append(steps, pathStep{key: rest[:end]})
			rest = rest[end:]

		case '[':
			step, n, err := parseBracket(rest)
			if err != nil {
				return nil, fmt.Errorf("match path %q: %w", path, err)
			}
			steps = append(steps, step)
			rest = rest[n:]

		default:
			return nil, fmt.Errorf("match path %q: unexpected %q", path, rest[0])
		}
	}
	return steps, nil
}

// parseBracket reads one [..] selector at the start of s and returns the
// step and the number of bytes consumed
func parseBracket(s string) (pathStep, int, error) {
	if len(s) > 1 && (s[1] == '\'' || s[1] == '"') {
		quote := s[1]
		closing := strings.IndexByte(s[2:], quote)
		if closing < 0 || len(s) < closing+4 || s[closing+3] != ']' {
			return pathStep{}, 0, fmt.Errorf("unterminated key in %q", s)
		}
		return pathStep{key: s[2 : 2+closing]}, closing + 4, nil
	}

	end := strings.IndexByte(s, ']')
	if end < 0 {
		return pathStep{}, 0, fmt.Errorf("unterminated index in %q", s)
	}
	idx, err := strconv.Atoi(s[1:end])
	if err != nil || idx < 0 {
		return pathStep{}, 0, fmt.Errorf("invalid index %q", s[1:end])
	}
	return pathStep{index: idx, isIndex: true}, end + 1, nil
}

// walk follows steps from node through the positioned parse tree
func walk(node *gojson.Node, steps []pathStep) (*gojson.Node, error) {
	cur := node
	for _, step := range steps {
		switch v := cur.Value.(type) {
		case map[string]gojson.Node:
			if step.isIndex {
				return nil, fmt.Errorf("index %s applied to an object", step)
			}
			next, ok := v[step.key]
			if !ok {
				return nil, fmt.Errorf("no member %s", step)
			}
			cur = &next
		case []gojson.Node:
			if !step.isIndex {
				return nil, fmt.Errorf("member %s applied to an array", step)
			}
			if step.index >= len(v) {
				return nil, fmt.Errorf("index %s beyond %d elements", step, len(v))
			}
			cur = &v[step.index]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %s", v, step)
		}
	}
	return cur, nil
}

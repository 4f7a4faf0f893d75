package refine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError describes controller output that is not a valid tool call.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return "invalid tool call: " + e.Reason
}

var (
	toolRe     = regexp.MustCompile(`(?s)<tool\s+name\s*=\s*"([^"]*)"\s*(?:/>|>(.*?)</tool>)`)
	toolOpenRe = regexp.MustCompile(`<tool\b`)
	paramRe    = regexp.MustCompile(`(?s)<param\s+name\s*=\s*"([^"]*)"\s*>(.*?)</param>`)
	fenceRe    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// Parse extracts tool calls from controller output. Calls are read from
// <tool name="..."> tags with <param name="..."> children; output with no
// tags is tried as a JSON object or array. Well-formed calls are returned
// even when others fail, and each failure is reported separately.
func Parse(raw string) ([]ToolCall, []*ParseError) {
	if toolOpenRe.MatchString(raw) {
		return parseTags(raw)
	}
	if calls, errs, ok := parseJSON(raw); ok {
		return calls, errs
	}
	return nil, []*ParseError{{Raw: truncate(raw, 200), Reason: "no tool calls found"}}
}

func parseTags(raw string) ([]ToolCall, []*ParseError) {
	var (
		calls []ToolCall
		errs  []*ParseError
	)
	matches := toolRe.FindAllStringSubmatchIndex(raw, -1)
	for _, m := range matches {
		text := raw[m[0]:m[1]]
		name := raw[m[2]:m[3]]
		body := ""
		if m[4] >= 0 {
			body = raw[m[4]:m[5]]
		}
		params := make(map[string]string)
		for _, p := range paramRe.FindAllStringSubmatch(body, -1) {
			params[strings.TrimSpace(p[1])] = p[2]
		}
		call, err := build(strings.TrimSpace(name), params)
		if err != nil {
			errs = append(errs, &ParseError{Raw: truncate(text, 200), Reason: err.Error()})
			continue
		}
		calls = append(calls, call)
	}
	if opened := len(toolOpenRe.FindAllStringIndex(raw, -1)); opened > len(matches) {
		errs = append(errs, &ParseError{
			Raw:    truncate(raw, 200),
			Reason: fmt.Sprintf("%d <tool> tag(s) not closed", opened-len(matches)),
		})
	}
	return calls, errs
}

type jsonCall struct {
	Tool      string         `json:"tool"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	Arguments map[string]any `json:"arguments"`
}

func parseJSON(raw string) ([]ToolCall, []*ParseError, bool) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var list []jsonCall
	switch {
	case strings.HasPrefix(text, "["):
		if err := json.Unmarshal([]byte(text), &list); err != nil {
			return nil, []*ParseError{{Raw: truncate(raw, 200), Reason: "invalid JSON: " + err.Error()}}, true
		}
	case strings.HasPrefix(text, "{"):
		var one jsonCall
		if err := json.Unmarshal([]byte(text), &one); err != nil {
			return nil, []*ParseError{{Raw: truncate(raw, 200), Reason: "invalid JSON: " + err.Error()}}, true
		}
		list = []jsonCall{one}
	default:
		return nil, nil, false
	}

	var (
		calls []ToolCall
		errs  []*ParseError
	)
	for _, jc := range list {
		name := jc.Tool
		if name == "" {
			name = jc.Name
		}
		args := jc.Params
		if args == nil {
			args = jc.Arguments
		}
		params := make(map[string]string, len(args))
		for k, v := range args {
			params[k] = stringify(v)
		}
		call, err := build(name, params)
		if err != nil {
			errs = append(errs, &ParseError{Raw: name, Reason: err.Error()})
			continue
		}
		calls = append(calls, call)
	}
	return calls, errs, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// build turns a tool name and raw parameters into a ToolCall.
func build(name string, params map[string]string) (ToolCall, error) {
	p := paramReader{name: name, params: params}
	switch name {
	case ToolExpandDirectory:
		return ExpandDirectory{Path: p.path()}, p.err
	case ToolCollapseDirectory:
		return CollapseDirectory{Path: p.path()}, p.err
	case ToolSearchKeyword:
		return SearchKeyword{Query: p.text("query")}, p.err
	case ToolSearchCodebase:
		return SearchCodebase{Query: p.text("query")}, p.err
	case ToolViewFile:
		return ViewFile{Path: p.file()}, p.err
	case ToolViewRange:
		c := ViewRange{Path: p.file(), Start: p.number("start"), End: p.number("end")}
		p.checkRange(c.Start, c.End)
		return c, p.err
	case ToolStoreSnippet:
		c := StoreSnippet{Path: p.file()}
		if p.has("text") {
			c.Text = p.text("text")
			return c, p.err
		}
		c.Start, c.End = p.number("start"), p.number("end")
		p.checkRange(c.Start, c.End)
		return c, p.err
	case ToolRemoveSnippet:
		c := RemoveSnippet{Path: p.file()}
		if p.has("start") || p.has("end") {
			c.Start, c.End, c.HasRange = p.number("start"), p.number("end"), true
			p.checkRange(c.Start, c.End)
		}
		return c, p.err
	case ToolSubmit:
		return Submit{}, nil
	case "":
		return nil, fmt.Errorf("missing tool name")
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

// paramReader reads parameters, keeping the first error.
type paramReader struct {
	name   string
	params map[string]string
	err    error
}

func (p *paramReader) has(key string) bool {
	_, ok := p.params[key]
	return ok
}

func (p *paramReader) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: "+format, append([]any{p.name}, args...)...)
	}
}

func (p *paramReader) text(key string) string {
	v, ok := p.params[key]
	v = strings.Trim(v, "\r\n")
	if !ok || strings.TrimSpace(v) == "" {
		p.fail("missing parameter %q", key)
	}
	return v
}

// path reads an optional directory path; the root is "".
func (p *paramReader) path() string {
	return strings.TrimSpace(p.params["path"])
}

func (p *paramReader) file() string {
	v := strings.TrimSpace(p.params["path"])
	if v == "" {
		p.fail("missing parameter %q", "path")
	}
	return v
}

func (p *paramReader) number(key string) int {
	v, ok := p.params[key]
	if !ok {
		p.fail("missing parameter %q", key)
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.fail("parameter %q must be an integer, got %q", key, strings.TrimSpace(v))
		return 0
	}
	return n
}

func (p *paramReader) checkRange(start, end int) {
	if p.err == nil && (start < 0 || end < start) {
		p.fail("invalid range %d-%d", start, end)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

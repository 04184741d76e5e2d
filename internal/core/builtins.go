package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
	"golang.org/x/net/html/charset"
)

// This file implements the built-in tool set named in spec.md §4.2:
// file_read, file_write, file_edit, file_delete, bash, grep, glob,
// list_dir, fetch, todo_read, todo_write. Each is grounded on the
// teacher's internal/tools package (read.go/write.go/edit.go/shell.go/
// grep.go/glob.go), generalized to this package's Tool interface and
// trimmed of the teacher's interactive approval-prompt flow, which is a
// cmd/-layer (UI collaborator) concern spec.md §1 places out of scope.

func simpleSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// --- file_read ---

type FileReadTool struct{ WorkDir string }

func (t *FileReadTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "file_read",
		Description: "Read the contents of a file.",
		Schema: simpleSchema([]string{"path"}, map[string]any{
			"path": strProp("Path to the file to read"),
		}),
		IsReadOnly: true,
	}
}

func (t *FileReadTool) Preview(input json.RawMessage) string {
	var a struct{ Path string }
	_ = json.Unmarshal(input, &a)
	return a.Path
}

func (t *FileReadTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct{ Path string `json:"path"` }
	if err := json.Unmarshal(input, &a); err != nil || a.Path == "" {
		return ToolOutput{Content: "path is required", IsError: true}, nil
	}
	data, err := os.ReadFile(t.resolve(a.Path))
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	return ToolOutput{Content: string(data)}, nil
}

func (t *FileReadTool) resolve(p string) string {
	if filepath.IsAbs(p) || t.WorkDir == "" {
		return p
	}
	return filepath.Join(t.WorkDir, p)
}

// --- file_write ---

type FileWriteTool struct{ WorkDir string }

func (t *FileWriteTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "file_write",
		Description: "Write content to a file, creating or overwriting it.",
		Schema: simpleSchema([]string{"path", "content"}, map[string]any{
			"path":    strProp("Path to the file to write"),
			"content": strProp("Full file content"),
		}),
	}
}

func (t *FileWriteTool) Preview(input json.RawMessage) string {
	var a struct{ Path string }
	_ = json.Unmarshal(input, &a)
	return a.Path
}

func (t *FileWriteTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &a); err != nil || a.Path == "" {
		return ToolOutput{Content: "path is required", IsError: true}, nil
	}
	full := (&FileReadTool{WorkDir: t.WorkDir}).resolve(a.Path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	if err := os.WriteFile(full, []byte(a.Content), 0o644); err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	return ToolOutput{Content: fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path)}, nil
}

// --- file_edit ---
// Anchor-and-replace with explicit before/after strings, per spec.md §4.2:
// "performs an anchor-and-replace with explicit before/after strings;
// returns is_error if the anchor is ambiguous or absent".

type FileEditTool struct{ WorkDir string }

func (t *FileEditTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "file_edit",
		Description: "Edit a file by replacing old_string with new_string. old_string must match exactly once.",
		Schema: simpleSchema([]string{"path", "old_string", "new_string"}, map[string]any{
			"path":       strProp("Path to the file to edit"),
			"old_string": strProp("Exact text to find; must be unique in the file"),
			"new_string": strProp("Replacement text"),
		}),
	}
}

func (t *FileEditTool) Preview(input json.RawMessage) string {
	var a struct{ Path string }
	_ = json.Unmarshal(input, &a)
	return a.Path
}

func (t *FileEditTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct {
		Path      string `json:"path"`
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	}
	if err := json.Unmarshal(input, &a); err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	full := (&FileReadTool{WorkDir: t.WorkDir}).resolve(a.Path)
	data, err := os.ReadFile(full)
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	content := string(data)
	count := strings.Count(content, a.OldString)
	switch {
	case count == 0:
		return ToolOutput{Content: "anchor not found: old_string does not match any text in the file", IsError: true}, nil
	case count > 1:
		return ToolOutput{Content: fmt.Sprintf("anchor ambiguous: old_string matches %d locations, include more context", count), IsError: true}, nil
	}
	newContent := strings.Replace(content, a.OldString, a.NewString, 1)
	if err := os.WriteFile(full, []byte(newContent), 0o644); err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	return ToolOutput{Content: fmt.Sprintf("edited %s", a.Path)}, nil
}

// --- file_delete ---

type FileDeleteTool struct{ WorkDir string }

func (t *FileDeleteTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "file_delete",
		Description: "Delete a file.",
		Schema:      simpleSchema([]string{"path"}, map[string]any{"path": strProp("Path to the file to delete")}),
	}
}

func (t *FileDeleteTool) Preview(input json.RawMessage) string {
	var a struct{ Path string }
	_ = json.Unmarshal(input, &a)
	return a.Path
}

func (t *FileDeleteTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct{ Path string `json:"path"` }
	if err := json.Unmarshal(input, &a); err != nil || a.Path == "" {
		return ToolOutput{Content: "path is required", IsError: true}, nil
	}
	full := (&FileReadTool{WorkDir: t.WorkDir}).resolve(a.Path)
	if err := os.Remove(full); err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	return ToolOutput{Content: fmt.Sprintf("deleted %s", a.Path)}, nil
}

// --- bash ---
// Scoped to the session working directory, inherits a cleaned env, streams
// combined stdout/stderr, and is cancellable (spec.md §4.2 "Per-tool notes").

type BashTool struct {
	WorkDir string
	// Timeout is the tool's own bound; spec.md §5 states there is no
	// implicit engine-level timeout on tool execution, "the bash tool
	// carries its own".
	Timeout time.Duration
}

func (t *BashTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "bash",
		Description: "Run a shell command in the session working directory.",
		Schema:      simpleSchema([]string{"command"}, map[string]any{"command": strProp("Shell command to execute")}),
	}
}

func (t *BashTool) Preview(input json.RawMessage) string {
	var a struct{ Command string }
	_ = json.Unmarshal(input, &a)
	return a.Command
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct{ Command string `json:"command"` }
	if err := json.Unmarshal(input, &a); err != nil || a.Command == "" {
		return ToolOutput{Content: "command is required", IsError: true}, nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if t.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", a.Command)
	cmd.Dir = t.WorkDir
	cmd.Env = cleanEnv()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if err != nil {
		if runCtx.Err() == context.Canceled {
			return ToolOutput{Content: output + "\ncancelled by user", IsError: true}, nil
		}
		return ToolOutput{Content: fmt.Sprintf("%s\nexit error: %v", output, err), IsError: true}, nil
	}
	return ToolOutput{Content: output}, nil
}

// cleanEnv strips credential-bearing variables before handing the
// environment to a child process, matching the teacher's shell sandboxing
// posture without reproducing its full allowlist (out of spec's scope,
// but "inherits a cleaned env" is literal spec text).
func cleanEnv() []string {
	var out []string
	for _, kv := range os.Environ() {
		upper := strings.ToUpper(kv)
		if strings.Contains(upper, "TOKEN") || strings.Contains(upper, "SECRET") || strings.Contains(upper, "API_KEY") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// --- grep / glob / list_dir: respect gitignore-like filters ---

func loadIgnoreGlobs(root string) []glob.Glob {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var globs []glob.Glob
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if g, err := glob.Compile(line); err == nil {
			globs = append(globs, g)
		}
	}
	return globs
}

func ignored(globs []glob.Glob, relPath string) bool {
	for _, g := range globs {
		if g.Match(relPath) || g.Match(filepath.Base(relPath)) {
			return true
		}
	}
	return strings.Contains(relPath, string(filepath.Separator)+".git"+string(filepath.Separator)) ||
		strings.HasPrefix(relPath, ".git"+string(filepath.Separator))
}

type GrepTool struct{ WorkDir string }

func (t *GrepTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "grep",
		Description: "Search file contents for a literal substring, respecting .gitignore.",
		Schema: simpleSchema([]string{"pattern"}, map[string]any{
			"pattern": strProp("Substring to search for"),
			"path":    strProp("Directory to search (default: working directory)"),
		}),
		IsReadOnly: true,
	}
}

func (t *GrepTool) Preview(input json.RawMessage) string {
	var a struct{ Pattern string }
	_ = json.Unmarshal(input, &a)
	return a.Pattern
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &a); err != nil || a.Pattern == "" {
		return ToolOutput{Content: "pattern is required", IsError: true}, nil
	}
	root := t.WorkDir
	if a.Path != "" {
		root = (&FileReadTool{WorkDir: t.WorkDir}).resolve(a.Path)
	}
	if root == "" {
		root = "."
	}
	globs := loadIgnoreGlobs(root)

	var matches []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || ctx.Err() != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if info.IsDir() {
			if ignored(globs, rel) && rel != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(globs, rel) {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, a.Pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
			}
		}
		return nil
	})
	if len(matches) == 0 {
		return ToolOutput{Content: "no matches"}, nil
	}
	return ToolOutput{Content: strings.Join(matches, "\n")}, nil
}

type GlobTool struct{ WorkDir string }

func (t *GlobTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "glob",
		Description: "Find files matching a glob pattern (e.g. **/*.go), respecting .gitignore.",
		Schema:      simpleSchema([]string{"pattern"}, map[string]any{"pattern": strProp("doublestar glob pattern")}),
		IsReadOnly:  true,
	}
}

func (t *GlobTool) Preview(input json.RawMessage) string {
	var a struct{ Pattern string }
	_ = json.Unmarshal(input, &a)
	return a.Pattern
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct{ Pattern string `json:"pattern"` }
	if err := json.Unmarshal(input, &a); err != nil || a.Pattern == "" {
		return ToolOutput{Content: "pattern is required", IsError: true}, nil
	}
	root := t.WorkDir
	if root == "" {
		root = "."
	}
	globs := loadIgnoreGlobs(root)

	var matches []string
	err := doublestar.GlobWalk(os.DirFS(root), a.Pattern, func(path string, d os.DirEntry) error {
		if ignored(globs, path) {
			return nil
		}
		matches = append(matches, path)
		return nil
	})
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return ToolOutput{Content: "no matches"}, nil
	}
	return ToolOutput{Content: strings.Join(matches, "\n")}, nil
}

type ListDirTool struct{ WorkDir string }

func (t *ListDirTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "list_dir",
		Description: "List the entries of a directory, respecting .gitignore.",
		Schema:      simpleSchema(nil, map[string]any{"path": strProp("Directory to list (default: working directory)")}),
		IsReadOnly:  true,
	}
}

func (t *ListDirTool) Preview(input json.RawMessage) string {
	var a struct{ Path string }
	_ = json.Unmarshal(input, &a)
	return a.Path
}

func (t *ListDirTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct{ Path string `json:"path"` }
	_ = json.Unmarshal(input, &a)
	root := t.WorkDir
	if a.Path != "" {
		root = (&FileReadTool{WorkDir: t.WorkDir}).resolve(a.Path)
	}
	if root == "" {
		root = "."
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	globs := loadIgnoreGlobs(root)
	var names []string
	for _, e := range entries {
		if ignored(globs, e.Name()) {
			continue
		}
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return ToolOutput{Content: strings.Join(names, "\n")}, nil
}

// --- fetch ---
// Returns body + decoded text; binary bodies are classified by sniffed
// content-type (spec.md §4.2 "Per-tool notes").

type FetchTool struct{ Client *http.Client }

func (t *FetchTool) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (t *FetchTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "fetch",
		Description: "Fetch a URL over HTTP(S) and return its body as text when possible.",
		Schema:      simpleSchema([]string{"url"}, map[string]any{"url": strProp("URL to fetch")}),
		IsReadOnly:  true,
	}
}

func (t *FetchTool) Preview(input json.RawMessage) string {
	var a struct{ URL string }
	_ = json.Unmarshal(input, &a)
	return a.URL
}

func (t *FetchTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct{ URL string `json:"url"` }
	if err := json.Unmarshal(input, &a); err != nil || a.URL == "" {
		return ToolOutput{Content: "url is required", IsError: true}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	mediaType, _, _ := mime.ParseMediaType(ct)
	if resp.StatusCode >= 400 {
		return ToolOutput{Content: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), IsError: true}, nil
	}
	if strings.HasPrefix(mediaType, "text/") || strings.Contains(mediaType, "json") || strings.Contains(mediaType, "xml") {
		return ToolOutput{Content: decodeToUTF8(body, ct)}, nil
	}
	if strings.HasPrefix(mediaType, "image/") {
		return ToolOutput{Content: fmt.Sprintf("fetched %d bytes of %s", len(body), mediaType), ImageData: body, MimeType: mediaType}, nil
	}
	return ToolOutput{Content: fmt.Sprintf("fetched %d bytes of binary content (%s), not displayed", len(body), mediaType)}, nil
}

// decodeToUTF8 transcodes a text-like fetched body to UTF-8 when its
// declared or sniffed charset isn't already UTF-8, so fetch tool output is
// always valid UTF-8 text regardless of the remote site's encoding.
func decodeToUTF8(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

// --- todo_read / todo_write ---
// A process-local todo list, matching spec.md's listing of todo_read/
// todo_write as ordinary built-in tools (no persistence guarantee implied
// beyond the session).

type TodoItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type TodoList struct {
	items []TodoItem
}

type TodoReadTool struct{ List *TodoList }

func (t *TodoReadTool) Spec() ToolSpec {
	return ToolSpec{Name: "todo_read", Description: "List the current todo items.", Schema: simpleSchema(nil, map[string]any{}), IsReadOnly: true}
}
func (t *TodoReadTool) Preview(json.RawMessage) string { return "" }
func (t *TodoReadTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	if len(t.List.items) == 0 {
		return ToolOutput{Content: "(no todos)"}, nil
	}
	var sb strings.Builder
	for i, item := range t.List.items {
		mark := " "
		if item.Done {
			mark = "x"
		}
		sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, mark, item.Text))
	}
	return ToolOutput{Content: sb.String()}, nil
}

type TodoWriteTool struct{ List *TodoList }

func (t *TodoWriteTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "todo_write",
		Description: "Replace the todo list with a new set of items.",
		Schema: simpleSchema([]string{"items"}, map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": strProp("Todo item text"),
						"done": map[string]any{"type": "boolean"},
					},
				},
			},
		}),
	}
}
func (t *TodoWriteTool) Preview(input json.RawMessage) string {
	var a struct{ Items []TodoItem }
	_ = json.Unmarshal(input, &a)
	return strconv.Itoa(len(a.Items)) + " items"
}
func (t *TodoWriteTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	var a struct{ Items []TodoItem `json:"items"` }
	if err := json.Unmarshal(input, &a); err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	t.List.items = a.Items
	return ToolOutput{Content: fmt.Sprintf("updated %d todo items", len(a.Items))}, nil
}

// RegisterBuiltins registers the full built-in tool set named in spec.md
// §4.2 against reg, rooted at workDir.
func RegisterBuiltins(reg *Registry, workDir string) *TodoList {
	list := &TodoList{}
	reg.Register(&FileReadTool{WorkDir: workDir})
	reg.Register(&FileWriteTool{WorkDir: workDir})
	reg.Register(&FileEditTool{WorkDir: workDir})
	reg.Register(&FileDeleteTool{WorkDir: workDir})
	reg.Register(&BashTool{WorkDir: workDir})
	reg.Register(&GrepTool{WorkDir: workDir})
	reg.Register(&GlobTool{WorkDir: workDir})
	reg.Register(&ListDirTool{WorkDir: workDir})
	reg.Register(&FetchTool{})
	reg.Register(&TodoReadTool{List: list})
	reg.Register(&TodoWriteTool{List: list})
	return list
}

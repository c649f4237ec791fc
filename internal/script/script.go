// Package script implements the rule-graph loader: an embedded Lua
// interpreter (github.com/yuin/gopher-lua) that executes each discovered
// FORGE file and collects the rules it declares via the host "rule(...)"
// function.
package script

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/forgebuild/forge/internal/ferrors"
	"github.com/forgebuild/forge/internal/logging"
	"github.com/forgebuild/forge/internal/rule"
)

// Loader executes FORGE files and accumulates the rules they declare.
type Loader struct {
	ProjectRoot string
	Logger      *logging.Logger

	rules []*rule.Rule
}

// NewLoader returns a Loader rooted at projectRoot.
func NewLoader(projectRoot string, logger *logging.Logger) *Loader {
	return &Loader{ProjectRoot: projectRoot, Logger: logger}
}

// LoadFiles executes each FORGE file in files (sorted, deduplicated for a
// deterministic load order) in a fresh Lua state per file, scoped so that
// globals declared in one FORGE file never leak into another, and returns
// every rule() call collected across all of them.
func (l *Loader) LoadFiles(files []string) ([]*rule.Rule, error) {
	unique := dedupeSorted(files)

	l.rules = nil
	for _, file := range unique {
		if err := l.loadFile(file); err != nil {
			return nil, err
		}
	}
	return l.rules, nil
}

func dedupeSorted(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// loadFile validates, then interprets, a single FORGE file.
func (l *Loader) loadFile(file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return ferrors.NewIOError("read forge file "+file, err)
	}

	if err := validate(file, content); err != nil {
		return err
	}

	state := lua.NewState()
	defer state.Close()

	l.registerHostFunctions(state, filepath.Dir(file))

	if err := state.DoString(string(content)); err != nil {
		return ferrors.NewScriptExecutionError(file, err)
	}
	return nil
}

// validate performs a permissive sanity check: a FORGE file must at least
// reference "rule" or "require" to be considered a plausible build script
// (a file that only pulls in shared rules via require(...) is still
// valid); anything else is rejected up front rather than executed and
// producing a confusing Lua error.
func validate(file string, content []byte) error {
	text := string(content)
	if !strings.Contains(text, "rule") && !strings.Contains(text, "require") {
		return ferrors.NewInvalidForgeFile(file, "file does not define any rule(...) or require(...) calls")
	}
	return nil
}

// registerHostFunctions installs the minimal host surface scripts run
// against: rule() to declare a build rule, plus small path/fs/log/env
// helpers so scripts can compute inputs and outputs without shelling out.
func (l *Loader) registerHostFunctions(state *lua.LState, fileDir string) {
	state.SetGlobal("rule", state.NewFunction(l.luaRule))

	pathModule := state.NewTable()
	state.SetFuncs(pathModule, map[string]lua.LGFunction{
		"join": luaPathJoin,
	})
	state.SetGlobal("path", pathModule)

	fsModule := state.NewTable()
	state.SetFuncs(fsModule, map[string]lua.LGFunction{
		"exists": luaFSExists(fileDir),
	})
	state.SetGlobal("fs", fsModule)

	logModule := state.NewTable()
	state.SetFuncs(logModule, map[string]lua.LGFunction{
		"info":  l.luaLogInfo,
		"debug": l.luaLogDebug,
	})
	state.SetGlobal("log", logModule)

	envModule := state.NewTable()
	state.SetFuncs(envModule, map[string]lua.LGFunction{
		"get": luaEnvGet,
	})
	state.SetGlobal("env", envModule)
}

// luaRule implements the host "rule(table)" function: it reads a Lua table
// describing one build rule and appends it to the loader's accumulated
// rule list.
func (l *Loader) luaRule(state *lua.LState) int {
	tbl := state.CheckTable(1)

	r := &rule.Rule{
		Env: map[string]string{},
	}

	r.Name = stringField(tbl, "name")
	r.Command = stringField(tbl, "command")
	r.Workdir = stringField(tbl, "workdir")
	r.Args = stringSliceField(tbl, "args")
	r.Inputs = stringSliceField(tbl, "inputs")
	r.Outputs = stringSliceField(tbl, "outputs")
	r.Dependencies = stringSliceField(tbl, "dependencies")

	if envVal := tbl.RawGetString("env"); envVal.Type() == lua.LTTable {
		envTbl := envVal.(*lua.LTable)
		envTbl.ForEach(func(k, v lua.LValue) {
			r.Env[k.String()] = v.String()
		})
	}

	if r.Name == "" {
		state.RaiseError("rule() requires a non-empty \"name\" field")
		return 0
	}
	if r.Command == "" {
		state.RaiseError("rule() requires a non-empty \"command\" field")
		return 0
	}

	l.rules = append(l.rules, r)
	return 0
}

func stringField(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if v.Type() == lua.LTString {
		return v.String()
	}
	return ""
}

func stringSliceField(tbl *lua.LTable, key string) []string {
	v := tbl.RawGetString(key)
	listTbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	listTbl.ForEach(func(_, elem lua.LValue) {
		out = append(out, elem.String())
	})
	return out
}

func luaPathJoin(state *lua.LState) int {
	n := state.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, state.CheckString(i))
	}
	state.Push(lua.LString(filepath.Join(parts...)))
	return 1
}

func luaFSExists(fileDir string) lua.LGFunction {
	return func(state *lua.LState) int {
		relPath := state.CheckString(1)
		path := relPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(fileDir, relPath)
		}
		_, err := os.Stat(path)
		state.Push(lua.LBool(err == nil))
		return 1
	}
}

func (l *Loader) luaLogInfo(state *lua.LState) int {
	msg := state.CheckString(1)
	if l.Logger != nil {
		l.Logger.Info(msg)
	}
	return 0
}

func (l *Loader) luaLogDebug(state *lua.LState) int {
	msg := state.CheckString(1)
	if l.Logger != nil {
		l.Logger.Debug(msg)
	}
	return 0
}

func luaEnvGet(state *lua.LState) int {
	key := state.CheckString(1)
	state.Push(lua.LString(os.Getenv(key)))
	return 1
}

package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/textflow/internal/models"
)

// Runtime evaluates workflow definition scripts in a sandboxed environment.
//
// A script sets the optional globals name and description and defines a
// workflow() function that calls step(action, params?) once per step:
//
//	name = "digest"
//	function workflow()
//	  step("clean")
//	  step("summarize", { length = "short" })
//	end
type Runtime struct {
	actions []models.Action
	log     zerolog.Logger

	steps []models.Step
	logs  []string
}

// NewRuntime creates a runtime whose actions() function lists known.
func NewRuntime(known []models.Action, log zerolog.Logger) *Runtime {
	return &Runtime{
		actions: known,
		log:     log,
	}
}

// LoadFile evaluates the script at path. The workflow name defaults to the
// file name without extension.
func (r *Runtime) LoadFile(ctx context.Context, path string) (*models.Workflow, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	wf, err := r.Load(ctx, string(script))
	if err != nil {
		return nil, err
	}
	if wf.Name == "" {
		wf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return wf, nil
}

// Load evaluates a script and returns the workflow it describes. ctx bounds
// evaluation time.
func (r *Runtime) Load(ctx context.Context, script string) (*models.Workflow, error) {
	r.steps = nil
	r.logs = nil

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()
	L.SetContext(ctx)

	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}

	workflow := L.GetGlobal("workflow")
	if workflow.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script must define a 'workflow' function")
	}

	L.Push(workflow)
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, fmt.Errorf("workflow definition failed: %w", err)
	}

	r.log.Debug().Int("steps", len(r.steps)).Int("log_lines", len(r.logs)).Msg("workflow script evaluated")

	return &models.Workflow{
		Name:        optString(L, "name"),
		Description: optString(L, "description"),
		Steps:       r.steps,
	}, nil
}

// openSafeLibs opens the pure libraries and strips code loading from base.
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Definitions must be deterministic
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("step", L.NewFunction(r.luaStep))
	L.SetGlobal("actions", L.NewFunction(r.luaActions))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaStep implements step(action, params?) and returns the 1-based step
// number.
func (r *Runtime) luaStep(L *lua.LState) int {
	action := L.CheckString(1)
	params := L.OptTable(2, nil)

	s := models.Step{Action: models.Action(action)}
	if params != nil {
		if m, ok := luaToGo(params).(map[string]any); ok {
			s.Params = m
		} else {
			L.ArgError(2, "params must be a table with string keys")
			return 0
		}
	}
	r.steps = append(r.steps, s)

	L.Push(lua.LNumber(len(r.steps)))
	return 1
}

// luaActions implements actions() returning the known action names.
func (r *Runtime) luaActions(L *lua.LState) int {
	names := make([]any, len(r.actions))
	for i, a := range r.actions {
		names[i] = string(a)
	}
	L.Push(goToLua(L, names))
	return 1
}

// luaLog records log(message) for the loader to report.
func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.logs = append(r.logs, message)
	return 0
}

// Logs returns the messages logged by the last evaluated script.
func (r *Runtime) Logs() []string {
	return r.logs
}

func optString(L *lua.LState, global string) string {
	if s, ok := L.GetGlobal(global).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to plain Go values. Tables with keys 1..n
// become slices, other tables become maps keyed by the string form of each
// key.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			list := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				list = append(list, luaToGo(val.RawGetInt(i)))
			}
			return list
		}
		m := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = luaToGo(item)
		})
		return m
	default:
		return v.String()
	}
}

// IsScript reports whether path is a Lua workflow definition.
func IsScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}

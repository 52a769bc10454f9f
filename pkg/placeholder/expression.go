package placeholder

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/Shopify/go-lua"
)

const (
	ExpressionTemplate = "template"
	ExpressionLua      = "lua"
)

var (
	ErrUnknownExpressionLanguage = errors.New("unknown expression language")
	ErrLuaLoad                   = errors.New("lua load error")
	ErrLuaExecution              = errors.New("lua execution error")
)

// Evaluator decides a conditional directive. Implementations must not have
// side effects outside the evaluation.
type Evaluator interface {
	Evaluate(expr string, data map[string]any) (bool, error)
}

// NewEvaluator returns the sandbox for language ("" means template).
func NewEvaluator(language string) (Evaluator, error) {
	switch strings.ToLower(language) {
	case "", ExpressionTemplate:
		return NewTemplateEvaluator(), nil
	case ExpressionLua:
		return NewLuaEvaluator(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExpressionLanguage, language)
	}
}

// TemplateEvaluator evaluates text/template pipelines such as
// `eq .flow.role "admin"` using sprig's hermetic functions only.
type TemplateEvaluator struct {
	funcs template.FuncMap
}

// NewTemplateEvaluator creates a template sandbox.
func NewTemplateEvaluator() *TemplateEvaluator {
	return &TemplateEvaluator{funcs: sprig.HermeticTxtFuncMap()}
}

func (e *TemplateEvaluator) Evaluate(expr string, data map[string]any) (bool, error) {
	src := fmt.Sprintf("{{ if %s }}true{{ else }}false{{ end }}", expr)

	tmpl, err := template.New("condition").Funcs(e.funcs).Parse(src)
	if err != nil {
		return false, fmt.Errorf("parsing condition: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return false, fmt.Errorf("evaluating condition: %w", err)
	}
	return buf.String() == "true", nil
}

const (
	luaGlobalTableIndex = -2
	luaTableIndex       = -3
	luaGlobalTableName  = "_G"
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load", "collectgarbage",
}

// LuaEvaluator evaluates Lua expressions such as `flow.count > 2` with the
// scopes bound as globals and file, process and loader access removed.
type LuaEvaluator struct{}

// NewLuaEvaluator creates a Lua sandbox.
func NewLuaEvaluator() *LuaEvaluator {
	return &LuaEvaluator{}
}

func (e *LuaEvaluator) Evaluate(expr string, data map[string]any) (bool, error) {
	L := lua.NewState()
	setupLuaSandbox(L)

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		goToLua(L, data[name])
		L.SetGlobal(name)
	}

	if err := lua.LoadString(L, "return ("+expr+")"); err != nil {
		return false, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	if err := L.ProtectedCall(0, 1, 0); err != nil {
		return false, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	result := L.ToBoolean(-1)
	L.Pop(1)
	return result, nil
}

func setupLuaSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func goToLua(L *lua.State, value any) {
	switch v := plain(value).(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case uint64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		L.CreateTable(len(v), 0)
		for i, item := range v {
			L.PushInteger(i + 1)
			goToLua(L, item)
			L.SetTable(luaTableIndex)
		}
	case map[string]any:
		L.CreateTable(0, len(v))
		for k, item := range v {
			L.PushString(k)
			goToLua(L, item)
			L.SetTable(luaTableIndex)
		}
	case map[string]string:
		L.CreateTable(0, len(v))
		for k, item := range v {
			L.PushString(k)
			L.PushString(item)
			L.SetTable(luaTableIndex)
		}
	case nil:
		L.PushNil()
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// CodeScriptFailed marks a rule-system script that failed to compile or run.
const CodeScriptFailed = "CHALLENGE_SCRIPT_FAILED"

// ScriptTimeout bounds one classifier run.
const ScriptTimeout = 100 * time.Millisecond

// classifyFunc is the global a rule-system script defines.
const classifyFunc = "classify"

// scriptLibraries are the libraries a script may use. os, io, debug and
// package are never opened.
var scriptLibraries = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// CompileScript checks a rule-system script for syntax errors.
func CompileScript(script string) error {
	if _, err := parse.Parse(strings.NewReader(script), "rule_system"); err != nil {
		return oops.Code(CodeScriptFailed).With("operation", "compile").Wrap(err)
	}
	return nil
}

// DMAdjudicated reports whether the built-in tables cannot read this
// difficulty, leaving it to a script or the DM.
func (d Difficulty) DMAdjudicated() bool {
	return d.Kind == DifficultyOpposed || d.Kind == DifficultyCustom
}

// ClassifyScript runs the rule system's Lua classify(check) function. check
// carries roll, modifier, total, the difficulty and which optional outcomes
// the challenge defines. The function returns an outcome type name.
func ClassifyScript(ctx context.Context, script string, ch Challenge, roll, modifier int) (OutcomeType, error) {
	L, err := newScriptState()
	if err != nil {
		return "", err
	}
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, ScriptTimeout)
	defer cancel()
	L.SetContext(ctx)

	if err := L.DoString(script); err != nil {
		return "", oops.Code(CodeScriptFailed).With("operation", "load").Wrap(err)
	}
	fn, ok := L.GetGlobal(classifyFunc).(*lua.LFunction)
	if !ok {
		return "", oops.Code(CodeScriptFailed).Errorf("script does not define %s(check)", classifyFunc)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, checkTable(L, ch, roll, modifier)); err != nil {
		return "", oops.Code(CodeScriptFailed).
			With("operation", "call").
			With("challenge_id", ch.ID).
			Wrap(err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	t := OutcomeType(lua.LVAsString(ret))
	switch t {
	case CriticalSuccess, Success, Partial, Failure, CriticalFailure:
		return t, nil
	}
	return "", oops.Code(CodeScriptFailed).
		With("challenge_id", ch.ID).
		Errorf("classify returned %q, not an outcome type", ret.String())
}

func newScriptState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range scriptLibraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.Code(CodeScriptFailed).With("library", lib.name).Wrap(err)
		}
	}
	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}

func checkTable(L *lua.LState, ch Challenge, roll, modifier int) *lua.LTable {
	diff := L.NewTable()
	diff.RawSetString("kind", lua.LString(ch.Difficulty.Kind))
	diff.RawSetString("value", lua.LNumber(ch.Difficulty.Value))
	diff.RawSetString("descriptor", lua.LString(ch.Difficulty.Descriptor))
	diff.RawSetString("text", lua.LString(ch.Difficulty.Text))

	has := L.NewTable()
	has.RawSetString("partial", lua.LBool(ch.Outcomes.Partial != nil))
	has.RawSetString("critical_success", lua.LBool(ch.Outcomes.CriticalSuccess != nil))
	has.RawSetString("critical_failure", lua.LBool(ch.Outcomes.CriticalFailure != nil))

	check := L.NewTable()
	check.RawSetString("challenge", lua.LString(ch.ID))
	check.RawSetString("stat", lua.LString(ch.CheckStat))
	check.RawSetString("roll", lua.LNumber(roll))
	check.RawSetString("modifier", lua.LNumber(modifier))
	check.RawSetString("total", lua.LNumber(roll+modifier))
	check.RawSetString("difficulty", diff)
	check.RawSetString("outcomes", has)
	return check
}

// Package universe implements the Node/Universe Service, §4.3: the
// append-only DAG of scenario states and the fold of Run outcomes into
// node-level aggregates.
package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"

	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/simerrors"
)

// eventScriptBudget bounds how long a single EVENT_SCRIPT body may run before
// RunEventScript interrupts it, §4.3 EVENT_SCRIPT "runs under a step/time
// budget" so a misbehaving script cannot stall a tick.
const eventScriptBudget = 250 * time.Millisecond

// NLPatchTranslator turns a natural-language intervention into an equivalent
// VARIABLE_DELTA or EVENT_SCRIPT intervention, §4.3 NL_QUERY / §6. The core
// fork path depends only on this interface; no concrete implementation here
// imports an LLM SDK directly (SPEC_FULL §0.3).
type NLPatchTranslator interface {
	Translate(ctx context.Context, query string, parentEnv model.Environment) (model.Intervention, error)
}

// DeriveNodePatch produces the NodePatch to apply at fork time from the
// intervention alone; the parent's environment is not consulted, §4.3.
// NL_QUERY interventions must already have been translated by the caller
// (fork_node translates before committing, §4.3 "Failure semantics") — this
// function only ever sees VARIABLE_DELTA or EVENT_SCRIPT.
func DeriveNodePatch(intervention model.Intervention, edgeID model.ID) (model.NodePatch, error) {
	switch intervention.Type {
	case model.InterventionVariableDelta:
		return model.NodePatch{
			ID:      model.NewID(),
			EdgeID:  edgeID,
			Deltas:  intervention.VariableDeltas,
			Scripts: nil,
		}, nil
	case model.InterventionEventScript:
		return model.NodePatch{
			ID:      model.NewID(),
			EdgeID:  edgeID,
			Deltas:  nil,
			Scripts: intervention.EventScripts,
		}, nil
	default:
		return model.NodePatch{}, simerrors.New(simerrors.KindValidation, "",
			fmt.Sprintf("cannot derive a node patch from intervention type %q directly; NL_QUERY must be translated first", intervention.Type))
	}
}

// ApplyDeltas applies a set of VARIABLE_DELTA operations to env, path-addressed
// via JSONPath, element-wise in the order given, §4.3 VARIABLE_DELTA.
// Operations are additive, multiplicative, or a direct set, selected by
// delta.Operation. An add or mul delta whose path does not resolve in env is
// skipped — the environment may not yet contain optional keys a later tick
// introduces; a set delta on such a path creates the key.
func ApplyDeltas(env model.Environment, deltas []model.VariableDelta) (model.Environment, error) {
	out := env.Clone()
	for _, d := range deltas {
		cur, err := jsonpath.Get(d.Path, map[string]any(out))
		if err != nil {
			// Path doesn't resolve yet; a "set" still takes effect as a create.
			if d.Operation == model.DeltaOpSet {
				if err := setPath(out, d.Path, d.Value); err != nil {
					return nil, err
				}
			}
			continue
		}
		var next any
		switch d.Operation {
		case model.DeltaOpSet:
			next = d.Value
		case model.DeltaOpAdd:
			next = numeric(cur) + numeric(d.Value)
		case model.DeltaOpMul:
			next = numeric(cur) * numeric(d.Value)
		default:
			return nil, simerrors.New(simerrors.KindValidation, "", fmt.Sprintf("unknown delta operation %q", d.Operation))
		}
		if err := setPath(out, d.Path, next); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// setPath sets a top-level key in env. The Environment map is intentionally
// flat at its addressable roots (nested structures are themselves JSON
// values); JSONPath expressions used here are expected to be single-segment
// (e.g. "$.field_name"), matching the scenario patches the Node Service
// receives.
func setPath(env model.Environment, path string, value any) error {
	key, err := topLevelKey(path)
	if err != nil {
		return err
	}
	env[key] = value
	return nil
}

func topLevelKey(path string) (string, error) {
	p := path
	for len(p) > 0 && (p[0] == '$' || p[0] == '.') {
		p = p[1:]
	}
	if p == "" {
		return "", simerrors.New(simerrors.KindValidation, "", fmt.Sprintf("invalid variable delta path %q", path))
	}
	for i, c := range p {
		if c == '.' || c == '[' {
			return p[:i], nil
		}
	}
	return p, nil
}

// RunEventScript executes one EVENT_SCRIPT body against env inside a fresh,
// sandboxed goja VM: no filesystem, network, or host-process access is ever
// exposed to the script, §4.3 EVENT_SCRIPT.
func RunEventScript(script model.EventScriptRef, env model.Environment) (model.Environment, error) {
	vm := goja.New()
	out := env.Clone()

	timer := time.AfterFunc(eventScriptBudget, func() {
		vm.Interrupt(fmt.Sprintf("event script %q exceeded its %s execution budget", script.ScriptName, eventScriptBudget))
	})
	defer timer.Stop()

	if err := vm.Set("env", map[string]any(out)); err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}
	patched := map[string]any{}
	if err := vm.Set("__setResult", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			if m, ok := call.Arguments[0].Export().(map[string]any); ok {
				patched = m
			}
		}
		return goja.Undefined()
	}); err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}

	wrapped := "(function(env){ " + script.ScriptBody + "\n return env; })(env)"
	v, err := vm.RunString(wrapped)
	if err != nil {
		if _, interrupted := err.(*goja.InterruptedError); interrupted {
			return nil, simerrors.New(simerrors.KindValidation, "", fmt.Sprintf("event script %q interrupted: %v", script.ScriptName, err))
		}
		return nil, simerrors.New(simerrors.KindValidation, "", fmt.Sprintf("event script %q failed: %v", script.ScriptName, err))
	}
	if m, ok := v.Export().(map[string]any); ok {
		patched = m
	}
	if patched != nil {
		return model.Environment(patched), nil
	}
	return out, nil
}

// ApplyNodePatch applies patch's VARIABLE_DELTA operations, then its
// EVENT_SCRIPT bodies in order, to env — the full NodePatch.apply(env)→env'
// semantics, §3 NodePatch, §4.3.
func ApplyNodePatch(env model.Environment, patch model.NodePatch) (model.Environment, error) {
	out, err := ApplyDeltas(env, patch.Deltas)
	if err != nil {
		return nil, err
	}
	for _, script := range patch.Scripts {
		out, err = RunEventScript(script, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

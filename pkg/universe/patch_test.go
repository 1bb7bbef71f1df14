package universe

import (
	"testing"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

func TestRunEventScriptMutatesEnvironment(t *testing.T) {
	env := model.Environment{"policy_support": 0.5}
	script := model.EventScriptRef{
		ScriptName: "bump",
		ScriptBody: "env.policy_support = env.policy_support + 0.25; return env;",
	}

	out, err := RunEventScript(script, env)
	if err != nil {
		t.Fatalf("RunEventScript: %v", err)
	}
	if out["policy_support"].(float64) != 0.75 {
		t.Fatalf("policy_support = %v, want 0.75", out["policy_support"])
	}
	if env["policy_support"].(float64) != 0.5 {
		t.Fatalf("RunEventScript mutated its input environment")
	}
}

func TestRunEventScriptInterruptsRunawayLoop(t *testing.T) {
	script := model.EventScriptRef{
		ScriptName: "spin",
		ScriptBody: "while (true) {}",
	}

	_, err := RunEventScript(script, model.Environment{})
	if err == nil {
		t.Fatalf("expected a runaway event script to be interrupted, got nil error")
	}
}

func TestApplyNodePatchAppliesDeltasThenScripts(t *testing.T) {
	patch := model.NodePatch{
		Deltas: []model.VariableDelta{
			{Path: "$.policy_support", Operation: model.DeltaOpSet, Value: 0.4},
		},
		Scripts: []model.EventScriptRef{
			{ScriptName: "double", ScriptBody: "env.policy_support = env.policy_support * 2; return env;"},
		},
	}

	out, err := ApplyNodePatch(model.Environment{}, patch)
	if err != nil {
		t.Fatalf("ApplyNodePatch: %v", err)
	}
	if out["policy_support"].(float64) != 0.8 {
		t.Fatalf("policy_support = %v, want 0.8 (set then doubled)", out["policy_support"])
	}
}

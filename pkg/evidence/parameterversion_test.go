package evidence

import (
	"testing"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

type memParamStore struct {
	versions map[model.ID]model.ParameterVersion
}

func newMemParamStore() *memParamStore {
	return &memParamStore{versions: map[model.ID]model.ParameterVersion{}}
}

func (m *memParamStore) Save(v model.ParameterVersion) error {
	m.versions[v.ID] = v
	return nil
}

func (m *memParamStore) GetByID(id model.ID) (*model.ParameterVersion, error) {
	if v, ok := m.versions[id]; ok {
		return &v, nil
	}
	return nil, nil
}

func (m *memParamStore) GetActive(projectID model.ID) (*model.ParameterVersion, error) {
	var best *model.ParameterVersion
	for _, v := range m.versions {
		if v.ProjectID != projectID || v.Status != model.ParamActive {
			continue
		}
		vv := v
		if best == nil || vv.VersionNumber > best.VersionNumber {
			best = &vv
		}
	}
	return best, nil
}

func (m *memParamStore) LatestVersionNumber(projectID model.ID) (int64, error) {
	var max int64
	for _, v := range m.versions {
		if v.ProjectID != projectID {
			continue
		}
		if v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

func TestProposeThenApproveVersion(t *testing.T) {
	store := newMemParamStore()
	projectID := model.NewID()

	v1, err := ProposeVersion(store, projectID, map[string]float64{"alpha": 0.5})
	if err != nil {
		t.Fatalf("ProposeVersion: %v", err)
	}
	if v1.Status != model.ParamProposed {
		t.Fatalf("expected PROPOSED status, got %s", v1.Status)
	}
	if v1.VersionNumber != 1 {
		t.Fatalf("expected version number 1, got %d", v1.VersionNumber)
	}

	approved, err := ApproveVersion(store, v1.ID, "reviewer@example.com")
	if err != nil {
		t.Fatalf("ApproveVersion: %v", err)
	}
	if approved.Status != model.ParamActive {
		t.Fatalf("expected ACTIVE after approval, got %s", approved.Status)
	}
	if approved.ApprovedBy != "reviewer@example.com" {
		t.Fatalf("expected approved_by recorded")
	}
}

func TestApproveVersionRejectsNonProposed(t *testing.T) {
	store := newMemParamStore()
	projectID := model.NewID()
	v1, _ := ProposeVersion(store, projectID, map[string]float64{"alpha": 0.5})
	if _, err := ApproveVersion(store, v1.ID, "a"); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if _, err := ApproveVersion(store, v1.ID, "a"); err != ErrVersionNotProposed {
		t.Fatalf("expected ErrVersionNotProposed on double-approve, got %v", err)
	}
}

func TestRollbackVersionPreservesHistoryAndProposesFresh(t *testing.T) {
	store := newMemParamStore()
	projectID := model.NewID()

	v1, _ := ProposeVersion(store, projectID, map[string]float64{"alpha": 0.1})
	v1, _ = ApproveVersion(store, v1.ID, "a")

	v2, _ := ProposeVersion(store, projectID, map[string]float64{"alpha": 0.9})
	v2, _ = ApproveVersion(store, v2.ID, "a")

	rolledForward, err := RollbackVersion(store, projectID, v2.ID, v1.ID)
	if err != nil {
		t.Fatalf("RollbackVersion: %v", err)
	}
	if rolledForward.Status != model.ParamProposed {
		t.Fatalf("expected rollback to propose a fresh PROPOSED version, got %s", rolledForward.Status)
	}
	if rolledForward.Parameters["alpha"] != 0.1 {
		t.Fatalf("expected rolled-forward parameters to match target version, got %+v", rolledForward.Parameters)
	}

	v2After, _ := store.GetByID(v2.ID)
	if v2After.Status != model.ParamRolledBack {
		t.Fatalf("expected original active version marked ROLLED_BACK, got %s", v2After.Status)
	}
	if v2After.RolledBackToID == nil || *v2After.RolledBackToID != v1.ID {
		t.Fatalf("expected rolled_back_to_id to point at v1, got %+v", v2After.RolledBackToID)
	}
}

func TestChainForProjectOrdersOldestFirst(t *testing.T) {
	store := newMemParamStore()
	projectID := model.NewID()

	v1, _ := ProposeVersion(store, projectID, map[string]float64{"a": 1})
	v1, _ = ApproveVersion(store, v1.ID, "x")
	v2, _ := ProposeVersion(store, projectID, map[string]float64{"a": 2})

	chain, err := ChainForProject(store, v2)
	if err != nil {
		t.Fatalf("ChainForProject: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected chain of 2, got %d", len(chain))
	}
	if chain[0].ID != v1.ID || chain[1].ID != v2.ID {
		t.Fatalf("expected oldest-first ordering v1,v2; got %+v", chain)
	}
}

package evidence

import (
	"errors"
	"sort"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// Errors returned by the parameter version lifecycle, §4.6 "Parameter
// versioning".
var (
	ErrVersionNotProposed  = errors.New("evidence: version is not in PROPOSED status")
	ErrVersionNotActive    = errors.New("evidence: version is not ACTIVE")
	ErrNoPreviousVersion   = errors.New("evidence: no previous version to roll back to")
)

// ParameterStore persists the append-only chain of ParameterVersions, never
// overwriting a prior entry.
type ParameterStore interface {
	Save(v model.ParameterVersion) error
	GetActive(projectID model.ID) (*model.ParameterVersion, error)
	GetByID(id model.ID) (*model.ParameterVersion, error)
	LatestVersionNumber(projectID model.ID) (int64, error)
}

// ProposeVersion appends a new PROPOSED ParameterVersion chained off the
// project's current active version (if any). The version is never
// auto-activated: it requires a separate ApproveVersion call, so parameter
// changes are never applied silently.
func ProposeVersion(store ParameterStore, projectID model.ID, params map[string]float64) (model.ParameterVersion, error) {
	hash, err := ComputeHash(params)
	if err != nil {
		return model.ParameterVersion{}, err
	}
	nextNum, err := store.LatestVersionNumber(projectID)
	if err != nil {
		return model.ParameterVersion{}, err
	}
	nextNum++

	var prevID *model.ID
	if active, err := store.GetActive(projectID); err == nil && active != nil {
		id := active.ID
		prevID = &id
	}

	v := model.ParameterVersion{
		ID:                model.NewID(),
		ProjectID:         projectID,
		VersionNumber:     nextNum,
		VersionHash:       hash,
		Parameters:        params,
		Status:            model.ParamProposed,
		PreviousVersionID: prevID,
	}
	if err := store.Save(v); err != nil {
		return model.ParameterVersion{}, err
	}
	return v, nil
}

// ApproveVersion transitions a PROPOSED version to ACTIVE. It does not
// demote any prior ACTIVE version — callers that require a single active
// version per project enforce that via GetActive always returning the
// highest VersionNumber with status ACTIVE.
func ApproveVersion(store ParameterStore, versionID model.ID, approvedBy string) (model.ParameterVersion, error) {
	v, err := store.GetByID(versionID)
	if err != nil {
		return model.ParameterVersion{}, err
	}
	if v.Status != model.ParamProposed {
		return model.ParameterVersion{}, ErrVersionNotProposed
	}
	v.Status = model.ParamActive
	v.ApprovedBy = approvedBy
	if err := store.Save(*v); err != nil {
		return model.ParameterVersion{}, err
	}
	return *v, nil
}

// RollbackVersion marks the current version ROLLED_BACK and proposes a fresh
// version carrying the target's parameters forward, preserving history: the
// rolled-back version keeps RolledBackToID pointing at the restored version,
// and the restored parameters arrive as a new, separately-approvable
// version rather than resurrecting the old row in place.
func RollbackVersion(store ParameterStore, projectID model.ID, currentID, targetID model.ID) (model.ParameterVersion, error) {
	current, err := store.GetByID(currentID)
	if err != nil {
		return model.ParameterVersion{}, err
	}
	if current.Status != model.ParamActive {
		return model.ParameterVersion{}, ErrVersionNotActive
	}
	target, err := store.GetByID(targetID)
	if err != nil {
		return model.ParameterVersion{}, err
	}
	if target == nil {
		return model.ParameterVersion{}, ErrNoPreviousVersion
	}

	current.Status = model.ParamRolledBack
	current.RolledBackToID = &target.ID
	if err := store.Save(*current); err != nil {
		return model.ParameterVersion{}, err
	}

	return ProposeVersion(store, projectID, target.Parameters)
}

// ChainForProject returns every ParameterVersion reachable from head's
// PreviousVersionID links, oldest first, for audit display.
func ChainForProject(store ParameterStore, head model.ParameterVersion) ([]model.ParameterVersion, error) {
	chain := []model.ParameterVersion{head}
	cursor := head
	for cursor.PreviousVersionID != nil {
		prev, err := store.GetByID(*cursor.PreviousVersionID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			break
		}
		chain = append(chain, *prev)
		cursor = *prev
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].VersionNumber < chain[j].VersionNumber })
	return chain, nil
}

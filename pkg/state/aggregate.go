package state

// GroupAggregate is the mean/count summary of one scalar column over an
// index set (a region or a demographic group), §4.2.
type GroupAggregate struct {
	Mean  float64
	Count int
}

// aggregateColumn averages ScalarStates[:, col] over the given agent indices.
func (m *Manager) aggregateColumn(indices []int, col int) GroupAggregate {
	var sum float64
	var n int
	for _, i := range indices {
		if i < 0 || i >= len(m.ScalarStates) || col >= len(m.ScalarStates[i]) {
			continue
		}
		sum += m.ScalarStates[i][col]
		n++
	}
	if n == 0 {
		return GroupAggregate{}
	}
	return GroupAggregate{Mean: sum / float64(n), Count: n}
}

// ComputeRegionAggregates returns, for each registered region label, the mean
// of scalar column col across its member agents, §4.2.
func (m *Manager) ComputeRegionAggregates(col int) map[string]GroupAggregate {
	out := make(map[string]GroupAggregate, len(m.RegionIndex))
	for region, idxs := range m.RegionIndex {
		out[region] = m.aggregateColumn(idxs, col)
	}
	return out
}

// ComputeDemographicAggregates returns, for each registered demographic group
// label, the mean of scalar column col across its member agents, §4.2. Group
// labels follow the four-way grouping (age/income/education/occupation) from
// the census demographic service, SPEC_FULL §0.3.
func (m *Manager) ComputeDemographicAggregates(col int) map[string]GroupAggregate {
	out := make(map[string]GroupAggregate, len(m.DemographicIndex))
	for group, idxs := range m.DemographicIndex {
		out[group] = m.aggregateColumn(idxs, col)
	}
	return out
}

// ComputeGlobalAggregates returns the population-wide mean of scalar column
// col, §4.2.
func (m *Manager) ComputeGlobalAggregates(col int) GroupAggregate {
	all := make([]int, len(m.ScalarStates))
	for i := range all {
		all[i] = i
	}
	return m.aggregateColumn(all, col)
}

// Scalar column indices matching engine.ScalarState's field order.
const (
	ColEngagement = iota
	ColCertainty
	ColInfluenceSusceptibility
	ColInformationExposure
	ColCommitmentStrength
	ColNetworkCentrality
	ColEchoChamberScore
)

// DemographicGroup is one census-derived grouping axis, SPEC_FULL §0.3
// (grounded on services/census.py's four `_aggregate_*_groups` functions).
type DemographicGroup string

// The four grouping axes the original census service computes.
const (
	GroupAge        DemographicGroup = "age"
	GroupIncome     DemographicGroup = "income"
	GroupEducation  DemographicGroup = "education"
	GroupOccupation DemographicGroup = "occupation"
)

// IndexByDemographic appends each agent index in values to
// m.DemographicIndex under the key "<axis>:<bucket>". values maps an agent
// index to the caller's bucket name for that axis (e.g. "18-24" for age);
// existing entries are kept, not rebuilt. It mirrors the original's four `_aggregate_*_groups` bucketing
// functions without hard-coding their specific bucket boundaries, which are
// a census-schema concern external to this module.
func (m *Manager) IndexByDemographic(axis DemographicGroup, values map[int]string) {
	for i, bucket := range values {
		key := string(axis) + ":" + bucket
		m.DemographicIndex[key] = append(m.DemographicIndex[key], i)
	}
}

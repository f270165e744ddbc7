package types

// TaskCluster is a group of likely-duplicate tasks produced by one clustering run.
// Indices point into the task slice that was clustered; within one run an index
// appears in at most one cluster.
type TaskCluster struct {
	ClusterID int   `json:"cluster_id"`
	Indices   []int `json:"indices"`
}

// Size returns the number of member tasks
func (c TaskCluster) Size() int {
	return len(c.Indices)
}

// IsSingleton reports whether the cluster holds exactly one task
func (c TaskCluster) IsSingleton() bool {
	return len(c.Indices) == 1
}

package execution

import "github.com/nchat/core/internal/workflow"

// topologicalOrder computes the execution order of steps via Kahn's
// algorithm, generalized from internal/plan/sop_graph.go's
// getOrderedSteps (which merely sorts by a flat Order field) to
// actual dependsOn-graph resolution, with ties broken by original
// declaration order so the result is deterministic.
func topologicalOrder(steps []workflow.Step) ([]workflow.Step, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			di, ok := index[dep]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[di] = append(dependents[di], i)
		}
	}

	var ready []int
	for i := range steps {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]workflow.Step, 0, len(steps))
	for len(ready) > 0 {
		minPos := 0
		for j := 1; j < len(ready); j++ {
			if ready[j] < ready[minPos] {
				minPos = j
			}
		}
		idx := ready[minPos]
		ready = append(ready[:minPos], ready[minPos+1:]...)

		order = append(order, steps[idx])
		for _, dep := range dependents[idx] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

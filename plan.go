package unwind

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// plan is the execution graph for one saga run. Stages form a chain: every
// step in stage N is a dependency of every step in stage N+1, and steps
// within one stage are siblings that may run concurrently. The plan derives
// a deterministic topological order and the dependency levels the
// coordinator walks.
type plan struct {
	graph  *simple.DirectedGraph
	steps  map[int64]*Step
	order  []int64
	levels [][]int64
}

// newPlan builds and validates the execution graph for the given stages.
func newPlan(stages [][]*Step) (*plan, error) {
	p := &plan{
		graph: simple.NewDirectedGraph(),
		steps: make(map[int64]*Step),
	}

	var previous []graph.Node
	for _, stage := range stages {
		current := make([]graph.Node, 0, len(stage))
		for _, step := range stage {
			node := p.graph.NewNode()
			p.graph.AddNode(node)
			p.steps[node.ID()] = step
			current = append(current, node)
		}
		for _, from := range previous {
			for _, to := range current {
				p.graph.SetEdge(simple.Edge{F: from, T: to})
			}
		}
		previous = current
	}

	if err := p.computeOrder(); err != nil {
		return nil, err
	}
	if err := p.computeLevels(); err != nil {
		return nil, err
	}
	return p, nil
}

// computeOrder runs a stabilized topological sort so execution order is
// deterministic, with node ID as the tie-breaker.
func (p *plan) computeOrder() error {
	sorted, err := topo.SortStabilized(p.graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}

	p.order = make([]int64, len(sorted))
	for i, node := range sorted {
		p.order[i] = node.ID()
	}
	return nil
}

// computeLevels groups nodes into dependency levels: a node joins a level
// once everything it depends on is in an earlier level. Stage construction
// makes each level one stage, but the grouping is derived from the graph, not
// assumed.
func (p *plan) computeLevels() error {
	dependencies := make(map[int64]map[int64]bool, len(p.steps))
	for nodeID := range p.steps {
		dependencies[nodeID] = make(map[int64]bool)
	}

	nodes := p.graph.Nodes()
	for nodes.Next() {
		nodeID := nodes.Node().ID()
		predecessors := p.graph.To(nodeID)
		for predecessors.Next() {
			dependencies[nodeID][predecessors.Node().ID()] = true
		}
	}

	completed := make(map[int64]bool, len(dependencies))
	allNodes := make([]int64, 0, len(dependencies))
	for nodeID := range dependencies {
		allNodes = append(allNodes, nodeID)
	}
	sort.Slice(allNodes, func(i, j int) bool { return allNodes[i] < allNodes[j] })

	var levels [][]int64
	for len(completed) < len(allNodes) {
		var currentLevel []int64
		for _, nodeID := range allNodes {
			if completed[nodeID] {
				continue
			}
			ready := true
			for depID := range dependencies[nodeID] {
				if !completed[depID] {
					ready = false
					break
				}
			}
			if ready {
				currentLevel = append(currentLevel, nodeID)
			}
		}

		if len(currentLevel) == 0 {
			return fmt.Errorf("circular dependency detected or unable to make progress")
		}
		for _, nodeID := range currentLevel {
			completed[nodeID] = true
		}
		levels = append(levels, currentLevel)
	}

	p.levels = levels
	return nil
}

// step returns the step bound to a graph node.
func (p *plan) step(nodeID int64) *Step {
	return p.steps[nodeID]
}

// stepLevels resolves levels to steps in execution order.
func (p *plan) stepLevels() [][]*Step {
	levels := make([][]*Step, len(p.levels))
	for i, level := range p.levels {
		steps := make([]*Step, len(level))
		for j, nodeID := range level {
			steps[j] = p.steps[nodeID]
		}
		levels[i] = steps
	}
	return levels
}

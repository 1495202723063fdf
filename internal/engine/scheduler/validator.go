package scheduler

import (
	"fmt"

	"github.com/flowgrid-go/internal/domain/workflow"
)

// ValidationResult reports graph problems found before execution. Errors
// make the graph unschedulable; warnings do not.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate rejects graphs that must never be scheduled: cyclic graphs,
// dangling edges and unknown node types. Orphaned non-trigger nodes are
// flagged as warnings only. A failed validation guarantees zero node
// executions.
func (s *Scheduler) Validate(def *workflow.WorkflowDefinition) ValidationResult {
	result := ValidationResult{Valid: true}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	hasTrigger := false
	for _, node := range def.Nodes {
		if nodeIDs[node.ID] {
			result.fail(fmt.Sprintf("duplicate node id %q", node.ID))
		}
		nodeIDs[node.ID] = true
		if node.IsTrigger() {
			hasTrigger = true
		}

		if _, err := s.registry.Get(node.Type); err != nil {
			result.fail(fmt.Sprintf("node %q: unknown type %q", node.ID, node.Type))
		}
	}
	if !hasTrigger {
		result.fail(workflow.ErrNoTrigger.Error())
	}

	hasIncoming := make(map[string]bool)
	for _, edge := range def.Edges {
		if !nodeIDs[edge.Source] {
			result.fail(fmt.Sprintf("edge %q: %v: source %q", edge.ID, workflow.ErrDanglingEdge, edge.Source))
			continue
		}
		if !nodeIDs[edge.Target] {
			result.fail(fmt.Sprintf("edge %q: %v: target %q", edge.ID, workflow.ErrDanglingEdge, edge.Target))
			continue
		}
		hasIncoming[edge.Target] = true
	}

	if offender, cyclic := findCycle(def); cyclic {
		result.fail(fmt.Sprintf("%v: at node %q", workflow.ErrCyclicGraph, offender))
	}

	for _, node := range def.Nodes {
		if !node.IsTrigger() && !hasIncoming[node.ID] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("node %q (%s) has no incoming edges", node.ID, node.Type))
		}
	}

	return result
}

func (r *ValidationResult) fail(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

// findCycle runs an iterative DFS with explicit visited and on-stack sets,
// keeping validation reentrant under concurrent calls. Returns the first
// node found on a back edge.
func findCycle(def *workflow.WorkflowDefinition) (string, bool) {
	adjacency := make(map[string][]string)
	for _, edge := range def.Edges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	visited := make(map[string]bool, len(def.Nodes))
	onStack := make(map[string]bool, len(def.Nodes))

	type frame struct {
		node string
		next int
	}

	for _, start := range def.Nodes {
		if visited[start.ID] {
			continue
		}

		stack := []frame{{node: start.ID}}
		visited[start.ID] = true
		onStack[start.ID] = true

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := adjacency[top.node]

			if top.next >= len(neighbors) {
				onStack[top.node] = false
				stack = stack[:len(stack)-1]
				continue
			}

			neighbor := neighbors[top.next]
			top.next++

			if onStack[neighbor] {
				return neighbor, true
			}
			if !visited[neighbor] {
				visited[neighbor] = true
				onStack[neighbor] = true
				stack = append(stack, frame{node: neighbor})
			}
		}
	}

	return "", false
}

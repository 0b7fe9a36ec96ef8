package graph

import (
	"github.com/evigraph/backend/pkg/common"
)

// adjacency builds an undirected neighbor map over the graph's edges.
func adjacency(g *common.Graph) map[string][]string {
	neighbors := make(map[string][]string, len(g.Nodes))
	for _, node := range g.Nodes {
		neighbors[node.ID] = nil
	}
	for _, edge := range g.Edges {
		neighbors[edge.Source] = append(neighbors[edge.Source], edge.Target)
		neighbors[edge.Target] = append(neighbors[edge.Target], edge.Source)
	}
	return neighbors
}

// Stats computes the analytics snapshot of a graph: degree distribution,
// strength histogram, density, and connected components. Density is defined
// as 0 for graphs with at most one node.
func Stats(g *common.Graph) common.GraphStats {
	stats := common.GraphStats{
		NodeCount:         len(g.Nodes),
		EdgeCount:         len(g.Edges),
		StrengthHistogram: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}

	for _, edge := range g.Edges {
		if edge.Strength >= 1 && edge.Strength <= 5 {
			stats.StrengthHistogram[edge.Strength]++
		}
	}

	if len(g.Nodes) == 0 {
		return stats
	}

	neighbors := adjacency(g)

	stats.MinDegree = len(neighbors[g.Nodes[0].ID])
	totalDegree := 0
	for _, node := range g.Nodes {
		degree := len(neighbors[node.ID])
		totalDegree += degree
		if degree < stats.MinDegree {
			stats.MinDegree = degree
		}
		if degree > stats.MaxDegree {
			stats.MaxDegree = degree
		}
	}
	stats.AvgDegree = float64(totalDegree) / float64(len(g.Nodes))

	if len(g.Nodes) > 1 {
		possible := float64(len(g.Nodes)*(len(g.Nodes)-1)) / 2
		stats.Density = float64(len(g.Edges)) / possible
	}

	components := connectedComponents(g, neighbors)
	stats.ComponentCount = len(components)
	for _, component := range components {
		if len(component) > stats.LargestComponent {
			stats.LargestComponent = len(component)
		}
	}
	stats.LargestComponentRatio = float64(stats.LargestComponent) / float64(len(g.Nodes))

	return stats
}

// connectedComponents finds components with an explicit-stack traversal.
// Recursion is avoided so pathological graphs cannot blow the stack.
func connectedComponents(g *common.Graph, neighbors map[string][]string) [][]string {
	visited := make(map[string]bool, len(g.Nodes))
	var components [][]string

	for _, node := range g.Nodes {
		if visited[node.ID] {
			continue
		}

		var component []string
		stack := []string{node.ID}
		visited[node.ID] = true

		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, current)

			for _, neighbor := range neighbors[current] {
				if !visited[neighbor] {
					visited[neighbor] = true
					stack = append(stack, neighbor)
				}
			}
		}

		components = append(components, component)
	}

	return components
}

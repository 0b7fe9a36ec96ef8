package graph

import (
	"fmt"

	"github.com/evigraph/backend/pkg/common"
)

// AnalysisMode selects which analytics Analyze computes.
type AnalysisMode string

const (
	AnalyzeCentrality  AnalysisMode = "centrality"
	AnalyzeClustering  AnalysisMode = "clustering"
	AnalyzeCommunities AnalysisMode = "communities"
	AnalyzeFull        AnalysisMode = "full"
)

// Analysis holds the per-node and per-community analytics of one graph.
// Only the sections requested by the mode are populated.
type Analysis struct {
	DegreeCentrality map[string]float64 `json:"degree_centrality,omitempty"`
	Clustering       map[string]float64 `json:"clustering,omitempty"`
	Communities      [][]string         `json:"communities,omitempty"`
}

// Analyze computes graph analytics for the requested mode.
func Analyze(g *common.Graph, mode AnalysisMode) (*Analysis, error) {
	neighbors := adjacency(g)
	analysis := &Analysis{}

	switch mode {
	case AnalyzeCentrality:
		analysis.DegreeCentrality = degreeCentrality(g, neighbors)
	case AnalyzeClustering:
		analysis.Clustering = clusteringCoefficients(g, neighbors)
	case AnalyzeCommunities:
		analysis.Communities = connectedComponents(g, neighbors)
	case AnalyzeFull:
		analysis.DegreeCentrality = degreeCentrality(g, neighbors)
		analysis.Clustering = clusteringCoefficients(g, neighbors)
		analysis.Communities = connectedComponents(g, neighbors)
	default:
		return nil, fmt.Errorf("unknown analysis mode: %s", mode)
	}

	return analysis, nil
}

// degreeCentrality normalizes each node's degree by |V|-1. All values are 0
// for graphs with a single node.
func degreeCentrality(g *common.Graph, neighbors map[string][]string) map[string]float64 {
	centrality := make(map[string]float64, len(g.Nodes))
	if len(g.Nodes) <= 1 {
		for _, node := range g.Nodes {
			centrality[node.ID] = 0
		}
		return centrality
	}

	denom := float64(len(g.Nodes) - 1)
	for _, node := range g.Nodes {
		centrality[node.ID] = float64(len(neighbors[node.ID])) / denom
	}
	return centrality
}

// clusteringCoefficients computes the local clustering coefficient of each
// node: edges among its neighbors over possible edges. Nodes with fewer than
// 2 neighbors score exactly 0.
func clusteringCoefficients(g *common.Graph, neighbors map[string][]string) map[string]float64 {
	adjacencySet := make(map[string]map[string]bool, len(g.Nodes))
	for id, list := range neighbors {
		set := make(map[string]bool, len(list))
		for _, n := range list {
			set[n] = true
		}
		adjacencySet[id] = set
	}

	coefficients := make(map[string]float64, len(g.Nodes))
	for _, node := range g.Nodes {
		list := neighbors[node.ID]
		if len(list) < 2 {
			coefficients[node.ID] = 0
			continue
		}

		links := 0
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				if adjacencySet[list[i]][list[j]] {
					links++
				}
			}
		}

		possible := len(list) * (len(list) - 1) / 2
		coefficients[node.ID] = float64(links) / float64(possible)
	}
	return coefficients
}

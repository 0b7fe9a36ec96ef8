package graph

import (
	"time"

	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	baseNodeSize    = 10
	nodeSizePerEdge = 5
)

// Build rebuilds the knowledge graph wholesale from a user's aggregate
// relation set. One node per distinct subject (drug) and per distinct
// outcome (health issue), one edge per (subject, outcome) pair. Node size
// grows with the number of relations incident to the entity.
func Build(userID, sessionID string, relations []*common.AggregateRelation) *common.Graph {
	id, err := gonanoid.New()
	if err != nil {
		logger.Error("[Graph] Failed to generate graph id", "error", err)
		id = "graph-" + userID
	}

	graph := &common.Graph{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Nodes:     []common.Node{},
		Edges:     []common.Edge{},
		CreatedAt: time.Now(),
	}

	nodeIndex := map[string]int{}
	incident := map[string]int{}

	addNode := func(nodeID, label string, nodeType common.NodeType) {
		if _, ok := nodeIndex[nodeID]; ok {
			return
		}
		nodeIndex[nodeID] = len(graph.Nodes)
		graph.Nodes = append(graph.Nodes, common.Node{
			ID:    nodeID,
			Label: label,
			Type:  nodeType,
		})
	}

	for _, rel := range relations {
		sourceID := "drug:" + common.NormalizeTerm(rel.Subject)
		targetID := "issue:" + common.NormalizeTerm(rel.Outcome)

		addNode(sourceID, rel.Subject, common.NodeDrug)
		addNode(targetID, rel.Outcome, common.NodeHealthIssue)
		incident[sourceID]++
		incident[targetID]++

		graph.Edges = append(graph.Edges, common.Edge{
			Source:       sourceID,
			Target:       targetID,
			Strength:     rel.Strength,
			PaperCount:   rel.TotalPapers,
			Relationship: rel.DominantRelationship(),
		})
	}

	for i := range graph.Nodes {
		graph.Nodes[i].Size = baseNodeSize + nodeSizePerEdge*incident[graph.Nodes[i].ID]
	}

	graph.Stats = Stats(graph)

	logger.Debug("[Graph] Graph built", "user", userID, "nodes", len(graph.Nodes), "edges", len(graph.Edges))
	return graph
}

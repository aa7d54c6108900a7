package algo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphos/pkg/storage"
)

func newEngine(t *testing.T) *storage.MemoryEngine {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	return engine
}

func addNode(t *testing.T, engine *storage.MemoryEngine, id storage.NodeID) {
	t.Helper()
	require.NoError(t, engine.InsertNode(storage.NewNode(nil, storage.WithNodeID(id)), storage.ConflictError))
}

func addEdge(t *testing.T, engine *storage.MemoryEngine, id storage.EdgeID, source, target storage.NodeID, key string, weight float64) {
	t.Helper()
	require.NoError(t, engine.InsertEdge(storage.NewEdge(source, target, nil,
		storage.WithEdgeID(id), storage.WithEdgeKey(key), storage.WithWeight(weight)), storage.ConflictError))
}

// weightedGraph builds the reference weighted graph:
//
//	1 -> 2 (w=1), 2 -> 3 (w=2), 3 -> 5 (w=3), 1 -> 5 (w=10), 3 -> 4 (w=4)
//
// all carrying the "connection" key.
func weightedGraph(t *testing.T) *storage.MemoryEngine {
	t.Helper()
	engine := newEngine(t)
	for _, id := range []storage.NodeID{"1", "2", "3", "4", "5"} {
		addNode(t, engine, id)
	}
	addEdge(t, engine, "c12", "1", "2", "connection", 1)
	addEdge(t, engine, "c23", "2", "3", "connection", 2)
	addEdge(t, engine, "c35", "3", "5", "connection", 3)
	addEdge(t, engine, "c15", "1", "5", "connection", 10)
	addEdge(t, engine, "c34", "3", "4", "connection", 4)
	return engine
}

func nodeIDs(nodes []*storage.Node) []storage.NodeID {
	ids := make([]storage.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestBFS_DiscoveryOrderAndDepth(t *testing.T) {
	engine := weightedGraph(t)

	visited, err := BFS(context.Background(), engine, "1", 1, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"1", "2", "5"}, nodeIDs(visited))

	visited, err = BFS(context.Background(), engine, "1", 10, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"1", "2", "5", "3", "4"}, nodeIDs(visited))

	// Depth zero is just the start node.
	visited, err = BFS(context.Background(), engine, "1", 0, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"1"}, nodeIDs(visited))
}

func TestBFS_UnknownStart(t *testing.T) {
	engine := newEngine(t)
	_, err := BFS(context.Background(), engine, "ghost", 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestBFS_WeightedNeighborOrdering(t *testing.T) {
	engine := newEngine(t)
	for _, id := range []storage.NodeID{"s", "a", "b", "c"} {
		addNode(t, engine, id)
	}
	addEdge(t, engine, "e1", "s", "a", "", 5)
	addEdge(t, engine, "e2", "s", "b", "", 1)
	addEdge(t, engine, "e3", "s", "c", "", 3)

	opts := DefaultOptions()
	opts.Weighted = true
	visited, err := BFS(context.Background(), engine, "s", 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"s", "b", "c", "a"}, nodeIDs(visited))

	opts.PreferHigherWeights = true
	visited, err = BFS(context.Background(), engine, "s", 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"s", "a", "c", "b"}, nodeIDs(visited))
}

func TestBFS_DirectionIncoming(t *testing.T) {
	engine := weightedGraph(t)
	opts := DefaultOptions()
	opts.Direction = DirectionIncoming

	visited, err := BFS(context.Background(), engine, "5", 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"5", "1", "3"}, nodeIDs(visited))
}

func TestShortestPath_ReferenceGraph(t *testing.T) {
	engine := weightedGraph(t)

	result, err := ShortestPath(context.Background(), engine, "1", "5", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"1", "2", "3", "5"}, nodeIDs(result.Path))
	assert.Equal(t, 6.0, result.Distance)

	// A cheap direct edge (no key) changes the answer...
	addEdge(t, engine, "d15", "1", "5", "", 0.5)
	result, err = ShortestPath(context.Background(), engine, "1", "5", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"1", "5"}, nodeIDs(result.Path))
	assert.Equal(t, 0.5, result.Distance)

	// ...unless traversal is restricted to "connection" edges.
	opts := DefaultOptions()
	opts.EdgeKey = "connection"
	result, err = ShortestPath(context.Background(), engine, "1", "5", opts)
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{"1", "2", "3", "5"}, nodeIDs(result.Path))
	assert.Equal(t, 6.0, result.Distance)
}

func TestShortestPath_DistanceMatchesPathWeights(t *testing.T) {
	engine := weightedGraph(t)

	result, err := ShortestPath(context.Background(), engine, "1", "4", DefaultOptions())
	require.NoError(t, err)

	total := 0.0
	for i := 0; i+1 < len(result.Path); i++ {
		edges, err := engine.IterateEdges(storage.EdgeFilter{
			Source: result.Path[i].ID,
			Target: result.Path[i+1].ID,
		})
		require.NoError(t, err)
		require.NotEmpty(t, edges)
		total += EdgeWeight(edges[0], DefaultOptions())
	}
	assert.Equal(t, total, result.Distance)
}

func TestShortestPath_NoPath(t *testing.T) {
	engine := weightedGraph(t)
	addNode(t, engine, "6")

	_, err := ShortestPath(context.Background(), engine, "1", "6", DefaultOptions())
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestShortestPath_NegativeWeight(t *testing.T) {
	engine := newEngine(t)
	addNode(t, engine, "a")
	addNode(t, engine, "b")
	addEdge(t, engine, "e1", "a", "b", "", -2)

	_, err := ShortestPath(context.Background(), engine, "a", "b", DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestShortestPath_WeightFromDataProperty(t *testing.T) {
	engine := newEngine(t)
	addNode(t, engine, "a")
	addNode(t, engine, "b")
	require.NoError(t, engine.InsertEdge(storage.NewEdge("a", "b",
		map[string]any{"cost": 7}, storage.WithEdgeID("e1")), storage.ConflictError))

	opts := DefaultOptions()
	opts.WeightProperty = "cost"
	result, err := ShortestPath(context.Background(), engine, "a", "b", opts)
	require.NoError(t, err)
	assert.Equal(t, 7.0, result.Distance)

	// Unset weight and non-numeric property fall back to the default.
	opts.WeightProperty = "missing"
	opts.DefaultWeight = 2.5
	result, err = ShortestPath(context.Background(), engine, "a", "b", opts)
	require.NoError(t, err)
	assert.Equal(t, 2.5, result.Distance)
}

func TestConnectedComponents_PartitionsVertexSet(t *testing.T) {
	engine := weightedGraph(t)
	addNode(t, engine, "6")

	components, err := ConnectedComponents(context.Background(), engine, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, components, 2)

	seen := make(map[storage.NodeID]int)
	for _, component := range components {
		for _, node := range component {
			seen[node.ID]++
		}
	}
	// Exact partition: every node exactly once.
	assert.Len(t, seen, 6)
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s", id)
	}

	// Ordering reflects discovery order of each component's first node.
	assert.Equal(t, storage.NodeID("1"), components[0][0].ID)
	assert.Equal(t, storage.NodeID("6"), components[1][0].ID)
}

func TestConnectedComponents_IgnoresDirectionOption(t *testing.T) {
	engine := newEngine(t)
	addNode(t, engine, "a")
	addNode(t, engine, "b")
	addEdge(t, engine, "e1", "a", "b", "", 1)

	opts := DefaultOptions()
	opts.Direction = DirectionOutgoing // forced to both regardless
	components, err := ConnectedComponents(context.Background(), engine, opts)
	require.NoError(t, err)
	assert.Len(t, components, 1)
}

func TestMinimumSpanningTree(t *testing.T) {
	engine := newEngine(t)
	for _, id := range []storage.NodeID{"a", "b", "c", "d"} {
		addNode(t, engine, id)
	}
	addEdge(t, engine, "ab", "a", "b", "", 1)
	addEdge(t, engine, "bc", "b", "c", "", 2)
	addEdge(t, engine, "ac", "a", "c", "", 3)
	addEdge(t, engine, "cd", "c", "d", "", 4)

	result, err := MinimumSpanningTree(context.Background(), engine, DefaultOptions())
	require.NoError(t, err)

	// A tree: |V|-1 edges, minimum total weight 1+2+4.
	require.Len(t, result.Edges, 3)
	assert.Equal(t, 7.0, result.TotalWeight)

	ids := make([]storage.EdgeID, len(result.Edges))
	for i, e := range result.Edges {
		ids[i] = e.ID
	}
	assert.Equal(t, []storage.EdgeID{"ab", "bc", "cd"}, ids)
}

func TestMinimumSpanningTree_ForestPerComponent(t *testing.T) {
	engine := weightedGraph(t)
	addNode(t, engine, "6") // isolated

	result, err := MinimumSpanningTree(context.Background(), engine, DefaultOptions())
	require.NoError(t, err)

	// Main component has 5 vertices -> 4 edges; the isolate adds none.
	assert.Len(t, result.Edges, 4)
}

func TestPageRank_Basics(t *testing.T) {
	engine := newEngine(t)
	for _, id := range []storage.NodeID{"a", "b", "c"} {
		addNode(t, engine, id)
	}
	addEdge(t, engine, "ab", "a", "b", "", 1)
	addEdge(t, engine, "cb", "c", "b", "", 1)

	ranks, err := PageRank(context.Background(), engine, DefaultPageRankOptions())
	require.NoError(t, err)
	require.Len(t, ranks, 3)

	// The node everything points at ranks highest; mass is conserved.
	assert.Greater(t, ranks["b"], ranks["a"])
	assert.Greater(t, ranks["b"], ranks["c"])

	sum := 0.0
	for _, r := range ranks {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPageRank_EmptyGraph(t *testing.T) {
	engine := newEngine(t)
	ranks, err := PageRank(context.Background(), engine, DefaultPageRankOptions())
	require.NoError(t, err)
	assert.Empty(t, ranks)
}

func TestPageRank_WeightedMode(t *testing.T) {
	engine := newEngine(t)
	for _, id := range []storage.NodeID{"hub", "heavy", "light"} {
		addNode(t, engine, id)
	}
	addEdge(t, engine, "h1", "hub", "heavy", "", 10)
	addEdge(t, engine, "h2", "hub", "light", "", 1)

	opts := DefaultPageRankOptions()
	opts.Weighted = true
	ranks, err := PageRank(context.Background(), engine, opts)
	require.NoError(t, err)

	assert.Greater(t, ranks["heavy"], ranks["light"])

	sum := 0.0
	for _, r := range ranks {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPageRank_Deterministic(t *testing.T) {
	engine := weightedGraph(t)

	first, err := PageRank(context.Background(), engine, DefaultPageRankOptions())
	require.NoError(t, err)
	second, err := PageRank(context.Background(), engine, DefaultPageRankOptions())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAlgorithms_Cancellation(t *testing.T) {
	engine := weightedGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BFS(ctx, engine, "1", 3, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = ShortestPath(ctx, engine, "1", "5", DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = ConnectedComponents(ctx, engine, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = PageRank(ctx, engine, DefaultPageRankOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

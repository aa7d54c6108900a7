package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphos/pkg/storage"
)

func newController(t *testing.T) (*Controller, *storage.MemoryEngine) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })

	ctrl := NewController(engine, "g1")
	require.NoError(t, ctrl.Bootstrap(context.Background()))
	return ctrl, engine
}

func TestBootstrap_PlantsProtectedRoot(t *testing.T) {
	_, engine := newController(t)

	root, err := engine.GetNode(RootID)
	require.NoError(t, err)
	assert.Equal(t, KeyRoot, root.Key)
	assert.True(t, root.Protected)
}

func TestBootstrap_Idempotent(t *testing.T) {
	ctrl, engine := newController(t)
	require.NoError(t, ctrl.Bootstrap(context.Background()))

	count, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDefineActor_CreatesActorAndDefinitionEdge(t *testing.T) {
	ctrl, engine := newController(t)

	actor, err := ctrl.DefineActor(context.Background(), "user:alice", map[string]any{"display": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, KeyActor, actor.Key)
	assert.True(t, actor.Protected)

	defs, err := engine.IterateEdges(storage.EdgeFilter{Source: "user:alice", Key: KeyActorDef})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, storage.NodeID(RootID), defs[0].Target)
}

func TestDefineScope_RequiresBootstrap(t *testing.T) {
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	ctrl := NewController(engine, "g1")

	_, err := ctrl.DefineScope(context.Background(), "filesystem:*", nil)
	assert.ErrorIs(t, err, ErrNotBootstrapped)
}

func TestGrantPermission_AndCan(t *testing.T) {
	ctrl, _ := newController(t)
	ctx := context.Background()

	_, err := ctrl.DefineActor(ctx, "user:alice", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineScope(ctx, "filesystem:*", nil)
	require.NoError(t, err)

	perm, err := ctrl.GrantPermission(ctx, "user:alice", "filesystem:*", []Operation{OpRead, OpWrite})
	require.NoError(t, err)
	assert.Equal(t, KeyPermission, perm.Key)

	// Wildcard scope matches by prefix.
	assert.True(t, ctrl.Can("user:alice", "filesystem:/tmp/x", OpRead))
	assert.True(t, ctrl.Can("user:alice", "filesystem:/etc/passwd", OpWrite))

	// Unmatched scope and ungranted operation are denied.
	assert.False(t, ctrl.Can("user:alice", "network:http", OpRead))
	assert.False(t, ctrl.Can("user:alice", "filesystem:/tmp/x", OpAdmin))

	// Unknown actor holds nothing.
	assert.False(t, ctrl.Can("user:mallory", "filesystem:/tmp/x", OpRead))
}

func TestGrantPermission_InvalidOperations(t *testing.T) {
	ctrl, _ := newController(t)
	ctx := context.Background()

	_, err := ctrl.DefineActor(ctx, "user:alice", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineScope(ctx, "db:*", nil)
	require.NoError(t, err)

	_, err = ctrl.GrantPermission(ctx, "user:alice", "db:*", []Operation{OpRead, "fly"})
	var invalid *InvalidOperationsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"fly"}, invalid.Set)

	// Nothing was granted.
	assert.False(t, ctrl.Can("user:alice", "db:main", OpRead))
}

func TestRevokePermission(t *testing.T) {
	ctrl, _ := newController(t)
	ctx := context.Background()

	_, err := ctrl.DefineActor(ctx, "user:alice", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineScope(ctx, "db:*", nil)
	require.NoError(t, err)
	_, err = ctrl.GrantPermission(ctx, "user:alice", "db:*", []Operation{OpRead})
	require.NoError(t, err)

	require.True(t, ctrl.Can("user:alice", "db:main", OpRead))
	require.NoError(t, ctrl.RevokePermission(ctx, "user:alice", "db:*"))
	assert.False(t, ctrl.Can("user:alice", "db:main", OpRead))

	assert.ErrorIs(t, ctrl.RevokePermission(ctx, "user:alice", "db:*"), storage.ErrNotFound)
}

func TestScopeMatches(t *testing.T) {
	cases := []struct {
		pattern string
		scope   string
		want    bool
	}{
		{"filesystem:/tmp/x", "filesystem:/tmp/x", true},
		{"filesystem:/tmp/x", "filesystem:/tmp/y", false},
		{"filesystem:*", "filesystem:/tmp/x", true},
		{"filesystem:*", "filesystem:", true},
		{"filesystem:*", "network:http", false},
		{"*", "anything at all", true},
		{"graph:g1", "graph:g1", true},
		{"graph:*", "graph:g2", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ScopeMatches(tc.pattern, tc.scope),
			"pattern=%q scope=%q", tc.pattern, tc.scope)
	}
}

func TestListActorsScopesPermissions(t *testing.T) {
	ctrl, _ := newController(t)
	ctx := context.Background()

	_, err := ctrl.DefineActor(ctx, "user:bob", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineActor(ctx, "user:alice", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineScope(ctx, "db:*", nil)
	require.NoError(t, err)
	_, err = ctrl.GrantPermission(ctx, "user:alice", "db:*", []Operation{OpRead})
	require.NoError(t, err)

	actors, err := ctrl.ListActors()
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, storage.NodeID("user:alice"), actors[0].ID, "id-sorted")

	scopes, err := ctrl.ListScopes()
	require.NoError(t, err)
	assert.Len(t, scopes, 1)

	perms, err := ctrl.ListPermissions("user:alice")
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

// setupAuthorized builds a controller with alice holding {read, write} on
// everything and root-admin holding {read, write, execute, admin} on "*".
func setupAuthorized(t *testing.T) (*Controller, *storage.MemoryEngine) {
	t.Helper()
	ctrl, engine := newController(t)
	ctx := context.Background()

	_, err := ctrl.DefineActor(ctx, "user:alice", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineActor(ctx, "user:root", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineScope(ctx, "*", nil)
	require.NoError(t, err)
	_, err = ctrl.GrantPermission(ctx, "user:alice", "*", []Operation{OpRead, OpWrite})
	require.NoError(t, err)
	_, err = ctrl.GrantPermission(ctx, "user:root", "*", []Operation{OpRead, OpWrite, OpExecute, OpAdmin})
	require.NoError(t, err)
	return ctrl, engine
}

func execAs(t *testing.T, ctrl *Controller, engine *storage.MemoryEngine, actor string, build func(tx *storage.Transaction)) error {
	t.Helper()
	tx := engine.BeginTransaction()
	tx.SetAuthorizer(ctrl.Authorizer(Context{ActorID: actor, GraphID: "g1"}))
	build(tx)
	_, err := tx.Commit(context.Background())
	return err
}

func TestAuthorize_CreateNodeNeedsGraphWrite(t *testing.T) {
	ctrl, engine := setupAuthorized(t)

	err := execAs(t, ctrl, engine, "user:alice", func(tx *storage.Transaction) {
		require.NoError(t, tx.CreateNode(storage.NewNode(nil, storage.WithNodeID("doc:1"))))
	})
	assert.NoError(t, err)

	// An actor with no grants at all is denied.
	err = execAs(t, ctrl, engine, "user:mallory", func(tx *storage.Transaction) {
		require.NoError(t, tx.CreateNode(storage.NewNode(nil, storage.WithNodeID("doc:2"))))
	})
	var unauthorized *storage.UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)

	_, getErr := engine.GetNode("doc:2")
	assert.ErrorIs(t, getErr, storage.ErrNotFound)
}

func TestAuthorize_CreateEdgeNeedsSourceWriteAndTargetRead(t *testing.T) {
	ctrl, engine := setupAuthorized(t)
	ctx := context.Background()

	err := execAs(t, ctrl, engine, "user:alice", func(tx *storage.Transaction) {
		require.NoError(t, tx.CreateNode(storage.NewNode(nil, storage.WithNodeID("a"))))
		require.NoError(t, tx.CreateNode(storage.NewNode(nil, storage.WithNodeID("b"))))
		require.NoError(t, tx.CreateEdge(storage.NewEdge("a", "b", nil, storage.WithEdgeID("ab"))))
	})
	require.NoError(t, err)

	// A read-only actor cannot write the source.
	_, err = ctrl.DefineActor(ctx, "user:reader", nil)
	require.NoError(t, err)
	_, err = ctrl.GrantPermission(ctx, "user:reader", "*", []Operation{OpRead})
	require.NoError(t, err)

	err = execAs(t, ctrl, engine, "user:reader", func(tx *storage.Transaction) {
		require.NoError(t, tx.CreateEdge(storage.NewEdge("a", "b", nil, storage.WithEdgeID("ab2"))))
	})
	var unauthorized *storage.UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestAuthorize_ProtectedEntityNeedsAdmin(t *testing.T) {
	ctrl, engine := setupAuthorized(t)

	rootBefore, err := engine.GetNode(RootID)
	require.NoError(t, err)

	// Alice holds write on "*" but not admin: mutating the protected root
	// must fail and leave its version unchanged.
	err = execAs(t, ctrl, engine, "user:alice", func(tx *storage.Transaction) {
		require.NoError(t, tx.UpdateNode(RootID, map[string]any{"hijacked": true}))
	})
	var unauthorized *storage.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)

	rootAfter, err := engine.GetNode(RootID)
	require.NoError(t, err)
	assert.Equal(t, rootBefore.Meta.Version, rootAfter.Meta.Version)
	assert.NotContains(t, rootAfter.Data, "hijacked")

	// The admin may.
	err = execAs(t, ctrl, engine, "user:root", func(tx *storage.Transaction) {
		require.NoError(t, tx.UpdateNode(RootID, map[string]any{"note": "maintained"}))
	})
	assert.NoError(t, err)
}

func TestAuthorize_MissingContext(t *testing.T) {
	ctrl, engine := setupAuthorized(t)

	tx := engine.BeginTransaction()
	tx.SetAuthorizer(ctrl.Authorizer(Context{ActorID: "user:alice"})) // no graph
	require.NoError(t, tx.CreateNode(storage.NewNode(nil, storage.WithNodeID("x"))))

	_, err := tx.Commit(context.Background())
	assert.ErrorIs(t, err, ErrMissingActorOrGraph)
}

func TestAuthorize_NoopAllowed(t *testing.T) {
	ctrl, engine := setupAuthorized(t)

	err := execAs(t, ctrl, engine, "user:mallory", func(tx *storage.Transaction) {
		require.NoError(t, tx.Noop())
	})
	assert.NoError(t, err)
}

func TestFilterResults(t *testing.T) {
	ctrl, engine := newController(t)
	ctx := context.Background()

	_, err := ctrl.DefineActor(ctx, "user:alice", nil)
	require.NoError(t, err)
	_, err = ctrl.DefineScope(ctx, "doc:*", nil)
	require.NoError(t, err)
	_, err = ctrl.GrantPermission(ctx, "user:alice", "doc:*", []Operation{OpRead})
	require.NoError(t, err)

	require.NoError(t, engine.InsertNode(storage.NewNode(nil, storage.WithNodeID("doc:readable")), storage.ConflictError))
	require.NoError(t, engine.InsertNode(storage.NewNode(nil, storage.WithNodeID("secret:hidden")), storage.ConflictError))

	readable, _ := engine.GetNode("doc:readable")
	hidden, _ := engine.GetNode("secret:hidden")

	results := []any{hidden, readable, "opaque"}
	kept := ctrl.FilterResults(results, Context{ActorID: "user:alice", GraphID: "g1"})

	// Unreadable entities drop; order of survivors is preserved and
	// non-entity elements pass through.
	require.Len(t, kept, 2)
	assert.Equal(t, readable, kept[0])
	assert.Equal(t, "opaque", kept[1])

	// Incomplete context keeps only pass-through elements.
	kept = ctrl.FilterResults(results, Context{})
	require.Len(t, kept, 1)
	assert.Equal(t, "opaque", kept[0])
}

func TestAuthorizationAgreesWithExecution(t *testing.T) {
	// For any operation: deny means no mutation, allow means it proceeds -
	// both evaluated against the same snapshot.
	ctrl, engine := setupAuthorized(t)
	ctx := context.Background()

	_, err := ctrl.DefineActor(ctx, "user:mallory", nil)
	require.NoError(t, err)

	before, err := engine.NodeCount()
	require.NoError(t, err)

	err = execAs(t, ctrl, engine, "user:mallory", func(tx *storage.Transaction) {
		require.NoError(t, tx.CreateNode(storage.NewNode(nil, storage.WithNodeID("m1"))))
	})
	require.Error(t, err)

	after, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	err = execAs(t, ctrl, engine, "user:alice", func(tx *storage.Transaction) {
		require.NoError(t, tx.CreateNode(storage.NewNode(nil, storage.WithNodeID("a1"))))
	})
	require.NoError(t, err)

	final, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, after+1, final)
}

package authorization_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	fileadapter "github.com/casbin/casbin/v3/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v3/persist/string-adapter"
	"github.com/stretchr/testify/require"

	"maru/authorization"
	"maru/authorization/casbin"
	"maru/session"
)

func TestClient_CheckAccess(t *testing.T) {
	ctx := context.Background()

	adapter := stringadapter.NewAdapter(`p, system:authenticated, maru, *, like
p, role:administrator, maru, *, moderate
g, alice, system:authenticated
g, root, role:administrator
`)

	casbinProvider, err := casbin.NewAuthorizationProvider(adapter)
	require.NoError(t, err)

	authzSvc, err := authorization.NewService(casbinProvider)
	require.NoError(t, err)

	client := authorization.NewClient(authzSvc, "maru")

	t.Run("allowed access", func(t *testing.T) {
		err = client.CheckAccess(ctx, "alice", "comments", "like")
		require.NoError(t, err)
	})

	t.Run("denied access", func(t *testing.T) {
		err = client.CheckAccess(ctx, "alice", "comments", "moderate")
		require.Error(t, err)

		accessDeniedErr := &authorization.AccessDeniedError{}
		require.ErrorAs(t, err, &accessDeniedErr)
	})

	t.Run("administrator", func(t *testing.T) {
		err = client.CheckAccess(ctx, "root", "comments", "moderate")
		require.NoError(t, err)
	})

	t.Run("another user", func(t *testing.T) {
		err = client.CheckAccess(ctx, "bob", "comments", "like")
		require.Error(t, err)

		accessDeniedErr := &authorization.AccessDeniedError{}
		require.ErrorAs(t, err, &accessDeniedErr)
	})

	t.Run("anonymous access", func(t *testing.T) {
		err = client.CheckAccess(ctx, session.Anonymous, "comments", "like")
		require.Error(t, err)

		accessDeniedErr := &authorization.AccessDeniedError{}
		require.ErrorAs(t, err, &accessDeniedErr)
	})
}

func TestClient_Can(t *testing.T) {
	ctx := context.Background()

	adapter := stringadapter.NewAdapter(`p, system:authenticated, maru, *, like
p, role:administrator, maru, *, moderate
g, alice, system:authenticated
`)

	casbinProvider, err := casbin.NewAuthorizationProvider(adapter)
	require.NoError(t, err)

	authzSvc, err := authorization.NewService(casbinProvider)
	require.NoError(t, err)

	client := authorization.NewClient(authzSvc, "maru")

	t.Run("allowed access", func(t *testing.T) {
		allowed := client.Can(ctx, "alice", "comments", "like")
		require.True(t, allowed)
	})

	t.Run("denied access", func(t *testing.T) {
		allowed := client.Can(ctx, "alice", "comments", "moderate")
		require.False(t, allowed)
	})

	t.Run("another user", func(t *testing.T) {
		allowed := client.Can(ctx, "bob", "comments", "like")
		require.False(t, allowed)
	})
}

func TestClient_AddPolicyForSubject(t *testing.T) {
	ctx := context.Background()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "policy.csv")
	content := []byte("p, role:administrator, maru, *, moderate")

	err := os.WriteFile(tmpFile, content, 0o600)
	require.NoError(t, err)

	// needs to use file adapter, because string adapter doesn't support
	// github.com/casbin/casbin/v3/persist.BatchAdapter
	adapter := fileadapter.NewAdapter(tmpFile)

	casbinProvider, err := casbin.NewAuthorizationProvider(adapter)
	require.NoError(t, err)

	authzSvc, err := authorization.NewService(casbinProvider)
	require.NoError(t, err)

	client := authorization.NewClient(authzSvc, "maru")

	t.Run("add policy and check access", func(t *testing.T) {
		err = client.AddPolicyForSubject(ctx, "alice", "comments", "like")
		require.NoError(t, err)

		err = client.CheckAccess(ctx, "alice", "comments", "like")
		require.NoError(t, err)

		err = client.CheckAccess(ctx, "alice", "comments", "moderate")
		require.Error(t, err)

		accessDeniedErr := &authorization.AccessDeniedError{}
		require.ErrorAs(t, err, &accessDeniedErr)

		err = client.CheckAccess(ctx, "bob", "comments", "like")
		require.Error(t, err)

		accessDeniedErr = &authorization.AccessDeniedError{}
		require.ErrorAs(t, err, &accessDeniedErr)
	})
}

func TestClient_AddToGroup(t *testing.T) {
	ctx := context.Background()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "policy.csv")
	content := []byte("p, role:administrator, maru, *, moderate")

	err := os.WriteFile(tmpFile, content, 0o600)
	require.NoError(t, err)

	adapter := fileadapter.NewAdapter(tmpFile)

	casbinProvider, err := casbin.NewAuthorizationProvider(adapter)
	require.NoError(t, err)

	authzSvc, err := authorization.NewService(casbinProvider)
	require.NoError(t, err)

	client := authorization.NewClient(authzSvc, "maru")

	t.Run("add to group and check access", func(t *testing.T) {
		err = client.AddToGroup(ctx, "alice", authorization.GroupAdministrator)
		require.NoError(t, err)

		err = client.CheckAccess(ctx, "alice", "comments", "moderate")
		require.NoError(t, err)

		err = client.CheckAccess(ctx, "bob", "comments", "moderate")
		require.Error(t, err)

		accessDeniedErr := &authorization.AccessDeniedError{}
		require.ErrorAs(t, err, &accessDeniedErr)
	})

	t.Run("remove from group", func(t *testing.T) {
		err = client.RemoveFromGroup(ctx, "alice", authorization.GroupAdministrator)
		require.NoError(t, err)

		err = client.CheckAccess(ctx, "alice", "comments", "moderate")
		require.Error(t, err)
	})
}

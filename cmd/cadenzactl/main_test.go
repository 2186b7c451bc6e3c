package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/cadenza/internal/adapters/http/api"
	"github.com/okian/cadenza/internal/adapters/repository"
	app "github.com/okian/cadenza/internal/app"
	"github.com/okian/cadenza/pkg/logger"
)

const fixture = `students:
  - {id: s1, name: Ada, email: ada@example.com}
  - {id: s2, name: Bo}
courses:
  - {id: c1, title: Piano I}
  - {id: c2, title: Empty}
classes:
  - {id: k1, title: Week 1, course_id: c1}
`

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cadenzactl version "+Version)
}

func TestCategories(t *testing.T) {
	out, err := execute(t, "categories")
	require.NoError(t, err)
	assert.Contains(t, out, "CATEGORY")
	assert.Contains(t, out, "music")
	assert.Contains(t, out, "rhythm,theoreticalUnderstanding")
	assert.Contains(t, out, "drawing")
}

func TestSeed(t *testing.T) {
	t.Setenv("CADENZA_STORE", "memory")

	t.Run("requires a fixture", func(t *testing.T) {
		t.Setenv("CADENZA_SEED_FILE", "")
		_, err := execute(t, "seed")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no seed file")
	})

	t.Run("loads the fixture", func(t *testing.T) {
		path := writeFixture(t)
		out, err := execute(t, "seed", "--file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "5 documents created")
	})

	t.Run("reports a broken fixture", func(t *testing.T) {
		_, err := execute(t, "seed", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestRescore(t *testing.T) {
	t.Setenv("CADENZA_STORE", "memory")
	t.Setenv("CADENZA_SEED_FILE", writeFixture(t))

	t.Run("requires a course", func(t *testing.T) {
		_, err := execute(t, "rescore")
		require.Error(t, err)
	})

	t.Run("prints the recomputed table", func(t *testing.T) {
		out, err := execute(t, "rescore", "--course", "c1")
		require.NoError(t, err)
		assert.Contains(t, out, "STUDENT")
	})

	t.Run("fails for a course without classes", func(t *testing.T) {
		_, err := execute(t, "rescore", "--course", "c2")
		require.ErrorIs(t, err, app.ErrNotFound)
	})

	t.Run("fails for an unknown course", func(t *testing.T) {
		_, err := execute(t, "rescore", "--course", "nope")
		require.ErrorIs(t, err, app.ErrNotFound)
	})
}

func TestLoad(t *testing.T) {
	t.Run("requires targets", func(t *testing.T) {
		_, err := execute(t, "load", "--url", "http://127.0.0.1:1")
		require.Error(t, err)
	})

	t.Run("runs against a server", func(t *testing.T) {
		ctx := context.Background()
		store := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(0))
		defer store.Close()
		seed, err := repository.ParseSeed([]byte(fixture))
		require.NoError(t, err)
		_, err = seed.Apply(ctx, store)
		require.NoError(t, err)

		svc := app.New(app.WithStore(store), app.WithAggregateMaxRetries(64))
		require.NoError(t, svc.Start(ctx))
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		out, err := execute(t, "load",
			"--url", srv.URL,
			"--course", "c1",
			"--students", "s1,s2",
			"--classes", "k1",
			"--submissions", "10",
			"--replay-every", "5",
			"--workers", "2",
		)
		require.NoError(t, err)
		assert.Contains(t, out, "submitted 12 (successful 10, duplicate 2, failed 0)")
		assert.Contains(t, out, "verified 2 scores, 0 mismatches")
	})
}

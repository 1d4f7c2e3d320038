package cache

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"neurostore/testutil"
)

func TestGetFailsOpenWithoutBackend(t *testing.T) {
	v := &Versions{RDB: nil, Logger: zaptest.NewLogger(t), Prefix: "test"}

	assert.Equal(t, "0", v.Get(context.Background(), "studies", "42"))
	assert.Equal(t, "0", v.Get(context.Background(), "studies", ""))
	assert.Equal(t, "0", v.Get(context.Background(), "", "42"))
}

func TestBumpWithoutBackendIsNoop(t *testing.T) {
	v := &Versions{RDB: nil, Logger: zaptest.NewLogger(t), Prefix: "test"}

	// Darf weder panicen noch blockieren.
	v.Bump(context.Background(), map[string][]uint{"studies": {1, 2}})
	v.Bump(context.Background(), nil)
	v.Bump(context.Background(), map[string][]uint{"studies": {}})
}

func TestForPathParsing(t *testing.T) {
	v := &Versions{RDB: nil, Logger: zaptest.NewLogger(t), Prefix: "test"}
	ctx := context.Background()

	// Parsebare Pfade delegieren an Get; ohne Backend kommt "0" zurück.
	assert.Equal(t, "0", v.ForPath(ctx, "/api/base-studies"))
	assert.Equal(t, "0", v.ForPath(ctx, "/api/base-studies/123"))
	assert.Equal(t, "0", v.ForPath(ctx, "/api/studies/abc-123/"))

	// Nicht parsebare Pfade liefern immer "0".
	assert.Equal(t, "0", v.ForPath(ctx, "/metrics"))
	assert.Equal(t, "0", v.ForPath(ctx, "/api/Base-Studies/1"))
	assert.Equal(t, "0", v.ForPath(ctx, ""))
}

func TestPathRE(t *testing.T) {
	m := pathRE.FindStringSubmatch("/api/base-studies/123")
	if assert.NotNil(t, m) {
		assert.Equal(t, "base-studies", m[1])
		assert.Equal(t, "123", m[2])
	}

	m = pathRE.FindStringSubmatch("/api/annotations/")
	if assert.NotNil(t, m) {
		assert.Equal(t, "annotations", m[1])
		assert.Equal(t, "", m[2])
	}

	assert.Nil(t, pathRE.FindStringSubmatch("/api/studies/1/analyses"))
}

func TestBumpIncrementsVersionsStrictlyMonotonically(t *testing.T) {
	rdb := testutil.Redis(t)
	v := &Versions{
		RDB:    rdb,
		Logger: zaptest.NewLogger(t),
		Prefix: fmt.Sprintf("test-%d", time.Now().UnixNano()),
	}
	ctx := context.Background()

	// Unbekannte Keys starten bei "0".
	assert.Equal(t, "0", v.Get(ctx, "studies", "42"))

	prev := 0
	for i := 0; i < 5; i++ {
		v.Bump(ctx, map[string][]uint{"studies": {42}})

		cur, err := strconv.Atoi(v.Get(ctx, "studies", "42"))
		require.NoError(t, err)
		assert.Greater(t, cur, prev)
		prev = cur

		// Der Listen-Zähler wandert im Gleichschritt mit.
		list, err := strconv.Atoi(v.Get(ctx, "studies", ""))
		require.NoError(t, err)
		assert.Equal(t, cur, list)
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	q1 := url.Values{"b": {"2"}, "a": {"1"}}
	q2 := url.Values{"a": {"1"}, "b": {"2"}}

	k1 := Key("/api/studies", q1, "user-1", "7")
	k2 := Key("/api/studies", q2, "user-1", "7")
	assert.Equal(t, k1, k2)
	assert.Equal(t, "/api/studies_a=1_b=2_user-1_v=7", k1)
}

func TestKeyChangesWithVersion(t *testing.T) {
	q := url.Values{"a": {"1"}}
	k1 := Key("/api/studies", q, "user-1", "7")
	k2 := Key("/api/studies", q, "user-1", "8")
	assert.NotEqual(t, k1, k2)
}

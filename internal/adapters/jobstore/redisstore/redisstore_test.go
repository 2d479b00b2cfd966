package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
	"mediarender/internal/worker/util"
)

// newStore connects to RENDER_TEST_REDIS_ADDR with a throwaway key prefix.
func newStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("RENDER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RENDER_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())

	prefix := util.NewID("test") + ":"
	s := New(rdb, prefix)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		_ = s.Close()
	})
	return s
}

func TestRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Millisecond)

	job := v1.Job{ID: "job_a", Status: v1.JobSucceeded, OutputFormat: "webm", CreatedAt: created,
		Artifact: &v1.ArtifactRef{Filename: "render-job_a.webm", ContentType: "video/webm", SizeBytes: 42}}
	require.NoError(t, s.Put(ctx, job, time.Minute))

	got, err := s.Get(ctx, "job_a")
	require.NoError(t, err)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.Artifact, got.Artifact)
	assert.True(t, created.Equal(got.CreatedAt))

	require.NoError(t, s.Delete(ctx, "job_a"))
	_, err = s.Get(ctx, "job_a")
	assert.True(t, errors.IsNotFound(err))
}

func TestListDropsExpired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.Put(ctx, v1.Job{ID: "job_1", Status: v1.JobFailed, CreatedAt: base}, time.Minute))
	require.NoError(t, s.Put(ctx, v1.Job{ID: "job_2", Status: v1.JobSucceeded, CreatedAt: base.Add(time.Second)}, time.Minute))
	require.NoError(t, s.Put(ctx, v1.Job{ID: "job_3", Status: v1.JobSucceeded, CreatedAt: base.Add(2 * time.Second)}, time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	jobs, err := s.List(ctx, ports.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job_2", jobs[0].ID)
	assert.Equal(t, "job_1", jobs[1].ID)

	n, err := s.rdb.ZCard(ctx, s.indexKey()).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	failed, err := s.List(ctx, ports.JobFilter{Status: v1.JobFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "job_1", failed[0].ID)
}

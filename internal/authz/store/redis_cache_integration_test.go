//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aegis/internal/authz/store"
	"aegis/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestSharedCopyServesSecondInstance() {
	ctx := context.Background()
	seed, err := store.LoadSeedFile("testdata/seed.yaml")
	s.Require().NoError(err)

	first := store.NewRedisCache(s.redis.Client, store.NewInMemoryStore(seed), store.WithCacheTTL(time.Minute))
	_, err = first.Load(ctx)
	s.Require().NoError(err)

	// A second instance with an empty backing store still sees the cached copy.
	second := store.NewRedisCache(s.redis.Client, store.NewInMemoryStore(store.ReferenceData{}))
	data, err := second.Load(ctx)
	s.Require().NoError(err)
	s.Len(data.Permissions, len(seed.Permissions))
	s.Len(data.RolePermissions, len(seed.RolePermissions))

	s.Require().NoError(second.Invalidate(ctx))
	data, err = second.Load(ctx)
	s.Require().NoError(err)
	s.Empty(data.Permissions)
}

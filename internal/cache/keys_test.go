package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthhq/hearth/internal/cache"
)

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "guest:recipe", cache.StorageKey("guest", "recipe"))
}

func TestStorageKeyCollisionFreedom(t *testing.T) {
	// Pairs whose naive concatenation would collide must map to
	// distinct keys.
	cases := [][2][2]string{
		{{"a:b", "c"}, {"a", "b:c"}},
		{{"a", "b"}, {"a:b", ""}},
		{{"x%3A", "y"}, {"x:", "y"}},
	}

	for _, c := range cases {
		left := cache.StorageKey(c[0][0], c[0][1])
		right := cache.StorageKey(c[1][0], c[1][1])
		assert.NotEqual(t, left, right, "pairs %v and %v must not collide", c[0], c[1])
	}
}

func TestStorageKeyDeterministic(t *testing.T) {
	assert.Equal(t,
		cache.StorageKey("user-1", "chore"),
		cache.StorageKey("user-1", "chore"),
	)
}

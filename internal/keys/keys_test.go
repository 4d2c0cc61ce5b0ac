package keys_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/keys"
)

func TestUserScoped(t *testing.T) {
	scoped := []cache.Key{
		keys.Bookmarks(),
		keys.IsBookmarked("n1"),
		keys.UserRating("n1"),
		keys.User(),
		keys.UserNovels(),
		keys.Subscription("u1"),
	}
	for _, k := range scoped {
		assert.True(t, keys.UserScoped(k), "expected %s to be user scoped", k)
	}

	public := []cache.Key{
		keys.Novels(),
		keys.Novel("n1"),
		keys.Chapters("n1"),
		keys.Chapter("c1"),
	}
	for _, k := range public {
		assert.False(t, keys.UserScoped(k), "expected %s to be public", k)
	}
}

func TestKeyShapes(t *testing.T) {
	assert.Equal(t, "novels/user", keys.UserNovels().String())
	assert.Equal(t, "isBookmarked/n1", keys.IsBookmarked("n1").String())
	assert.Equal(t, keys.KindNovel, keys.Novel("n1").Kind())
}

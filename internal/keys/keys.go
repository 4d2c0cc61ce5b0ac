// Package keys is the catalogue of cache keys used across the engine. Every
// read-through and every invalidation goes through these constructors so that
// writers and readers can never disagree on a key's shape.
package keys

import "github.com/tallyapp/tally-go/internal/cache"

// Key kinds, the first tuple element.
const (
	KindNovels       = "novels"
	KindNovel        = "novel"
	KindChapters     = "chapters"
	KindChapter      = "chapter"
	KindBookmarks    = "bookmarks"
	KindIsBookmarked = "isBookmarked"
	KindUserRating   = "userRating"
	KindUser         = "user"
	KindSubscription = "subscription"
)

// Novels is the published novel list.
func Novels() cache.Key { return cache.NewKey(KindNovels) }

// UserNovels is the current user's own novels, published or not.
func UserNovels() cache.Key { return cache.NewKey(KindNovels, "user") }

// Novel is one novel by id.
func Novel(novelID string) cache.Key { return cache.NewKey(KindNovel, novelID) }

// Chapters is the ordered chapter list of one novel.
func Chapters(novelID string) cache.Key { return cache.NewKey(KindChapters, novelID) }

// Chapter is one chapter by id.
func Chapter(chapterID string) cache.Key { return cache.NewKey(KindChapter, chapterID) }

// Bookmarks is the current user's bookmark list.
func Bookmarks() cache.Key { return cache.NewKey(KindBookmarks) }

// IsBookmarked is the current user's bookmark flag for one novel.
func IsBookmarked(novelID string) cache.Key { return cache.NewKey(KindIsBookmarked, novelID) }

// UserRating is the current user's rating for one novel.
func UserRating(novelID string) cache.Key { return cache.NewKey(KindUserRating, novelID) }

// User is the current user's profile.
func User() cache.Key { return cache.NewKey(KindUser) }

// Subscription is one user's subscription row.
func Subscription(userID string) cache.Key { return cache.NewKey(KindSubscription, userID) }

// UserScoped reports whether a key holds data belonging to the signed-in
// user. These keys are purged on logout; public keys survive.
func UserScoped(k cache.Key) bool {
	switch k.Kind() {
	case KindBookmarks, KindIsBookmarked, KindUserRating, KindUser, KindSubscription:
		return true
	case KindNovels:
		return k.HasPrefix(KindNovels, "user")
	}
	return false
}

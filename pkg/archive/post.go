// Package archive decodes a vendor export file into immutable post
// records, excluding reposts.
package archive

import "strings"

// Post is a single immutable post record from the archive.
type Post struct {
	// IDStr is the opaque stable post identifier.
	IDStr string `json:"id_str"`

	// FullText is the complete post text.
	FullText string `json:"full_text"`

	// CreatedAt is the vendor-formatted creation timestamp.
	CreatedAt string `json:"created_at"`

	FavoriteCount string `json:"favorite_count"`
	RepostCount   string `json:"retweet_count"`
}

// IsRepost reports whether the post is a repost of someone else's content.
// The vendor export marks these with an "RT @" text prefix.
func (p Post) IsRepost() bool {
	return strings.HasPrefix(p.FullText, "RT @")
}

// postWrapper mirrors the vendor export's per-record envelope.
type postWrapper struct {
	Post Post `json:"tweet"`
}

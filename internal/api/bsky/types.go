// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bsky

import "cmp"

// Bluesky record and facet type identifiers.
const (
	PostType     = "app.bsky.feed.post"
	RepostType   = "app.bsky.feed.repost"
	ReasonRepost = "reasonRepost"

	LinkFacet = "app.bsky.richtext.facet#link"

	EmbedRecordViewBlocked  = "app.bsky.embed.record#viewBlocked"
	EmbedRecordViewNotFound = "app.bsky.embed.record#viewNotFound"
	EmbedRecordViewDetached = "app.bsky.embed.record#viewDetached"
)

// Feed items arrive through two serialization paths: the JSON API uses
// "$type" and "createdAt", while dumps produced by atproto model exports use
// "py_type" and "created_at". Types below carry both spellings and expose
// accessors that prefer whichever is set.

// FeedItem is a single entry of a feed response.
type FeedItem struct {
	Post   Post    `json:"post"`
	Reason *Reason `json:"reason,omitempty"`
}

// Reason marks a feed entry as resurfaced, e.g. a repost.
type Reason struct {
	Type   string  `json:"$type,omitempty"`
	PyType string  `json:"py_type,omitempty"`
	By     *Author `json:"by,omitempty"`
}

// TypeName returns the type discriminator of the reason.
func (r *Reason) TypeName() string {
	if r == nil {
		return ""
	}
	return cmp.Or(r.Type, r.PyType)
}

// Post is a hydrated post view.
type Post struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author Author `json:"author"`
	Record Record `json:"record"`
	Embed  *Embed `json:"embed,omitempty"`
}

// Author identifies the creator of a post.
type Author struct {
	DID    string `json:"did,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// Identifier returns a stable author identifier: the DID when present,
// otherwise the handle.
func (a Author) Identifier() string { return cmp.Or(a.DID, a.Handle) }

// Record is the post record itself.
type Record struct {
	Type         string  `json:"$type,omitempty"`
	PyType       string  `json:"py_type,omitempty"`
	Text         string  `json:"text"`
	CreatedAt    string  `json:"createdAt,omitempty"`
	CreatedAtAlt string  `json:"created_at,omitempty"`
	Reply        *Reply  `json:"reply,omitempty"`
	Facets       []Facet `json:"facets,omitempty"`
}

// TypeName returns the type discriminator of the record.
func (r Record) TypeName() string { return cmp.Or(r.Type, r.PyType) }

// Created returns the creation timestamp of the record.
func (r Record) Created() string { return cmp.Or(r.CreatedAt, r.CreatedAtAlt) }

// Reply links a post to the thread it replies to.
type Reply struct {
	Root   *PostRef `json:"root,omitempty"`
	Parent *PostRef `json:"parent,omitempty"`
}

// ParentURI returns the URI of the direct parent post, following the nested
// ref form when the parent carries no URI itself.
func (r *Reply) ParentURI() string {
	if r == nil || r.Parent == nil {
		return ""
	}
	if r.Parent.URI != "" {
		return r.Parent.URI
	}
	if r.Parent.Ref != nil {
		return r.Parent.Ref.URI
	}
	return ""
}

// PostRef is a reference to another post.
type PostRef struct {
	URI string   `json:"uri,omitempty"`
	CID string   `json:"cid,omitempty"`
	Ref *PostRef `json:"ref,omitempty"`
}

// Facet is a rich-text annotation over a byte range of the post text.
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features,omitempty"`
}

// ByteSlice is a [start, end) byte range into UTF-8 encoded post text.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Feature describes the semantic meaning of a facet.
type Feature struct {
	Type   string `json:"$type,omitempty"`
	PyType string `json:"py_type,omitempty"`
	URI    string `json:"uri,omitempty"`
}

// TypeName returns the type discriminator of the feature.
func (f Feature) TypeName() string { return cmp.Or(f.Type, f.PyType) }

// Embed is embedded post media: images or a quoted record.
type Embed struct {
	Type   string       `json:"$type,omitempty"`
	PyType string       `json:"py_type,omitempty"`
	Images []EmbedImage `json:"images,omitempty"`
	Record *EmbedRecord `json:"record,omitempty"`
}

// TypeName returns the type discriminator of the embed.
func (e *Embed) TypeName() string {
	if e == nil {
		return ""
	}
	return cmp.Or(e.Type, e.PyType)
}

// EmbedImage is a single embedded image.
type EmbedImage struct {
	Fullsize string `json:"fullsize,omitempty"`
	Thumb    string `json:"thumb,omitempty"`
	Alt      string `json:"alt,omitempty"`
}

// URL returns the best available URL for the image.
func (i EmbedImage) URL() string { return cmp.Or(i.Fullsize, i.Thumb) }

// EmbedRecord is a view of a quoted post.
type EmbedRecord struct {
	Type   string       `json:"$type,omitempty"`
	PyType string       `json:"py_type,omitempty"`
	URI    string       `json:"uri,omitempty"`
	CID    string       `json:"cid,omitempty"`
	Author Author       `json:"author,omitempty"`
	Value  *RecordValue `json:"value,omitempty"`
}

// TypeName returns the type discriminator of the quoted record view.
func (r *EmbedRecord) TypeName() string {
	if r == nil {
		return ""
	}
	return cmp.Or(r.Type, r.PyType)
}

// Unavailable reports whether the quoted record cannot be rendered because it
// is blocked, missing, or detached.
func (r *EmbedRecord) Unavailable() bool {
	switch r.TypeName() {
	case EmbedRecordViewBlocked, EmbedRecordViewNotFound, EmbedRecordViewDetached:
		return true
	}
	return false
}

// RecordValue is the record payload of a quoted post view.
type RecordValue struct {
	Type      string `json:"$type,omitempty"`
	PyType    string `json:"py_type,omitempty"`
	Text      string `json:"text,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

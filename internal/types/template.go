package types

import (
	"time"
)

// Template is the structured record extracted from a marketplace template page.
type Template struct {
	Slug             string   `json:"slug"              bson:"slug"`
	Name             string   `json:"name"              bson:"name"`
	AuthorName       string   `json:"author_name"       bson:"author_name"`
	AuthorURL        string   `json:"author_url"        bson:"author_url"`
	Price            string   `json:"price"             bson:"price"`
	PriceCents       int64    `json:"price_cents"       bson:"price_cents"`
	ShortDescription string   `json:"short_description" bson:"short_description"`
	LongDescription  string   `json:"long_description"  bson:"long_description"`
	Categories       []string `json:"categories"        bson:"categories"`
	Styles           []string `json:"styles"            bson:"styles"`
	Features         []string `json:"features"          bson:"features"`
	LivePreviewURL   string   `json:"live_preview_url"  bson:"live_preview_url"`

	// InternalLinks are same-origin links found on the page, used by
	// homepage detection.
	InternalLinks []string `json:"internal_links,omitempty" bson:"-"`
	HomepagePath  string   `json:"homepage_path"            bson:"homepage_path"`

	PreviewURL   string `json:"preview_url,omitempty"   bson:"preview_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty" bson:"thumbnail_url,omitempty"`

	SourceURL string    `json:"source_url" bson:"source_url"`
	ScrapedAt time.Time `json:"scraped_at" bson:"scraped_at"`
}

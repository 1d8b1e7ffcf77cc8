package models

// Rendered wraps the HTML fields the blog API returns as {"rendered": "..."}.
type Rendered struct {
	Rendered string `json:"rendered"`
}

// Post is a published blog post.
type Post struct {
	ID            int       `json:"id"`
	Slug          string    `json:"slug"`
	Status        string    `json:"status"`
	Date          string    `json:"date"`
	DateGMT       string    `json:"date_gmt"`
	Link          string    `json:"link"`
	Title         Rendered  `json:"title"`
	Content       Rendered  `json:"content"`
	Excerpt       Rendered  `json:"excerpt"`
	Author        int       `json:"author"`
	FeaturedMedia int       `json:"featured_media"`
	Categories    []int     `json:"categories"`
	Tags          []int     `json:"tags"`
	SEO           *PostSEO  `json:"yoast_head_json"`
	Meta          *PostMeta `json:"meta"`
}

// PostSEO holds the SEO plugin fields we reuse for meta descriptions.
type PostSEO struct {
	Description   string `json:"description"`
	OGDescription string `json:"og_description"`
}

// PostMeta holds optional custom meta.
type PostMeta struct {
	ViewCount int `json:"view_count"`
}

// Term is a blog category or tag.
type Term struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// Author is a blog post author.
type Author struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Email       string `json:"email"`
}

// Media is a blog media library item.
type Media struct {
	ID        int    `json:"id"`
	SourceURL string `json:"source_url"`
	AltText   string `json:"alt_text"`
	MimeType  string `json:"mime_type"`
}

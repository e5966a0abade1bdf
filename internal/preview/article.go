package preview

import "encoding/json"

// Article is a draft article as returned by the content API.
// Content is markdown and may carry literal "\n" escapes instead of newlines.
type Article struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Slug    string `json:"slug"`
}

type articleFields struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Slug    string `json:"slug"`
}

// UnmarshalJSON accepts both the flat shape and the Strapi v4 envelope
// {"id":1,"attributes":{...}}.
func (a *Article) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID int `json:"id"`
		articleFields
		Attributes *articleFields `json:"attributes"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fields := raw.articleFields
	if raw.Attributes != nil {
		fields = *raw.Attributes
	}
	*a = Article{ID: raw.ID, Title: fields.Title, Content: fields.Content, Slug: fields.Slug}
	return nil
}

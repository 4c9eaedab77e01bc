// articles.go implements the article catalog operations of the resource API.
package fortnox

import (
	"context"
	"net/url"

	"github.com/chronobill/chronobill/internal/accounting"
)

// GetArticle fetches an article by number. A 404 answer becomes a typed
// NotFoundError so the exporter can create the article instead.
func (c *Client) GetArticle(ctx context.Context, number string) (*accounting.Article, error) {
	var out articleEnvelope
	err := c.do(ctx, "GET", "/3/articles/"+url.PathEscape(number), nil, &out)
	if err != nil {
		if notFound(err) {
			return nil, &accounting.NotFoundError{Resource: "article", Key: number}
		}
		return nil, err
	}
	return out.Article.toDomain(), nil
}

// CreateArticle creates an article. When the request carries a number Fortnox
// keeps it; otherwise the response carries the number the provider assigned.
func (c *Client) CreateArticle(ctx context.Context, article *accounting.Article) (*accounting.Article, error) {
	payload := articleEnvelope{Article: fortnoxArticle{
		ArticleNumber: article.Number,
		Description:   article.Description,
		Unit:          article.Unit,
	}}

	var out articleEnvelope
	if err := c.do(ctx, "POST", "/3/articles", payload, &out); err != nil {
		return nil, err
	}
	return out.Article.toDomain(), nil
}

// Wire types

type articleEnvelope struct {
	Article fortnoxArticle `json:"Article"`
}

type fortnoxArticle struct {
	ArticleNumber string `json:"ArticleNumber,omitempty"`
	Description   string `json:"Description"`
	Unit          string `json:"Unit,omitempty"`
}

func (f *fortnoxArticle) toDomain() *accounting.Article {
	return &accounting.Article{
		Number:      f.ArticleNumber,
		Description: f.Description,
		Unit:        f.Unit,
	}
}

package mailer

import (
	"fmt"
	"net/url"
	"strings"

	"lettercast/internal/models"
)

// ContentGenerator builds the personalized message for one recipient of
// a published newsletter: tracking pixel, click-wrapped permalink and a
// signed unsubscribe link.
type ContentGenerator struct {
	baseURL string
	issuer  *TokenIssuer
}

// NewContentGenerator creates a generator. baseURL is the public origin
// used for tracking and unsubscribe links.
func NewContentGenerator(baseURL string, issuer *TokenIssuer) *ContentGenerator {
	return &ContentGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		issuer:  issuer,
	}
}

// Generate renders the subject, HTML and text bodies for one recipient.
func (g *ContentGenerator) Generate(item *models.Newsletter, rcpt models.Recipient) (Message, error) {
	token, err := g.issuer.Issue(rcpt.Address, rcpt.SubscriberID)
	if err != nil {
		return Message{}, err
	}

	unsubscribeURL := fmt.Sprintf("%s/unsubscribe?token=%s", g.baseURL, url.QueryEscape(token))
	pixelURL := fmt.Sprintf("%s/t/open/%s/%s", g.baseURL, url.PathEscape(item.ID), url.PathEscape(rcpt.Address))
	permalink := fmt.Sprintf("%s/p/%s", g.baseURL, url.PathEscape(item.Slug))
	clickURL := fmt.Sprintf("%s/t/click/%s/%s?url=%s",
		g.baseURL, url.PathEscape(item.ID), url.PathEscape(rcpt.Address), url.QueryEscape(permalink))

	greeting := "Hello"
	if rcpt.Name != "" {
		greeting = "Hello " + rcpt.Name
	}

	meta := item.PublishedAt.Format("January 2, 2006")
	if item.AuthorName != "" {
		meta = item.AuthorName + " · " + meta
	}
	if item.ReadTime > 0 {
		meta = fmt.Sprintf("%s · %d min read", meta, item.ReadTime)
	}

	var html strings.Builder
	html.WriteString("<!DOCTYPE html>\n<html>\n<body style=\"font-family: Georgia, serif; max-width: 640px; margin: 0 auto; padding: 24px;\">\n")
	if item.Thumbnail != "" {
		html.WriteString(fmt.Sprintf("<img src=%q alt=\"\" style=\"max-width: 100%%; border-radius: 8px;\">\n", item.Thumbnail))
	}
	html.WriteString(fmt.Sprintf("<h1>%s</h1>\n", item.Title))
	html.WriteString(fmt.Sprintf("<p style=\"color: #666; font-size: 14px;\">%s</p>\n", meta))
	html.WriteString(fmt.Sprintf("<p>%s,</p>\n", greeting))
	if item.Excerpt != "" {
		html.WriteString(fmt.Sprintf("<p><em>%s</em></p>\n", item.Excerpt))
	}
	html.WriteString(item.Content)
	html.WriteString(fmt.Sprintf("\n<p><a href=%q>Read on the web</a></p>\n", clickURL))
	html.WriteString(fmt.Sprintf("<hr>\n<p style=\"color: #999; font-size: 12px;\">You are receiving this because you subscribed. <a href=%q>Unsubscribe</a></p>\n", unsubscribeURL))
	html.WriteString(fmt.Sprintf("<img src=%q width=\"1\" height=\"1\" alt=\"\">\n", pixelURL))
	html.WriteString("</body>\n</html>")

	var text strings.Builder
	text.WriteString(item.Title + "\n")
	text.WriteString(meta + "\n\n")
	text.WriteString(greeting + ",\n\n")
	if item.Excerpt != "" {
		text.WriteString(item.Excerpt + "\n\n")
	}
	text.WriteString("Read on the web: " + permalink + "\n\n")
	text.WriteString("Unsubscribe: " + unsubscribeURL + "\n")

	return Message{
		Subject: item.Title,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

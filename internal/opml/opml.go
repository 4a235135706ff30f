// Package opml reads and writes OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"silentfeed/internal/model"
)

// Document is the root of an OPML file.
type Document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder or, when XMLURL is set, a feed.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document and returns one descriptor per feed outline,
// folders flattened, in document order. DiscoveredFrom is set to source and
// DiscoveredAt to now.
func Parse(r io.Reader, source string, now time.Time) ([]model.FeedDescriptor, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var out []model.FeedDescriptor
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if u := strings.TrimSpace(o.XMLURL); u != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				out = append(out, model.FeedDescriptor{
					URL:            u,
					Title:          title,
					DiscoveredFrom: source,
					DiscoveredAt:   now,
				})
				continue
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return out, nil
}

// Export renders feeds as a flat OPML 2.0 document.
func Export(title string, feeds []model.Feed, now time.Time) ([]byte, error) {
	doc := Document{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}
	for _, f := range feeds {
		text := f.Title
		if text == "" {
			text = f.URL
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   text,
			Title:  f.Title,
			Type:   "rss",
			XMLURL: f.URL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}

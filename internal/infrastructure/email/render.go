package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"PlumFinder/internal/domain"
)

// Digest is a rendered email ready to send.
type Digest struct {
	Subject string
	HTML    string
	Text    string
}

type digestRow struct {
	Rank     int
	Title    string
	Source   string
	Price    string
	Distance string
	Location string
	Color    string
	Score    string
	ImageURL string
	URL      string
}

type digestView struct {
	Subject string
	Date    string
	Rows    []digestRow
}

var htmlDigest = htmltemplate.Must(htmltemplate.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #2d1b36;">
<h2 style="color: #6b2d5c;">{{.Subject}}</h2>
<p>New plum and purple finds for {{.Date}}.</p>
<table cellpadding="8" cellspacing="0" style="border-collapse: collapse;">
{{- range .Rows}}
<tr style="border-bottom: 1px solid #e6d5e8;">
<td style="vertical-align: top;">{{if .ImageURL}}<img src="{{.ImageURL}}" width="120" alt="">{{end}}</td>
<td style="vertical-align: top;">
<strong>{{.Rank}}. <a href="{{.URL}}" style="color: #6b2d5c;">{{.Title}}</a></strong><br>
{{.Price}} &middot; {{.Distance}}{{if .Location}} &middot; {{.Location}}{{end}}<br>
<small>{{.Source}} &middot; color {{.Color}} &middot; score {{.Score}}</small>
</td>
</tr>
{{- end}}
</table>
</body>
</html>
`))

var textDigest = texttemplate.Must(texttemplate.New("digest").Parse(`{{.Subject}}

{{range .Rows}}{{.Rank}}. {{.Title}}
   {{.Price}} | {{.Distance}}{{if .Location}} | {{.Location}}{{end}} | {{.Source}}
   color {{.Color}}, score {{.Score}}
   {{.URL}}

{{end}}`))

// Subject formats the digest subject line.
func Subject(count int, date time.Time) string {
	noun := "Items"
	if count == 1 {
		noun = "Item"
	}
	return fmt.Sprintf("Plum Finds - %d New %s (%s)", count, noun, date.Format("January 02"))
}

// Render produces the subject and both bodies for the ranked items.
func Render(items []domain.DeliveryItem, date time.Time) (Digest, error) {
	view := digestView{
		Subject: Subject(len(items), date),
		Date:    date.Format("Monday, January 2"),
		Rows:    make([]digestRow, 0, len(items)),
	}
	for i, it := range items {
		view.Rows = append(view.Rows, digestRow{
			Rank:     i + 1,
			Title:    it.Title,
			Source:   it.Source,
			Price:    it.PriceText(),
			Distance: it.DistanceText(),
			Location: it.Location,
			Color:    fmt.Sprintf("%.2f", it.ColorScore),
			Score:    fmt.Sprintf("%.2f", it.CompositeScore),
			ImageURL: it.ImageURL,
			URL:      it.ListingURL,
		})
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlDigest.Execute(&htmlBuf, view); err != nil {
		return Digest{}, fmt.Errorf("render html digest: %w", err)
	}
	if err := textDigest.Execute(&textBuf, view); err != nil {
		return Digest{}, fmt.Errorf("render text digest: %w", err)
	}
	return Digest{Subject: view.Subject, HTML: htmlBuf.String(), Text: textBuf.String()}, nil
}

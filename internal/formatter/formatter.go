// package formatter renders stored plays and listening summaries as CSV, Markdown, plain text or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/shared"
	"github.com/desertthunder/playsync/internal/tasks"
)

// Format names an output encoding.
type Format string

const (
	FormatText     Format = "txt"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts the names used by the CLI --format flag.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "txt", "text":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

func playedAt(p *models.PlayRecord) string {
	if p.PlayedAt() == nil {
		return ""
	}
	return p.PlayedAt().UTC().Format(time.RFC3339)
}

// ExportToCSV converts plays to CSV with columns: Played At, Track ID, Title, Artist, Album, URI
func ExportToCSV(plays []*models.PlayRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Played At", "Track ID", "Title", "Artist", "Album", "URI"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, p := range plays {
		record := []string{
			playedAt(p),
			p.TrackID(),
			p.TrackName(),
			p.ArtistName(),
			p.AlbumName(),
			p.URI(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts plays to a numbered Markdown list under title
func ExportToMarkdown(title string, plays []*models.PlayRecord) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", title)
	fmt.Fprintf(&buf, "**Tracks**: %d\n\n", len(plays))

	for i, p := range plays {
		albumPart := ""
		if p.AlbumName() != "" {
			albumPart = fmt.Sprintf(" (%s)", p.AlbumName())
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s", i+1, p.ArtistName(), p.TrackName(), albumPart)
		if at := playedAt(p); at != "" {
			fmt.Fprintf(&buf, " _%s_", at)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToText converts plays to plain text format
func ExportToText(plays []*models.PlayRecord) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(plays))
	for i, p := range plays {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, p.ArtistName(), p.TrackName())
		if at := playedAt(p); at != "" {
			fmt.Fprintf(&buf, "   Played: %s\n", at)
		}
	}

	return buf.Bytes(), nil
}

// PlayJSON is the JSON form of a stored play.
type PlayJSON struct {
	TrackID     string     `json:"trackId"`
	TrackName   string     `json:"trackName"`
	ArtistName  string     `json:"artistName"`
	AlbumName   string     `json:"albumName,omitempty"`
	AlbumArtURL string     `json:"albumArtUrl,omitempty"`
	URI         string     `json:"uri,omitempty"`
	PlayedAt    *time.Time `json:"playedAt"`
}

// ToPlayJSON converts plays to their JSON form.
func ToPlayJSON(plays []*models.PlayRecord) []PlayJSON {
	out := make([]PlayJSON, 0, len(plays))
	for _, p := range plays {
		out = append(out, PlayJSON{
			TrackID:     p.TrackID(),
			TrackName:   p.TrackName(),
			ArtistName:  p.ArtistName(),
			AlbumName:   p.AlbumName(),
			AlbumArtURL: p.AlbumArtURL(),
			URI:         p.URI(),
			PlayedAt:    p.PlayedAt(),
		})
	}
	return out
}

// ExportToJSON converts plays to an indented JSON array
func ExportToJSON(plays []*models.PlayRecord) ([]byte, error) {
	data, err := json.MarshalIndent(ToPlayJSON(plays), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// Render encodes plays in the given format. title is only used by Markdown.
func Render(format Format, title string, plays []*models.PlayRecord) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(plays)
	case FormatMarkdown:
		return ExportToMarkdown(title, plays)
	case FormatJSON:
		return ExportToJSON(plays)
	default:
		return ExportToText(plays)
	}
}

// WriteExport renders plays and writes them to path.
//
// Defaults to plays.{ext} when path is empty.
func WriteExport(path string, format Format, title string, plays []*models.PlayRecord) (string, error) {
	if path == "" {
		path = "plays." + format.Extension()
	}

	data, err := Render(format, title, plays)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case "":
		return "txt"
	default:
		return string(f)
	}
}

// SummaryToText renders a monthly summary as plain text
func SummaryToText(sum *tasks.Summary) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Period: %s\n", sum.Period)
	fmt.Fprintf(&buf, "Total plays: %d\n", sum.TotalPlays)

	if len(sum.TopArtists) > 0 {
		buf.WriteString("\nTop artists:\n")
		for i, a := range sum.TopArtists {
			fmt.Fprintf(&buf, "%d. %s (%d)\n", i+1, a.Artist, a.PlayCount)
		}
	}

	if len(sum.TopTracks) > 0 {
		buf.WriteString("\nTop tracks:\n")
		for i, t := range sum.TopTracks {
			fmt.Fprintf(&buf, "%d. %s - %s (%d)\n", i+1, t.ArtistName, t.TrackName, t.PlayCount)
		}
	}

	return buf.Bytes()
}

// SummaryToMarkdown renders a monthly summary as Markdown tables
func SummaryToMarkdown(sum *tasks.Summary) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Listening summary %s\n\n", sum.Period)
	fmt.Fprintf(&buf, "**Total plays**: %d\n\n", sum.TotalPlays)

	buf.WriteString("## Top artists\n\n| # | Artist | Plays |\n|---|---|---|\n")
	for i, a := range sum.TopArtists {
		fmt.Fprintf(&buf, "| %d | %s | %d |\n", i+1, a.Artist, a.PlayCount)
	}

	buf.WriteString("\n## Top tracks\n\n| # | Track | Artist | Plays |\n|---|---|---|---|\n")
	for i, t := range sum.TopTracks {
		fmt.Fprintf(&buf, "| %d | %s | %s | %d |\n", i+1, t.TrackName, t.ArtistName, t.PlayCount)
	}

	return buf.Bytes()
}

// Package export builds the downloadable archive of an author's stories.
package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	StatusPublished = "published"
	StatusDraft     = "draft"

	publishedDir = "publicadas"
	draftsDir    = "borradores"
)

type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Media struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type Version struct {
	Number  int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
}

type Story struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Media       []Media    `json:"media,omitempty"`
	Versions    []Version  `json:"versions,omitempty"`
}

// Export is everything that goes into one archive.
type Export struct {
	Author      Author
	Stories     []Story
	GeneratedAt time.Time
}

type manifest struct {
	Author      Author          `json:"author"`
	GeneratedAt time.Time       `json:"generated_at"`
	Published   int             `json:"published"`
	Drafts      int             `json:"drafts"`
	Stories     []manifestEntry `json:"stories"`
}

type manifestEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	File   string `json:"file"`
}

// Build writes the ZIP archive for e to w.
func Build(w io.Writer, e Export) error {
	zw := zip.NewWriter(w)
	m := manifest{Author: e.Author, GeneratedAt: e.GeneratedAt}

	for i, s := range e.Stories {
		dir := draftsDir
		if s.Status == StatusPublished {
			dir = publishedDir
			m.Published++
		} else {
			m.Drafts++
		}
		name := fmt.Sprintf("%s/%03d-%s.txt", dir, i+1, slug(s.Title, "historia"))

		f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: s.UpdatedAt})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := io.WriteString(f, RenderStory(s)); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		m.Stories = append(m.Stories, manifestEntry{ID: s.ID, Title: s.Title, Status: s.Status, File: name})
	}

	f, err := zw.Create("metadata.json")
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// RenderStory produces the human-readable text file for one story.
func RenderStory(s Story) string {
	var b strings.Builder
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = "Sin título"
	}
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(title))) + "\n\n")

	status := "Borrador"
	if s.Status == StatusPublished {
		status = "Publicada"
	}
	fmt.Fprintf(&b, "Estado: %s\n", status)
	if !s.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Creada: %s\n", s.CreatedAt.Format("2006-01-02"))
	}
	if s.PublishedAt != nil {
		fmt.Fprintf(&b, "Publicada: %s\n", s.PublishedAt.Format("2006-01-02"))
	}
	if len(s.Tags) > 0 {
		fmt.Fprintf(&b, "Etiquetas: %s\n", strings.Join(s.Tags, ", "))
	}
	b.WriteString("\n")
	b.WriteString(HTMLToText(s.Content))
	b.WriteString("\n")

	if len(s.Media) > 0 {
		b.WriteString("\nArchivos adjuntos\n-----------------\n")
		for _, m := range s.Media {
			line := fmt.Sprintf("- [%s] %s", m.Type, m.URL)
			if m.Caption != "" {
				line += " (" + m.Caption + ")"
			}
			b.WriteString(line + "\n")
		}
	}

	if len(s.Versions) > 0 {
		b.WriteString("\nHistorial de versiones\n----------------------\n")
		for _, v := range s.Versions {
			fmt.Fprintf(&b, "\nVersión %d (%s): %s\n\n%s\n", v.Number, v.SavedAt.Format("2006-01-02 15:04"), v.Title, HTMLToText(v.Content))
		}
	}
	return b.String()
}

// Filename returns the download name for an author's archive.
func Filename(authorName string, now time.Time) string {
	return fmt.Sprintf("narra-%s-%s.zip", slug(authorName, "historias"), now.Format("2006-01-02"))
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 50

func slug(s, fallback string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		plain = s
	}
	out := nonAlnum.ReplaceAllString(strings.ToLower(plain), "-")
	out = strings.Trim(out, "-")
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	if out == "" {
		return fallback
	}
	return out
}

package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/narrahq/narra/internal/auth"
	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/export"
	"github.com/narrahq/narra/internal/respond"
	"github.com/narrahq/narra/internal/supabase"
)

// Export builds the author's story archive. With archive storage configured
// the ZIP is uploaded and a short-lived URL returned, otherwise it is streamed.
func (h *GiftHandler) Export(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey) {
		return
	}
	ctx := r.Context()

	a, err := h.author(ctx, auth.AuthorID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.loadExport(ctx, a)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Build(&buf, *e); err != nil {
		h.fail(w, r, err)
		return
	}
	filename := export.Filename(a.Name, e.GeneratedAt)

	if h.archives != nil {
		key := "exports/" + a.ID + "/" + uuid.NewString() + ".zip"
		link, err := h.archives.Save(ctx, key, filename, buf.Bytes())
		if err != nil {
			h.fail(w, r, upstream("Failed to store export", err))
			return
		}
		h.logger.Info("export stored", "author", a.ID, "stories", len(e.Stories), "bytes", buf.Len())
		respond.OK(w, map[string]any{"url": link, "filename": filename, "stories": len(e.Stories)})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("export write failed", "author", a.ID, "error", err)
	}
}

// loadExport reads the stories, then their media and versions in parallel.
func (h *GiftHandler) loadExport(ctx context.Context, a *author) (*export.Export, error) {
	q := supabase.Filter("author_id", a.ID)
	q.Set("order", "created_at.asc")
	var stories []storyRow
	if err := h.supabase.Select(ctx, tableStories, q, &stories); err != nil {
		return nil, upstream("Failed to load stories", err)
	}

	e := &export.Export{
		Author:      export.Author{ID: a.ID, Name: a.Name, Email: a.Email},
		GeneratedAt: time.Now().UTC(),
	}
	if len(stories) == 0 {
		return e, nil
	}

	ids := make([]string, len(stories))
	for i, s := range stories {
		ids[i] = s.ID
	}
	inStories := url.Values{"story_id": {"in.(" + strings.Join(ids, ",") + ")"}}

	var (
		media    []storyMediaRow
		versions []storyVersionRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.supabase.Select(gctx, tableStoryMedia, inStories, &media); err != nil {
			return upstream("Failed to load story media", err)
		}
		return nil
	})
	g.Go(func() error {
		vq := url.Values{"story_id": inStories["story_id"], "order": {"version.asc"}}
		if err := h.supabase.Select(gctx, tableStoryVersions, vq, &versions); err != nil {
			return upstream("Failed to load story versions", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mediaBy := make(map[string][]export.Media)
	for _, m := range media {
		mediaBy[m.StoryID] = append(mediaBy[m.StoryID], export.Media{Type: m.Type, URL: m.URL, Caption: m.Caption})
	}
	versionsBy := make(map[string][]export.Version)
	for _, v := range versions {
		versionsBy[v.StoryID] = append(versionsBy[v.StoryID], export.Version{
			Number: v.Version, SavedAt: v.CreatedAt, Title: v.Title, Content: v.Content,
		})
	}

	for _, s := range stories {
		status := export.StatusDraft
		if s.Status == export.StatusPublished {
			status = export.StatusPublished
		}
		e.Stories = append(e.Stories, export.Story{
			ID:          s.ID,
			Title:       s.Title,
			Content:     s.Content,
			Status:      status,
			Tags:        s.Tags,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   s.UpdatedAt,
			PublishedAt: s.PublishedAt,
			Media:       mediaBy[s.ID],
			Versions:    versionsBy[s.ID],
		})
	}
	return e, nil
}


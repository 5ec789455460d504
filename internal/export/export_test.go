package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "paragraphs and breaks",
			in:   "<p>Hola&nbsp;mundo</p><p>Línea 1<br>Línea 2</p>",
			want: "Hola mundo\n\nLínea 1\nLínea 2",
		},
		{
			name: "entities",
			in:   "<p>Tom &amp; Jerry &lt;3 &quot;siempre&quot;</p>",
			want: "Tom & Jerry <3 \"siempre\"",
		},
		{
			name: "nested inline tags",
			in:   "<p>Era <strong>muy</strong> <em>feliz</em>.</p>",
			want: "Era muy feliz.",
		},
		{
			name: "lists and headings",
			in:   "<h2>Recuerdos</h2><ul><li>uno</li><li>dos</li></ul>",
			want: "Recuerdos\n\n- uno\n- dos",
		},
		{
			name: "script dropped",
			in:   "<p>antes</p><script>alert(1)</script><p>después</p>",
			want: "antes\n\ndespués",
		},
		{
			name: "plain text",
			in:   "sin etiquetas",
			want: "sin etiquetas",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HTMLToText(tt.in)
			if got != tt.want {
				t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if strings.ContainsAny(got, "<>") && !strings.Contains(tt.want, "<") {
				t.Errorf("output still contains markup: %q", got)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	tests := map[string]string{
		"María José Núñez": "narra-maria-jose-nunez-2026-03-09.zip",
		"../../etc/passwd": "narra-etc-passwd-2026-03-09.zip",
		"":                 "narra-historias-2026-03-09.zip",
		"***":              "narra-historias-2026-03-09.zip",
	}
	for in, want := range tests {
		if got := Filename(in, now); got != want {
			t.Errorf("Filename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuild(t *testing.T) {
	published := time.Date(2025, 12, 24, 0, 0, 0, 0, time.UTC)
	e := Export{
		Author:      Author{ID: "a1", Name: "Abuela Rosa"},
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Stories: []Story{
			{
				ID:          "s1",
				Title:       "La Navidad de 1962",
				Content:     "<p>Nevó toda la noche.</p><p>Cantamos<br>hasta tarde.</p>",
				Status:      StatusPublished,
				PublishedAt: &published,
				Tags:        []string{"familia"},
				Media:       []Media{{Type: "image", URL: "https://cdn.narra.test/1.jpg", Caption: "El árbol"}},
				Versions:    []Version{{Number: 1, Title: "Borrador", Content: "<p>Nevó.</p>"}},
			},
			{ID: "s2", Title: "Sin terminar", Content: "<p>Todavía…</p>", Status: StatusDraft},
		},
	}

	var buf bytes.Buffer
	if err := Build(&buf, e); err != nil {
		t.Fatalf("build: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = string(b)
	}

	story, ok := files["publicadas/001-la-navidad-de-1962.txt"]
	if !ok {
		t.Fatalf("missing published story, got files %v", keys(files))
	}
	if strings.Contains(story, "<p>") || strings.Contains(story, "<br>") {
		t.Error("story text should not contain HTML")
	}
	if !strings.Contains(story, "Nevó toda la noche.\n\nCantamos\nhasta tarde.") {
		t.Errorf("paragraph breaks not preserved:\n%s", story)
	}
	for _, want := range []string{"Estado: Publicada", "Etiquetas: familia", "https://cdn.narra.test/1.jpg (El árbol)", "Versión 1"} {
		if !strings.Contains(story, want) {
			t.Errorf("story missing %q", want)
		}
	}
	if _, ok := files["borradores/002-sin-terminar.txt"]; !ok {
		t.Errorf("missing draft story, got files %v", keys(files))
	}

	var m manifest
	if err := json.Unmarshal([]byte(files["metadata.json"]), &m); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if m.Published != 1 || m.Drafts != 1 || len(m.Stories) != 2 {
		t.Errorf("manifest = %+v", m)
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type fakeS3 struct {
	put       *s3.PutObjectInput
	body      []byte
	putErr    error
	presigned *s3.GetObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.presigned = in
	return &v4.PresignedHTTPRequest{URL: "https://s3.test/" + *in.Bucket + "/" + *in.Key + "?sig=1"}, nil
}

func TestS3StoreSave(t *testing.T) {
	fake := &fakeS3{}
	store := &S3Store{bucket: "exports", client: fake, presigner: fake}

	url, err := store.Save(context.Background(), "exports/a1/x.zip", "narra-rosa.zip", []byte("PK"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if url != "https://s3.test/exports/exports/a1/x.zip?sig=1" {
		t.Errorf("url = %q", url)
	}
	if string(fake.body) != "PK" {
		t.Errorf("body = %q", fake.body)
	}
	if got := *fake.put.ContentDisposition; got != `attachment; filename="narra-rosa.zip"` {
		t.Errorf("ContentDisposition = %q", got)
	}
}

func TestS3StoreSaveError(t *testing.T) {
	fake := &fakeS3{putErr: errors.New("access denied")}
	store := &S3Store{bucket: "exports", client: fake, presigner: fake}
	if _, err := store.Save(context.Background(), "k", "f.zip", nil); err == nil {
		t.Fatal("expected upload error")
	}
	if fake.presigned != nil {
		t.Error("should not presign after failed upload")
	}
}

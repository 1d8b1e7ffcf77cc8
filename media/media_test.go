package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/store"
	"github.com/jarcoal/httpmock"
)

type fakeUploader struct {
	mu    sync.Mutex
	files []client.Upload
}

func (f *fakeUploader) Upload(_ context.Context, file client.Upload) (client.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	id := 100 + len(f.files)
	return client.UploadedFile{ID: id, URL: "https://cms.test/uploads/" + file.Filename}, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testMediaConfig() config.MediaConfig {
	cfg := config.DefaultConfig().Media
	cfg.CacheSize = 8
	return cfg
}

func newTestMigrator(t *testing.T, mappings *store.MappingStore, uploader Uploader, transport http.RoundTripper, opts ...Option) *Migrator {
	t.Helper()
	opts = append([]Option{WithTransport(transport)}, opts...)
	m, err := NewMigrator(testMediaConfig(), "test-agent", uploader, mappings, opts...)
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	return m
}

func TestMigrateUploadsOnceAcrossRestarts(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.test/wp-content/uploads/blue-scarf.png",
		httpmock.NewBytesResponder(200, pngBytes(t)))

	mappings, err := store.NewMappingStore(t.TempDir())
	if err != nil {
		t.Fatalf("mapping store: %v", err)
	}
	uploader := &fakeUploader{}
	m := newTestMigrator(t, mappings, uploader, transport)

	req := Request{URL: "https://shop.test/wp-content/uploads/blue-scarf.png", MediaID: 7, Prefix: "product", Alt: "scarf"}
	first, err := m.Migrate(context.Background(), req)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if first.ID != 101 {
		t.Fatalf("asset = %+v", first)
	}
	if uploader.files[0].ContentType != "image/png" || uploader.files[0].Alt != "scarf" {
		t.Fatalf("upload = %+v", uploader.files[0])
	}

	if _, err := m.Migrate(context.Background(), req); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	reopened, err := store.NewMappingStore(mappings.Dir())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	restarted := newTestMigrator(t, reopened, uploader, transport)
	again, err := restarted.Migrate(context.Background(), req)
	if err != nil {
		t.Fatalf("migrate after restart: %v", err)
	}
	if again != first {
		t.Fatalf("asset after restart = %+v, want %+v", again, first)
	}
	if uploader.count() != 1 {
		t.Fatalf("uploads = %d, want 1", uploader.count())
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("downloads = %d, want 1", got)
	}
	if stats := m.Stats(); stats.Uploaded != 1 || stats.Reused != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestMigrateRejectsOversizedAsset(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.test/big.jpg",
		httpmock.NewBytesResponder(200, bytes.Repeat([]byte{0xff}, 64)))

	mappings, _ := store.NewMappingStore(t.TempDir())
	uploader := &fakeUploader{}
	cfg := testMediaConfig()
	cfg.MaxBytes = 32
	m, err := NewMigrator(cfg, "test-agent", uploader, mappings, WithTransport(transport))
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}

	_, err = m.Migrate(context.Background(), Request{URL: "https://shop.test/big.jpg"})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}
	if uploader.count() != 0 {
		t.Fatalf("oversized asset was uploaded")
	}
	if m.Stats().TooLarge != 1 {
		t.Fatalf("stats = %+v", m.Stats())
	}
}

func TestMigrateCollapsesConcurrentRequests(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.test/a.png", httpmock.NewBytesResponder(200, pngBytes(t)))

	mappings, _ := store.NewMappingStore(t.TempDir())
	uploader := &fakeUploader{}
	m := newTestMigrator(t, mappings, uploader, transport)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Migrate(context.Background(), Request{URL: "https://shop.test/a.png"}); err != nil {
				t.Errorf("migrate: %v", err)
			}
		}()
	}
	wg.Wait()

	if uploader.count() != 1 {
		t.Fatalf("uploads = %d, want 1", uploader.count())
	}
}

func TestMigrateDryRunNeverUploads(t *testing.T) {
	transport := httpmock.NewMockTransport()
	mappings, _ := store.NewMappingStore(t.TempDir())
	uploader := &fakeUploader{}
	m := newTestMigrator(t, mappings, uploader, transport, WithDryRun(true))

	asset, err := m.Migrate(context.Background(), Request{URL: "https://shop.test/a.png"})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if asset.ID != 0 || asset.URL != "https://shop.test/a.png" {
		t.Fatalf("asset = %+v", asset)
	}
	if uploader.count() != 0 || transport.GetTotalCallCount() != 0 {
		t.Fatalf("dry run touched the network")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		in    download
		url   string
		ext   string
		ctype string
		same  bool
	}{
		{
			name:  "png stays png",
			in:    download{data: pngBytes(t)},
			url:   "https://shop.test/a.png",
			ext:   ".png",
			ctype: "image/png",
		},
		{
			name:  "undecodable kept as is",
			in:    download{data: []byte("<svg/>"), contentType: "image/svg+xml"},
			url:   "https://shop.test/logo.svg",
			ext:   ".svg",
			ctype: "image/svg+xml",
			same:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize(tt.in, tt.url, 85)
			if got.ext != tt.ext || got.contentType != tt.ctype {
				t.Fatalf("normalize = %s %s, want %s %s", got.ext, got.contentType, tt.ext, tt.ctype)
			}
			if tt.same && !bytes.Equal(got.data, tt.in.data) {
				t.Fatalf("payload changed")
			}
		})
	}
}

func TestUniqueFilename(t *testing.T) {
	pattern := regexp.MustCompile(`^product-blue-scarf-[0-9a-f]{8}\.jpg$`)
	a := uniqueFilename("product", "https://shop.test/uploads/Blue%20Scarf.webp", ".jpg")
	b := uniqueFilename("product", "https://shop.test/uploads/Blue%20Scarf.webp", ".jpg")
	if !pattern.MatchString(a) {
		t.Fatalf("filename = %q", a)
	}
	if a == b {
		t.Fatalf("filenames are not unique: %q", a)
	}

	if got := uniqueFilename("", "https://shop.test/", ".png"); !strings.HasPrefix(got, "image-") {
		t.Fatalf("empty basename = %q", got)
	}
}

package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/aluiziolira/go-catalog-migrator/media"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

type fakeMedia struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeMedia) Migrate(_ context.Context, req media.Request) (media.Asset, error) {
	f.calls = append(f.calls, req.URL)
	if f.fail[req.URL] {
		return media.Asset{}, errors.New("download failed")
	}
	name := req.URL[strings.LastIndex(req.URL, "/")+1:]
	return media.Asset{ID: len(f.calls), URL: "https://cms.test/uploads/" + req.Prefix + "-" + name}, nil
}

type fakeMappings map[string]store.Record

func (f fakeMappings) Get(entity, externalID string) (store.Record, bool) {
	rec, ok := f[entity+"/"+externalID]
	return rec, ok
}

type fakeProducts struct {
	mapped   map[string]int
	imports  map[string]int
	imported []string
	depths   []int
}

func (f *fakeProducts) LookupSlug(slug string) (int, bool) {
	id, ok := f.mapped[slug]
	return id, ok
}

func (f *fakeProducts) ImportSlug(_ context.Context, slug string, depth int) (int, error) {
	f.imported = append(f.imported, slug)
	f.depths = append(f.depths, depth)
	if id, ok := f.imports[slug]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("product %q not found", slug)
}

func testContentConfig() config.ContentConfig {
	cfg := config.DefaultConfig().Content
	cfg.SourceHosts = []string{"shop.test"}
	return cfg
}

func TestLinkRewrite(t *testing.T) {
	mappings := fakeMappings{
		"blog-posts/42": {InternalID: 7, Metadata: map[string]any{"slug": "blue-scarf"}},
	}
	r := NewRewriter(testContentConfig(), nil, mappings)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "mapped post id",
			in:   `<a href="https://shop.test/?p=42">scarf</a>`,
			want: `<a href="/blue-scarf">scarf</a>`,
		},
		{
			name: "unmapped without slug stays",
			in:   `<a href="https://shop.test/?p=99">gone</a>`,
			want: `<a href="https://shop.test/?p=99">gone</a>`,
		},
		{
			name: "slug from last path segment",
			in:   `<a href="https://www.shop.test/2023/05/Winter-Guide/">guide</a>`,
			want: `<a href="/winter-guide">guide</a>`,
		},
		{
			name: "relative link",
			in:   `<a href='/care-tips/'>tips</a>`,
			want: `<a href='/care-tips'>tips</a>`,
		},
		{
			name: "external untouched",
			in:   `<a href="https://other.test/post">x</a>`,
			want: `<a href="https://other.test/post">x</a>`,
		},
		{
			name: "uploads untouched",
			in:   `<a href="https://shop.test/wp-content/uploads/a.pdf">pdf</a>`,
			want: `<a href="https://shop.test/wp-content/uploads/a.pdf">pdf</a>`,
		},
		{
			name: "unmapped product untouched",
			in:   `<a href="https://shop.test/product/red-hat/">hat</a>`,
			want: `<a href="https://shop.test/product/red-hat/">hat</a>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := r.Rewrite(context.Background(), tt.in, Options{Products: &fakeProducts{}})
			if err != nil {
				t.Fatalf("rewrite: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProductLinkRewrittenWhenMapped(t *testing.T) {
	r := NewRewriter(testContentConfig(), nil, fakeMappings{})
	products := &fakeProducts{mapped: map[string]int{"red-hat": 3}}

	in := `<p><a href="https://shop.test/product/red-hat/">hat</a></p>`
	got, report, err := r.Rewrite(context.Background(), in, Options{Products: products})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got != `<p><a href="/product/red-hat">hat</a></p>` {
		t.Fatalf("got %s", got)
	}
	if report.Links != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestImageRewrite(t *testing.T) {
	fm := &fakeMedia{fail: map[string]bool{"https://shop.test/broken.jpg": true}}
	r := NewRewriter(testContentConfig(), fm, fakeMappings{})

	in := `<img src="https://shop.test/a.jpg"><img src="/wp-content/b.png" alt="b">` +
		`<img src="https://shop.test/a.jpg"><img src="https://shop.test/broken.jpg">`
	got, report, err := r.Rewrite(context.Background(), in, Options{MediaPrefix: "blog"})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	want := `<img src="https://cms.test/uploads/blog-a.jpg"><img src="https://cms.test/uploads/blog-b.png" alt="b">` +
		`<img src="https://cms.test/uploads/blog-a.jpg"><img src="https://shop.test/broken.jpg">`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
	if len(fm.calls) != 3 {
		t.Fatalf("media calls = %v, want distinct sources only", fm.calls)
	}
	if report.Images != 2 || report.ImagesFailed != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func carouselHTML(slugs ...string) string {
	var b strings.Builder
	b.WriteString(`<div class="wrap product-carousel">`)
	for _, s := range slugs {
		b.WriteString(`<div class="item"><a href="https://shop.test/product/` + s + `/">` + s + `</a></div>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func TestCarouselCapsReferences(t *testing.T) {
	r := NewRewriter(testContentConfig(), nil, fakeMappings{})
	products := &fakeProducts{mapped: map[string]int{}}
	var slugs []string
	for i := 1; i <= 8; i++ {
		slug := fmt.Sprintf("p%d", i)
		slugs = append(slugs, slug)
		products.mapped[slug] = i * 10
	}

	in := `<p>before</p>` + carouselHTML(slugs...) + `<p>after</p>`
	got, report, err := r.Rewrite(context.Background(), in, Options{Products: products})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	want := `<p>before</p>[product-carousel ids="10,20,30,40,50,60"]<p>after</p>`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
	if report.Carousels != 1 || report.CarouselRefs != 6 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCarouselUnresolvedLeftUnchanged(t *testing.T) {
	r := NewRewriter(testContentConfig(), nil, fakeMappings{})
	products := &fakeProducts{}

	in := `<section>` + carouselHTML("missing-a", "missing-b") + `</section>`
	got, report, err := r.Rewrite(context.Background(), in, Options{Products: products})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got != in {
		t.Fatalf("body changed:\n%s\n%s", got, in)
	}
	if report.CarouselsSkipped != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(products.imported) != 2 || products.depths[0] != 1 {
		t.Fatalf("imports = %v depths = %v", products.imported, products.depths)
	}
}

func TestUnresolvedCarouselKeepsImagesAndLinks(t *testing.T) {
	fm := &fakeMedia{}
	r := NewRewriter(testContentConfig(), fm, fakeMappings{})
	products := &fakeProducts{mapped: map[string]int{"known": 5}}

	carousel := `<div class="product-carousel">` +
		`<img src="https://shop.test/inside.jpg">` +
		`<a href="https://shop.test/product/missing/">missing</a>` +
		`<a href="https://shop.test/some-post/">post</a>` +
		`</div>`

	in := `<p><img src="https://shop.test/outside.jpg"><a href="https://shop.test/product/known/">k</a></p>` + carousel
	got, report, err := r.Rewrite(context.Background(), in, Options{Products: products, MediaPrefix: "blog"})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	want := `<p><img src="https://cms.test/uploads/blog-outside.jpg"><a href="/product/known">k</a></p>` + carousel
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
	if len(fm.calls) != 1 || fm.calls[0] != "https://shop.test/outside.jpg" {
		t.Fatalf("media calls = %v", fm.calls)
	}
	if report.CarouselsSkipped != 1 || report.Images != 1 || report.Links != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCarouselOnDemandImportRespectsDepth(t *testing.T) {
	cfg := testContentConfig()
	cfg.MaxImportDepth = 1
	r := NewRewriter(cfg, nil, fakeMappings{})

	products := &fakeProducts{mapped: map[string]int{"known": 1}, imports: map[string]int{"fresh": 9}}
	got, _, err := r.Rewrite(context.Background(), carouselHTML("known", "fresh"), Options{Products: products})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got != `[product-carousel ids="1,9"]` {
		t.Fatalf("got %s", got)
	}

	products = &fakeProducts{mapped: map[string]int{"known": 1}, imports: map[string]int{"fresh": 9}}
	got, _, err = r.Rewrite(context.Background(), carouselHTML("known", "fresh"), Options{Products: products, Depth: 1})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got != `[product-carousel ids="1"]` || len(products.imported) != 0 {
		t.Fatalf("got %s imports %v", got, products.imported)
	}
}

func TestCarouselNestedUsesBalancedClose(t *testing.T) {
	r := NewRewriter(testContentConfig(), nil, fakeMappings{})
	products := &fakeProducts{mapped: map[string]int{"a": 1, "b": 2, "c": 3}}

	in := `<div class="product-carousel">` +
		`<a href="/product/a/">a</a>` +
		`<!-- </div> -->` +
		`<div class="product-carousel"><div><a href="/product/b/">b</a></div></div>` +
		`<a href="/product/c/">c</a>` +
		`</div><p>tail</p>`
	got, _, err := r.Rewrite(context.Background(), in, Options{Products: products})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got != `[product-carousel ids="1,2,3"]<p>tail</p>` {
		t.Fatalf("got %s", got)
	}
}

func TestFindContainersUnbalanced(t *testing.T) {
	in := `<div class="product-carousel"><div><a href="/product/a/">a</a></div>`
	spans, unbalanced := findContainers(in, "product-carousel")
	if len(spans) != 0 || unbalanced != 1 {
		t.Fatalf("spans = %v unbalanced = %d", spans, unbalanced)
	}

	r := NewRewriter(testContentConfig(), nil, fakeMappings{})
	got, _, err := r.Rewrite(context.Background(), in, Options{Products: &fakeProducts{mapped: map[string]int{"a": 1}}})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !strings.HasPrefix(got, `<div class="product-carousel">`) {
		t.Fatalf("unbalanced container was rewritten: %s", got)
	}
}

func TestHasClass(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`<div class="a product-carousel b">`, true},
		{`<div class='product-carousel'>`, true},
		{`<div class=product-carousel>`, true},
		{`<div class="product-carousel-item">`, false},
		{`<div data-class="product-carousel">`, false},
		{`<div id="x">`, false},
	}
	for _, tt := range tests {
		if got := hasClass(tt.raw, "product-carousel"); got != tt.want {
			t.Fatalf("hasClass(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

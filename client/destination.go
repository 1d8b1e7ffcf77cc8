package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-catalog-migrator/config"
)

// Entry is one destination record. Fields holds the record attributes with
// any nested "attributes" object flattened.
type Entry struct {
	ID     int
	Fields map[string]any
}

// String returns a field rendered as a string, or "".
func (e Entry) String(field string) string {
	v, ok := e.Fields[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Key is a natural key used to look up low-cardinality reference rows.
type Key struct {
	Field string
	Value string
}

// Upload is a file to push to the destination media library.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	Alt         string
}

// UploadedFile is a media library record.
type UploadedFile struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Role is a users-permissions role.
type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Destination is the CRUD writer for the content platform. Collection
// writes use the {"data": {...}} envelope.
type Destination struct {
	*Client
	mediaBase string
}

// NewDestination builds the destination writer authenticated with a bearer token.
func NewDestination(cfg config.ClientConfig, opts ...Option) (*Destination, error) {
	c, err := newClient("destination", cfg, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Token != "" {
		token := cfg.Token
		c.auth = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return &Destination{
		Client:    c,
		mediaBase: c.base.Scheme + "://" + c.base.Host,
	}, nil
}

// AbsoluteURL turns a relative upload URL into an absolute one.
func (d *Destination) AbsoluteURL(u string) string {
	if u == "" || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return d.mediaBase + "/" + strings.TrimPrefix(u, "/")
}

// Create posts a new record to collection.
func (d *Destination) Create(ctx context.Context, collection string, data any) (Entry, error) {
	resp, err := d.do(ctx, http.MethodPost, collection, nil, jsonBody(map[string]any{"data": data}))
	if err != nil {
		return Entry{}, fmt.Errorf("create %s: %w", collection, err)
	}
	return firstEntry(collection, resp.Body)
}

// Update replaces fields of an existing record.
func (d *Destination) Update(ctx context.Context, collection string, id int, data any) (Entry, error) {
	path := fmt.Sprintf("%s/%d", collection, id)
	resp, err := d.do(ctx, http.MethodPut, path, nil, jsonBody(map[string]any{"data": data}))
	if err != nil {
		return Entry{}, fmt.Errorf("update %s: %w", path, err)
	}
	return firstEntry(collection, resp.Body)
}

// Get reads one record by id.
func (d *Destination) Get(ctx context.Context, collection string, id int) (Entry, error) {
	path := fmt.Sprintf("%s/%d", collection, id)
	resp, err := d.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", path, err)
	}
	return firstEntry(collection, resp.Body)
}

// Find returns records whose fields equal the given values.
func (d *Destination) Find(ctx context.Context, collection string, keys []Key, limit int) ([]Entry, error) {
	query := url.Values{}
	for _, k := range keys {
		query.Set(fmt.Sprintf("filters[%s][$eq]", k.Field), k.Value)
	}
	if limit > 0 {
		query.Set("pagination[pageSize]", strconv.Itoa(limit))
	}
	resp, err := d.do(ctx, http.MethodGet, collection, query, nil)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	entries, err := decodeEntries(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return entries, nil
}

// FindOne returns the first record whose field equals value.
func (d *Destination) FindOne(ctx context.Context, collection, field, value string) (Entry, bool, error) {
	entries, err := d.Find(ctx, collection, []Key{{Field: field, Value: value}}, 1)
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[0], true, nil
}

// FindOrCreate queries each natural key in order and returns the first
// match. Otherwise it creates the record. A failed create is followed by one
// more lookup, which absorbs a concurrent creation of the same row.
func (d *Destination) FindOrCreate(ctx context.Context, collection string, keys []Key, data any) (Entry, bool, error) {
	if entry, ok, err := d.FindAny(ctx, collection, keys); err != nil {
		return Entry{}, false, err
	} else if ok {
		return entry, false, nil
	}

	entry, createErr := d.Create(ctx, collection, data)
	if createErr == nil {
		return entry, true, nil
	}

	if entry, ok, err := d.FindAny(ctx, collection, keys); err == nil && ok {
		slog.Debug("reference row created concurrently",
			slog.String("collection", collection),
			slog.Int("id", entry.ID),
		)
		return entry, false, nil
	}
	return Entry{}, false, createErr
}

// FindAny is the lookup half of FindOrCreate: the first record matching any
// natural key, queried in order. Empty key values are skipped.
func (d *Destination) FindAny(ctx context.Context, collection string, keys []Key) (Entry, bool, error) {
	for _, k := range keys {
		if k.Value == "" {
			continue
		}
		entry, ok, err := d.FindOne(ctx, collection, k.Field, k.Value)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

// CreateUser creates a users-permissions user. That endpoint takes and
// returns bare objects, without the data envelope.
func (d *Destination) CreateUser(ctx context.Context, user map[string]any) (Entry, error) {
	resp, err := d.do(ctx, http.MethodPost, "/users", nil, jsonBody(user))
	if err != nil {
		return Entry{}, fmt.Errorf("create user: %w", err)
	}
	return firstEntry("/users", resp.Body)
}

// Roles lists users-permissions roles.
func (d *Destination) Roles(ctx context.Context) ([]Role, error) {
	resp, err := d.do(ctx, http.MethodGet, "/users-permissions/roles", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	var out struct {
		Roles []Role `json:"roles"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return out.Roles, nil
}

// Upload pushes one file to the media library.
func (d *Destination) Upload(ctx context.Context, file Upload) (UploadedFile, error) {
	payload := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, file.Filename))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}

		info, err := json.Marshal(map[string]string{
			"name":            file.Filename,
			"alternativeText": file.Alt,
		})
		if err != nil {
			return nil, "", err
		}
		if err := w.WriteField("fileInfo", string(info)); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}

	resp, err := d.do(ctx, http.MethodPost, "/upload", nil, payload)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("upload %s: %w", file.Filename, err)
	}

	var files []UploadedFile
	if err := json.Unmarshal(resp.Body, &files); err != nil {
		return UploadedFile{}, fmt.Errorf("decode upload response: %w", err)
	}
	if len(files) == 0 || files[0].ID == 0 {
		return UploadedFile{}, fmt.Errorf("upload %s: empty response", file.Filename)
	}
	uploaded := files[0]
	uploaded.URL = d.AbsoluteURL(uploaded.URL)
	return uploaded, nil
}

func firstEntry(collection string, data []byte) (Entry, error) {
	entries, err := decodeEntries(data)
	if err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", collection, err)
	}
	if len(entries) == 0 || entries[0].ID == 0 {
		return Entry{}, fmt.Errorf("decode %s: response carried no record id", collection)
	}
	return entries[0], nil
}

// decodeEntries accepts {"data": {...}}, {"data": [...]}, bare arrays and
// bare objects.
func decodeEntries(data []byte) ([]Entry, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	if obj, ok := raw.(map[string]any); ok {
		if inner, has := obj["data"]; has {
			raw = inner
		}
	}

	switch t := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]Entry, 0, len(t))
		for _, item := range t {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, toEntry(obj))
			}
		}
		return out, nil
	case map[string]any:
		return []Entry{toEntry(t)}, nil
	default:
		return nil, fmt.Errorf("unexpected response shape %T", raw)
	}
}

func toEntry(obj map[string]any) Entry {
	fields := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == "attributes" {
			if attrs, ok := v.(map[string]any); ok {
				for ak, av := range attrs {
					fields[ak] = plainNumber(av)
				}
				continue
			}
		}
		fields[k] = plainNumber(v)
	}
	id := 0
	if n, ok := obj["id"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			id = int(v)
		}
	}
	return Entry{ID: id, Fields: fields}
}

func plainNumber(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

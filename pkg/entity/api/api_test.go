package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/api"
	"github.com/tendant/simple-entity/pkg/entity/repo/memory"
	memorystorage "github.com/tendant/simple-entity/pkg/entity/storage/memory"
)

type Book struct {
	entity.Tracked
	ID           int64          `entity:"ID,pk" json:"id"`
	Title        string         `entity:"NAME,name" json:"title"`
	IsShow       bool           `entity:"ACTIVE,active" json:"is_show"`
	Author       string         `entity:"author" json:"author"`
	PagesNum     int            `entity:"pages_num" json:"pages_num"`
	IsBestseller bool           `entity:"is_bestseller" json:"is_bestseller"`
	Cover        entity.FileRef `entity:"cover" json:"cover,omitempty"`
}

type fixture struct {
	repo   *memory.Repository
	mapper *entity.Mapper
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	m, err := entity.New(
		entity.WithRepository(repo),
		entity.WithBlobStore("memory", memorystorage.New()),
	)
	require.NoError(t, err)
	_, err = entity.BuildSchema[Book](context.Background(), m)
	require.NoError(t, err)

	r := chi.NewRouter()
	api.Mount[Book](r, "/books", m, nil)
	r.Mount("/files", api.NewFilesHandler(m, nil).Routes())
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &fixture{repo: repo, mapper: m, server: server}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) create(t *testing.T, body string) Book {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/books", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var b Book
	require.NoError(t, json.Unmarshal(data, &b))
	return b
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body api.ErrorBody
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Error.Code
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)

	created := f.create(t, `{"title":"Остров сокровищ","is_show":true,"author":"Р. Л. Стивенсон","pages_num":350,"is_bestseller":true}`)
	require.NotZero(t, created.ID)

	resp, data := f.do(t, http.MethodGet, "/books/"+itoa(created.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got Book
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Остров сокровищ", got.Title)
	assert.Equal(t, 350, got.PagesNum)
	assert.True(t, got.IsBestseller)
}

func TestCreate_RejectsID(t *testing.T) {
	f := newFixture(t)
	resp, data := f.do(t, http.MethodPost, "/books", `{"id":7,"title":"Kidnapped"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, data))
}

func TestCreate_InvalidJSON(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/books", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)

	resp, data := f.do(t, http.MethodGet, "/books/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))

	resp, _ = f.do(t, http.MethodGet, "/books/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdate_WritesOnlyChangedFields(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, `{"title":"Treasure Island","is_show":true,"author":"Robert Louis Stevenson","pages_num":292}`)

	resp, data := f.do(t, http.MethodPut, "/books/"+itoa(created.ID), `{"id":12345,"pages_num":311}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var updated Book
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 311, updated.PagesNum)
	assert.Equal(t, "Treasure Island", updated.Title)

	el, err := f.repo.GetElement(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "311", el.Property("pages_num"))
	assert.Equal(t, "Robert Louis Stevenson", el.Property("author"))

	resp, _ = f.do(t, http.MethodPut, "/books/999", `{"pages_num":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.create(t, `{"title":"Treasure Island","is_show":true,"author":"Robert Louis Stevenson","pages_num":292,"is_bestseller":true}`)
	f.create(t, `{"title":"Dracula","is_show":true,"author":"Bram Stoker","pages_num":418,"is_bestseller":true}`)
	f.create(t, `{"title":"Kidnapped","author":"R. L. Stevenson","pages_num":35}`)

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"all", "", []string{"Treasure Island", "Dracula", "Kidnapped"}},
		{"substring", "?q=" + urlq(`author % "stevenson"`), []string{"Treasure Island", "Kidnapped"}},
		{"ordered", "?q=" + urlq(`isBestseller = true order by pagesNum desc`), []string{"Dracula", "Treasure Island"}},
		{"limited", "?limit=2", []string{"Treasure Island", "Dracula"}},
		{"empty", "?q=" + urlq(`author = "Nobody"`), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := f.do(t, http.MethodGet, "/books"+tt.query, "")
			require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
			var list api.ListResponse[Book]
			require.NoError(t, json.Unmarshal(data, &list))
			names := make([]string, 0, len(list.Items))
			for _, b := range list.Items {
				names = append(names, b.Title)
			}
			assert.Equal(t, tt.expected, names)
			assert.Equal(t, len(tt.expected), list.Count)
		})
	}
}

func TestList_BadQuery(t *testing.T) {
	f := newFixture(t)

	for _, q := range []string{`author ~ "x"`, `publisher = "Cassell"`, `pagesNum = "many"`} {
		resp, data := f.do(t, http.MethodGet, "/books?q="+urlq(q), "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Equal(t, "invalid_query", errorCode(t, data), q)
	}

	resp, _ := f.do(t, http.MethodGet, "/books?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFiles(t *testing.T) {
	f := newFixture(t)
	content := []byte("\x89PNG fake cover bytes")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("scope", "books"))
	part, err := mw.CreateFormFile("file", "cover.png")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.server.URL+"/files", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var file api.FileResponse
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Equal(t, "cover.png", file.FileName)
	assert.Equal(t, int64(len(content)), file.Size)
	assert.Equal(t, entity.ChecksumAlgorithm, file.ChecksumAlgorithm)

	resp, downloaded := f.do(t, http.MethodGet, "/files/"+itoa(file.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, content, downloaded)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "cover.png")

	resp, _ = f.do(t, http.MethodGet, "/files/"+itoa(file.ID)+"/info", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	created := f.create(t, `{"title":"Treasure Island","cover":`+itoa(file.ID)+`}`)
	assert.Equal(t, entity.FileRef(file.ID), created.Cover)

	resp, _ = f.do(t, http.MethodGet, "/files/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFiles_MissingPart(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("scope", "books"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.server.URL+"/files", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequireJWT(t *testing.T) {
	ja := api.NewJWTAuth("test-secret")
	r := chi.NewRouter()
	r.With(api.RequireJWT(ja)).Get("/private", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	resp, err := http.Get(server.URL + "/private")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := api.IssueToken(ja, "librarian", time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, server.URL+"/private", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	other, err := api.IssueToken(api.NewJWTAuth("another-secret"), "librarian", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+other)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

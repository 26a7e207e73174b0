package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbridge/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("TEST-TOKEN", "42")
	c.baseURL = srv.URL
	return c
}

func okResponse(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{
		"ok":     true,
		"result": result,
	})
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTEST-TOKEN/getMe", r.URL.Path)
		okResponse(w, map[string]any{"id": 7, "username": "bridge_bot"})
	})

	username, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bridge_bot", username)
}

func TestTestConnectionRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  401,
			"description": "Unauthorized",
		})
	})

	_, err := c.TestConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestSendText(t *testing.T) {
	var gotPath string
	var gotForm map[string]string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"chat_id":    r.PostFormValue("chat_id"),
			"text":       r.PostFormValue("text"),
			"parse_mode": r.PostFormValue("parse_mode"),
		}
		okResponse(w, map[string]any{"message_id": 1})
	})

	err := c.SendText(context.Background(), "<b>hello</b>")
	require.NoError(t, err)

	assert.Equal(t, "/botTEST-TOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", gotForm["chat_id"])
	assert.Equal(t, "<b>hello</b>", gotForm["text"])
	assert.Equal(t, "HTML", gotForm["parse_mode"])
}

func TestSendTextAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
	})

	err := c.SendText(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Contains(t, err.Error(), "400")
}

func TestSendPhoto(t *testing.T) {
	var gotCaption, gotFilename string
	var gotPhoto []byte

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTEST-TOKEN/sendPhoto", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))

		gotCaption = r.FormValue("caption")
		assert.Equal(t, "42", r.FormValue("chat_id"))
		assert.Equal(t, "HTML", r.FormValue("parse_mode"))

		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		gotPhoto, err = io.ReadAll(file)
		require.NoError(t, err)

		okResponse(w, map[string]any{"message_id": 2})
	})

	photo := model.Image{Filename: "pic.png", Data: []byte{1, 2, 3}}
	err := c.SendPhoto(context.Background(), photo, "caption text")
	require.NoError(t, err)

	assert.Equal(t, "caption text", gotCaption)
	assert.Equal(t, "pic.png", gotFilename)
	assert.Equal(t, []byte{1, 2, 3}, gotPhoto)
}

func TestSendAlbum(t *testing.T) {
	var gotMedia []mediaItem

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTEST-TOKEN/sendMediaGroup", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.Equal(t, "42", r.FormValue("chat_id"))

		require.NoError(t, json.Unmarshal([]byte(r.FormValue("media")), &gotMedia))

		for i := range gotMedia {
			_, _, err := r.FormFile("photo" + strconv.Itoa(i))
			assert.NoError(t, err)
		}

		okResponse(w, []any{})
	})

	photos := []model.Image{
		{Filename: "a.png", Data: []byte{1}},
		{Filename: "b.png", Data: []byte{2}},
		{Filename: "c.png", Data: []byte{3}},
	}
	err := c.SendAlbum(context.Background(), photos, "album caption")
	require.NoError(t, err)

	require.Len(t, gotMedia, 3)
	for i, item := range gotMedia {
		assert.Equal(t, "photo", item.Type)
		assert.Contains(t, item.Media, "attach://photo")
		if i == 0 {
			assert.Equal(t, "album caption", item.Caption)
			assert.Equal(t, "HTML", item.ParseMode)
		} else {
			assert.Empty(t, item.Caption)
			assert.Empty(t, item.ParseMode)
		}
	}
}

func TestSendAlbumRequiresTwoPhotos(t *testing.T) {
	c := NewClient("TEST-TOKEN", "42")

	err := c.SendAlbum(context.Background(), []model.Image{{Filename: "a.png"}}, "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")
}

// Package telegram is a minimal Telegram Bot API client covering the
// calls the notification dispatcher needs: sendMessage, sendPhoto,
// sendMediaGroup, and getMe.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailbridge/internal/model"
)

const defaultBaseURL = "https://api.telegram.org"

// Client talks to the Telegram Bot API for a single bot and chat.
type Client struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Bot API client. The native http.Client picks up
// HTTP_PROXY/HTTPS_PROXY from the environment.
func NewClient(token, chatID string) *Client {
	return &Client{
		token:   token,
		chatID:  chatID,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiResponse is the uniform Bot API response envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// botUser is the subset of getMe's result the connectivity test reads.
type botUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// TestConnection calls getMe and returns the bot username on success.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getMe"), nil)
	if err != nil {
		return "", fmt.Errorf("creating getMe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling getMe: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading getMe response: %w", err)
	}

	var result struct {
		apiResponse
		Result botUser `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing getMe response: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("getMe failed: %s", result.Description)
	}

	return result.Result.Username, nil
}

// SendText sends an HTML-formatted text message to the configured chat.
func (c *Client) SendText(ctx context.Context, text string) error {
	form := url.Values{
		"chat_id":    {c.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.methodURL("sendMessage"),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("creating sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, "sendMessage")
}

// SendPhoto sends a single photo with an HTML caption.
func (c *Client) SendPhoto(ctx context.Context, photo model.Image, caption string) error {
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	if err := w.WriteField("chat_id", c.chatID); err != nil {
		return fmt.Errorf("writing chat_id: %w", err)
	}
	if err := w.WriteField("caption", caption); err != nil {
		return fmt.Errorf("writing caption: %w", err)
	}
	if err := w.WriteField("parse_mode", "HTML"); err != nil {
		return fmt.Errorf("writing parse_mode: %w", err)
	}

	fw, err := w.CreateFormFile("photo", photo.Filename)
	if err != nil {
		return fmt.Errorf("creating photo form file: %w", err)
	}
	if _, err := fw.Write(photo.Data); err != nil {
		return fmt.Errorf("writing photo content: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.methodURL("sendPhoto"), buf,
	)
	if err != nil {
		return fmt.Errorf("creating sendPhoto request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req, "sendPhoto")
}

// mediaItem mirrors the InputMediaPhoto objects of sendMediaGroup,
// referencing uploaded files via attach:// names.
type mediaItem struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendAlbum sends several photos as one media group. The caption is
// attached to the first item only, per the Bot API convention.
func (c *Client) SendAlbum(ctx context.Context, photos []model.Image, caption string) error {
	if len(photos) < 2 {
		return fmt.Errorf("album requires at least 2 photos, got %d", len(photos))
	}

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	media := make([]mediaItem, 0, len(photos))
	for i, photo := range photos {
		attachName := "photo" + strconv.Itoa(i)
		item := mediaItem{
			Type:  "photo",
			Media: "attach://" + attachName,
		}
		if i == 0 {
			item.Caption = caption
			item.ParseMode = "HTML"
		}
		media = append(media, item)

		fw, err := w.CreateFormFile(attachName, photo.Filename)
		if err != nil {
			return fmt.Errorf("creating form file %s: %w", attachName, err)
		}
		if _, err := fw.Write(photo.Data); err != nil {
			return fmt.Errorf("writing photo content %s: %w", attachName, err)
		}
	}

	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("marshaling media group: %w", err)
	}
	if err := w.WriteField("chat_id", c.chatID); err != nil {
		return fmt.Errorf("writing chat_id: %w", err)
	}
	if err := w.WriteField("media", string(mediaJSON)); err != nil {
		return fmt.Errorf("writing media field: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.methodURL("sendMediaGroup"), buf,
	)
	if err != nil {
		return fmt.Errorf("creating sendMediaGroup request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req, "sendMediaGroup")
}

// do executes a request and decodes the Bot API envelope. The bot
// token never appears in returned errors.
func (c *Client) do(req *http.Request, method string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, c.sanitize(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing %s response (status %d): %w",
			method, resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("%s failed (%d): %s",
			method, result.ErrorCode, result.Description)
	}

	return nil
}

// sanitize strips the bot token out of transport errors, which embed
// the request URL.
func (c *Client) sanitize(err error) error {
	msg := strings.ReplaceAll(err.Error(), c.token, "***")
	return fmt.Errorf("%s", msg)
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

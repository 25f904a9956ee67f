// Package telegram is a thin Bot API client covering the calls the chat
// layer needs: long polling, message and keyboard management, and media
// uploads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Bot API settings
const (
	defaultAPIBase = "https://api.telegram.org"

	// The HTTP timeout must exceed the long-poll window.
	pollSlack   = 10 * time.Second
	sendTimeout = 2 * time.Minute
	// Media uploads of large files need a wide bound.
	uploadTimeout = 15 * time.Minute

	parseMode = "HTML"
)

// Update is one long-poll event.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an incoming or sent chat message.
type Message struct {
	MessageID int    `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
	Text      string `json:"text"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
}

// CallbackQuery is a button press on an inline keyboard.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Button is one inline keyboard button; Data is the callback payload.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Client talks to the Telegram Bot API for one bot token.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	log          *zap.Logger
	apiBase      string
	token        string
}

// NewClient creates a client for the given bot token.
func NewClient(token string, log *zap.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: sendTimeout},
		uploadClient: &http.Client{Timeout: uploadTimeout},
		log:          log,
		apiBase:      defaultAPIBase,
		token:        token,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// GetUpdates long-polls for updates past offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message", "callback_query"},
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second+pollSlack)
	defer cancel()

	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendText sends a plain message and returns its message ID.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	return c.sendMessage(ctx, map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": parseMode,
	})
}

// SendButtons sends a message carrying an inline keyboard.
func (c *Client) SendButtons(ctx context.Context, chatID int64, text string, rows [][]Button) (int, error) {
	return c.sendMessage(ctx, map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"parse_mode":   parseMode,
		"reply_markup": map[string]any{"inline_keyboard": rows},
	})
}

// EditText replaces a message's text and drops any keyboard it had.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": parseMode,
	}, nil)
}

// EditButtons replaces a message's text and inline keyboard.
func (c *Client) EditButtons(ctx context.Context, chatID int64, messageID int, text string, rows [][]Button) error {
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"text":         text,
		"parse_mode":   parseMode,
		"reply_markup": map[string]any{"inline_keyboard": rows},
	}, nil)
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

func (c *Client) sendMessage(ctx context.Context, payload map[string]any) (int, error) {
	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendFile uploads a local media file, picking the API method from the
// file extension so audio gets an inline player.
func (c *Client) SendFile(ctx context.Context, chatID int64, path, caption string) error {
	method, field := sendMethod(path)

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeFileForm(mw, field, chatID, caption, in)
		mw.Close()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Debug("uploading media",
		zap.String("method", method), zap.String("file", filepath.Base(path)))

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(method, resp, nil)
}

func writeFileForm(mw *multipart.Writer, field string, chatID int64, caption string, in *os.File) error {
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(field, filepath.Base(in.Name()))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, in)
	return err
}

// sendMethod maps a file extension to the Bot API upload method and its
// form field name.
func sendMethod(path string) (method, field string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".m4a", ".flac":
		return "sendAudio", "audio"
	case ".mp4", ".webm":
		return "sendVideo", "video"
	default:
		return "sendDocument", "document"
	}
}

func (c *Client) call(ctx context.Context, method string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(method, resp, out)
}

func decodeAPIResponse(method string, resp *http.Response, out any) error {
	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !ar.OK {
		return fmt.Errorf("%s: api error: %s", method, ar.Description)
	}
	if out != nil {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) methodURL(method string) string {
	return c.apiBase + "/bot" + c.token + "/" + method
}

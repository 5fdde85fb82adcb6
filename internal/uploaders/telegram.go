package uploaders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramUploader posts the video to a channel through the Bot API sendVideo
// method.
type TelegramUploader struct {
	botToken string
	chatID   int64
	apiBase  string
	client   *http.Client
}

func NewTelegramUploader(botToken string, chatID int64) *TelegramUploader {
	return &TelegramUploader{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// SetChatID changes the target channel, e.g. after /setchat in the bot.
func (t *TelegramUploader) SetChatID(chatID int64) {
	t.chatID = chatID
}

func (t *TelegramUploader) Platform() string {
	return "telegram"
}

func (t *TelegramUploader) fail(msg string, err error) (*UploadResult, error) {
	return &UploadResult{Platform: "telegram", Error: msg}, err
}

func (t *TelegramUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if t.botToken == "" {
		return t.fail("missing bot token", fmt.Errorf("TELEGRAM_BOT_TOKEN not set"))
	}
	if t.chatID == 0 {
		return t.fail("missing chat id", fmt.Errorf("POSTS_CHAT_ID not set"))
	}

	f, err := os.Open(req.VideoPath)
	if err != nil {
		return t.fail(fmt.Sprintf("open video: %v", err), err)
	}
	defer f.Close()

	caption := req.Caption
	if caption == "" {
		caption = req.Title
	}

	// Stream the multipart body so long videos are not held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			_ = mw.WriteField("chat_id", strconv.FormatInt(t.chatID, 10))
			_ = mw.WriteField("caption", caption)
			_ = mw.WriteField("supports_streaming", "true")
			part, err := mw.CreateFormFile("video", filepath.Base(req.VideoPath))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	url := fmt.Sprintf("%s/bot%s/sendVideo", t.apiBase, t.botToken)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return t.fail(fmt.Sprintf("create request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return t.fail(fmt.Sprintf("request failed: %v", err), err)
	}
	defer resp.Body.Close()

	var result struct {
		Ok          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
		Result      struct {
			MessageID int `json:"message_id"`
			Chat      struct {
				Username string `json:"username"`
			} `json:"chat"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return t.fail(fmt.Sprintf("parse response: %v", err), err)
	}
	if !result.Ok {
		msg := fmt.Sprintf("error %d: %s", result.ErrorCode, result.Description)
		return t.fail(msg, fmt.Errorf("telegram post failed: %s", msg))
	}

	res := &UploadResult{
		Success:  true,
		Platform: "telegram",
		Details:  map[string]string{"message_id": strconv.Itoa(result.Result.MessageID)},
	}
	if u := result.Result.Chat.Username; u != "" {
		res.URL = fmt.Sprintf("https://t.me/%s/%d", u, result.Result.MessageID)
	}
	return res, nil
}

// Package bot accepts generate requests and reports job state over Telegram.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
)

const (
	jobsListed  = 10
	errorsTail  = 20
	maxDocBytes = 1 << 20
)

// Jobs is the scheduler surface the bot drives.
type Jobs interface {
	Submit(trigger string, raw []byte) (model.Job, error)
	Job(id string) (model.Job, bool)
	Jobs() []model.Job
	LastError() error
}

type TelegramBot struct {
	tg         *tgbotapi.BotAPI
	token      string
	jobs       Jobs
	log        *logging.Logger
	errorsPath string
	client     *http.Client

	// job id -> chat that asked for it
	mu      sync.Mutex
	waiters map[string]int64
}

func NewTelegramBot(token string, jobs Jobs, log *logging.Logger, errorsPath string) (*TelegramBot, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is empty")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = false
	return newBot(api, token, jobs, log, errorsPath), nil
}

func newBot(api *tgbotapi.BotAPI, token string, jobs Jobs, log *logging.Logger, errorsPath string) *TelegramBot {
	return &TelegramBot{
		tg:         api,
		token:      token,
		jobs:       jobs,
		log:        log,
		errorsPath: errorsPath,
		client:     &http.Client{Timeout: 30 * time.Second},
		waiters:    map[string]int64{},
	}
}

func (b *TelegramBot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.tg.GetUpdatesChan(u)
	b.log.Infof("telegram bot started as @%s", b.tg.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.tg.StopReceivingUpdates()
			return nil
		case upd := <-updates:
			msg := upd.Message
			switch {
			case msg == nil:
			case msg.IsCommand():
				b.handleCommand(msg)
			case msg.Document != nil && commandOf(msg.Caption) == "generate":
				b.handleConfigDocument(ctx, msg)
			}
		}
	}
}

func commandOf(s string) string {
	if !strings.HasPrefix(s, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(strings.TrimPrefix(s, "/"), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.replyText(chatID, b.respond(chatID, msg.Command(), strings.TrimSpace(msg.CommandArguments())))
}

// respond runs one command and returns the reply text.
func (b *TelegramBot) respond(chatID int64, cmd, args string) string {
	switch cmd {
	case "start", "help":
		return helpText
	case "generate":
		return b.cmdGenerate(chatID, []byte(args))
	case "status":
		return b.cmdStatus(args)
	case "jobs":
		return b.cmdJobs()
	case "errors":
		return b.cmdErrors()
	case "chatid":
		return fmt.Sprintf("Chat ID: %d", chatID)
	default:
		return "Unknown command. /help lists what I can do."
	}
}

const helpText = `Commands:
/generate [config] - render a story video; the config is YAML or JSON after the command or a document captioned /generate, the default config is used when empty
/status [job id] - state of a job, the latest one by default
/jobs - the last 10 jobs
/errors - the tail of errors.log
/chatid - this chat's id`

func (b *TelegramBot) cmdGenerate(chatID int64, raw []byte) string {
	job, err := b.jobs.Submit("telegram", raw)
	if err != nil {
		var verr *internal.ValidationError
		if errors.As(err, &verr) {
			return "❌ Invalid config:\n" + strings.Join(lo.Map(verr.Issues, func(s string, _ int) string { return "• " + s }), "\n")
		}
		return "❌ " + err.Error()
	}
	b.mu.Lock()
	b.waiters[job.ID] = chatID
	b.mu.Unlock()
	return fmt.Sprintf("🎬 Job %s queued. I will post here when it finishes.", job.ID)
}

func (b *TelegramBot) cmdStatus(id string) string {
	if id == "" {
		all := b.jobs.Jobs()
		if len(all) == 0 {
			return "No jobs yet."
		}
		return formatJob(all[0])
	}
	job, ok := b.jobs.Job(id)
	if !ok {
		return "Job not found: " + id
	}
	return formatJob(job)
}

func (b *TelegramBot) cmdJobs() string {
	all := b.jobs.Jobs()
	if len(all) == 0 {
		return "No jobs yet."
	}
	lines := lo.Map(all[:min(len(all), jobsListed)], func(j model.Job, _ int) string {
		title := j.Title
		if title == "" {
			title = "-"
		}
		return fmt.Sprintf("%s %s %s %s", statusIcon(j.Status), j.ID[:min(8, len(j.ID))], j.CreatedAt.Format("01-02 15:04"), title)
	})
	return fmt.Sprintf("📋 %d jobs, latest first:\n%s", len(all), strings.Join(lines, "\n"))
}

func (b *TelegramBot) cmdErrors() string {
	lines, err := tailLines(b.errorsPath, errorsTail)
	if err != nil {
		b.log.Errorf("read %s: %v", b.errorsPath, err)
		return "❌ Could not read errors.log"
	}
	if len(lines) == 0 {
		if last := b.jobs.LastError(); last != nil {
			return "📋 errors.log is empty. Last job error: " + last.Error()
		}
		return "📋 errors.log is empty"
	}
	return "📋 errors.log:\n" + strings.Join(lines, "\n")
}

func statusIcon(s model.JobStatus) string {
	switch s {
	case model.JobDone:
		return "✅"
	case model.JobFailed:
		return "❌"
	case model.JobRunning:
		return "⏳"
	default:
		return "🕒"
	}
}

func formatJob(j model.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Job %s: %s\n", statusIcon(j.Status), j.ID, j.Status)
	if j.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", j.Title)
	}
	if !j.FinishedAt.IsZero() && !j.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "Took: %s\n", j.FinishedAt.Sub(j.StartedAt).Round(time.Second))
	}
	if j.Output != "" {
		fmt.Fprintf(&sb, "Output: %s\n", j.Output)
	}
	for _, u := range j.Uploads {
		if u.Error != "" {
			fmt.Fprintf(&sb, "%s: failed (%s)\n", u.Platform, u.Error)
		} else {
			fmt.Fprintf(&sb, "%s: %s\n", u.Platform, lo.Ternary(u.URL != "", u.URL, "ok"))
		}
	}
	if j.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", j.Error)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// JobFinished tells the chat that submitted the job how it ended.
func (b *TelegramBot) JobFinished(j model.Job) {
	b.mu.Lock()
	chatID, ok := b.waiters[j.ID]
	delete(b.waiters, j.ID)
	b.mu.Unlock()
	if !ok || b.tg == nil {
		return
	}
	b.replyText(chatID, formatJob(j))
}

func (b *TelegramBot) handleConfigDocument(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if msg.Document.FileSize > maxDocBytes {
		b.replyText(chatID, "❌ Config document is too large")
		return
	}
	file, err := b.tg.GetFile(tgbotapi.FileConfig{FileID: msg.Document.FileID})
	if err != nil {
		b.log.Errorf("telegram get file: %v", err)
		b.replyText(chatID, fmt.Sprintf("❌ Download failed: %v", err))
		return
	}
	raw, err := b.download(ctx, file.Link(b.token))
	if err != nil {
		b.log.Errorf("telegram download %s: %v", msg.Document.FileName, err)
		b.replyText(chatID, fmt.Sprintf("❌ Download failed: %v", err))
		return
	}
	b.replyText(chatID, b.cmdGenerate(chatID, raw))
}

func (b *TelegramBot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocBytes))
}

func (b *TelegramBot) replyText(chatID int64, text string) int {
	m := tgbotapi.NewMessage(chatID, text)
	sent, err := b.tg.Send(m)
	if err != nil {
		b.log.Errorf("telegram send: %v", err)
	}
	return sent.MessageID
}

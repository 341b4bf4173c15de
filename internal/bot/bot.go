package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-reminder/internal/model"
	"task-reminder/internal/repository"
	"task-reminder/internal/service"
)

const (
	cbDonePrefix   = "done:"
	cbUndoPrefix   = "undo:"
	cbSkipPrefix   = "skip:"
	cbDeletePrefix = "delete:"
)

type confirmationAction int

const (
	actionDelete confirmationAction = iota
	actionStop
)

type confirmationRequest struct {
	taskID uint
	date   civil.Date
	action confirmationAction
}

// Bot is the Telegram surface of the reminder service.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	taskSvc       *service.TaskService
	occurrenceSvc *service.OccurrenceService
	loc           *time.Location
	log           *slog.Logger
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, taskSvc *service.TaskService, occurrenceSvc *service.OccurrenceService, loc *time.Location, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info("bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      userRepo,
		taskSvc:       taskSvc,
		occurrenceSvc: occurrenceSvc,
		loc:           loc,
		log:           log,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Error("handle callback", "err", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Error("handle message", "err", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ 入力を取り消しました。")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.log.Info("command", "from", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "メッセージを理解できませんでした。/newtask でタスクを追加、/help でコマンド一覧を表示します。")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "today":
		return b.handleToday(ctx, msg)
	case "done":
		return b.handleCompletion(ctx, msg, true)
	case "undo":
		return b.handleCompletion(ctx, msg, false)
	case "skip":
		return b.handleSkip(ctx, msg)
	case "stop":
		return b.handleStop(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ 入力を取り消しました。")
	default:
		return b.sendText(msg.Chat.ID, "未対応のコマンドです。/help を確認してください。")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "ゲスト"
	}

	text := fmt.Sprintf("👋 こんにちは、%sさん！\n<b>さくっとタスクのリマインダーです。</b>\n\n%s", escape(name), helpText)
	return b.sendText(msg.Chat.ID, text)
}

const helpText = "• /newtask — タスクを追加\n" +
	"• /today [YYYY-MM-DD] — その日のタスク\n" +
	"• /done &lt;id&gt; [日付] — 完了にする\n" +
	"• /undo &lt;id&gt; [日付] — 完了を取り消す\n" +
	"• /skip &lt;id&gt; &lt;日付&gt; — 繰り返しのこの回だけ削除\n" +
	"• /stop &lt;id&gt; &lt;日付&gt; — 繰り返しのこの日以降を削除\n" +
	"• /delete &lt;id&gt; — タスクを完全に削除\n" +
	"• /cancel — 入力を取り消す"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>コマンド</b>\n"+helpText)
}

func (b *Bot) handleToday(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	date := b.today()
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		parsed, err := civil.ParseDate(arg)
		if err != nil {
			return b.sendText(msg.Chat.ID, "日付は <code>2025-11-30</code> の形式で指定してください。")
		}
		date = parsed
	}
	return b.sendDay(ctx, msg.Chat.ID, user, date)
}

func (b *Bot) handleCompletion(ctx context.Context, msg *tgbotapi.Message, completed bool) error {
	taskID, date, err := parseTaskArgs(msg.CommandArguments(), b.today(), false)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("使い方: /%s &lt;id&gt; [YYYY-MM-DD]", msg.Command()))
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.setCompletion(ctx, msg.Chat.ID, user, taskID, date, completed)
}

func (b *Bot) handleSkip(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, date, err := parseTaskArgs(msg.CommandArguments(), b.today(), true)
	if err != nil {
		return b.sendText(msg.Chat.ID, "使い方: /skip &lt;id&gt; &lt;YYYY-MM-DD&gt;")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.skipOccurrence(ctx, msg.Chat.ID, user, taskID, date)
}

func (b *Bot) handleStop(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, date, err := parseTaskArgs(msg.CommandArguments(), b.today(), true)
	if err != nil {
		return b.sendText(msg.Chat.ID, "使い方: /stop &lt;id&gt; &lt;YYYY-MM-DD&gt;")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	detail, err := b.taskSvc.Get(ctx, user.ID, taskID)
	if err != nil {
		return b.sendServiceError(msg.Chat.ID, err)
	}

	text := fmt.Sprintf("「%s」(#%d) の %s 以降の予定を削除しますか？", escape(detail.Title), detail.ID, formatDate(date))
	b.setConfirmation(msg.From.ID, confirmationRequest{taskID: taskID, date: date, action: actionStop})
	return b.sendWithReplyMarkup(msg.Chat.ID, text, confirmKeyboard())
}

// handleDelete asks before removing a task with its whole series.
func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, _, err := parseTaskArgs(msg.CommandArguments(), b.today(), false)
	if err != nil {
		return b.sendText(msg.Chat.ID, "使い方: /delete &lt;id&gt;")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.askDeleteConfirmation(ctx, msg.Chat.ID, msg.From.ID, user, taskID)
}

func (b *Bot) askDeleteConfirmation(ctx context.Context, chatID, fromID int64, user *model.User, taskID uint) error {
	detail, err := b.taskSvc.Get(ctx, user.ID, taskID)
	if err != nil {
		return b.sendServiceError(chatID, err)
	}

	text := fmt.Sprintf("タスク「%s」(#%d) を削除しますか？", escape(detail.Title), detail.ID)
	if detail.Recurrence != nil {
		text += "\n繰り返しの予定もすべて削除されます。"
	}
	b.setConfirmation(fromID, confirmationRequest{taskID: taskID, action: actionDelete})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		user, err := b.ensureUser(ctx, msg.From)
		if err != nil {
			return err
		}
		if req.action == actionStop {
			date := req.date
			if err := b.taskSvc.Delete(ctx, user.ID, req.taskID, service.DeleteFutureAll, &date); err != nil {
				return b.sendServiceError(msg.Chat.ID, err)
			}
			b.log.Info("series stopped", "task_id", req.taskID, "user_id", user.ID, "from", date.String())
			return b.sendText(msg.Chat.ID, fmt.Sprintf("🛑 #%d の %s 以降の予定を削除しました。", req.taskID, formatDate(date)))
		}
		if err := b.taskSvc.Delete(ctx, user.ID, req.taskID, service.DeleteAll, nil); err != nil {
			return b.sendServiceError(msg.Chat.ID, err)
		}
		b.log.Info("task deleted", "task_id", req.taskID, "user_id", user.ID)
		return b.sendText(msg.Chat.ID, fmt.Sprintf("🗑 #%d を削除しました。", req.taskID))
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "「確認」か「戻る」を選んでください。", confirmKeyboard())
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", "err", err)
	}

	prefix, taskID, date, err := parseCallback(cb.Data)
	if err != nil {
		return nil
	}
	b.log.Info("callback", "from", cb.From.ID, "action", prefix, "task_id", taskID, "date", date.String())

	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	chatID := cb.Message.Chat.ID

	switch prefix {
	case cbDonePrefix:
		return b.setCompletion(ctx, chatID, user, taskID, date, true)
	case cbUndoPrefix:
		return b.setCompletion(ctx, chatID, user, taskID, date, false)
	case cbSkipPrefix:
		return b.skipOccurrence(ctx, chatID, user, taskID, date)
	case cbDeletePrefix:
		return b.askDeleteConfirmation(ctx, chatID, cb.From.ID, user, taskID)
	default:
		return nil
	}
}

func (b *Bot) setCompletion(ctx context.Context, chatID int64, user *model.User, taskID uint, date civil.Date, completed bool) error {
	if err := b.taskSvc.SetCompletion(ctx, user.ID, taskID, date, completed); err != nil {
		return b.sendServiceError(chatID, err)
	}
	b.log.Info("completion set", "task_id", taskID, "user_id", user.ID, "date", date.String(), "completed", completed)
	return b.sendDay(ctx, chatID, user, date)
}

func (b *Bot) skipOccurrence(ctx context.Context, chatID int64, user *model.User, taskID uint, date civil.Date) error {
	if err := b.taskSvc.Delete(ctx, user.ID, taskID, service.DeleteThisOnly, &date); err != nil {
		return b.sendServiceError(chatID, err)
	}
	b.log.Info("occurrence skipped", "task_id", taskID, "user_id", user.ID, "date", date.String())
	return b.sendDay(ctx, chatID, user, date)
}

// SendDailyDigests sends today's list to every linked chat.
func (b *Bot) SendDailyDigests(ctx context.Context) error {
	users, err := b.userRepo.ListTelegramUsers(ctx)
	if err != nil {
		return err
	}
	today := b.today()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		view, err := b.occurrenceSvc.DayView(ctx, user.ID, today)
		if err != nil {
			b.log.Error("build digest", "user_id", user.ID, "err", err)
			continue
		}
		if len(view.Occurrences) == 0 {
			continue
		}
		if err := b.sendText(*user.TelegramID, formatDayView(view, "☀️ <b>今日のタスク</b>")); err != nil {
			b.log.Error("send digest", "user_id", user.ID, "err", err)
		}
	}
	return nil
}

func (b *Bot) sendDay(ctx context.Context, chatID int64, user *model.User, date civil.Date) error {
	view, err := b.occurrenceSvc.DayView(ctx, user.ID, date)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("タスクを取得できませんでした: %s", escape(err.Error())))
	}
	if len(view.Occurrences) == 0 {
		return b.sendText(chatID, formatDayView(view, "📋 <b>タスク</b>")+"\n予定はありません。/newtask で追加できます。")
	}

	msg := tgbotapi.NewMessage(chatID, formatDayView(view, "📋 <b>タスク</b>"))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = occurrenceKeyboard(view.Occurrences)
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) sendServiceError(chatID int64, err error) error {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return b.sendText(chatID, "タスクが見つかりません。")
	case errors.Is(err, service.ErrInvalidInput):
		return b.sendText(chatID, fmt.Sprintf("入力が正しくありません: %s", escape(err.Error())))
	default:
		b.log.Error("service call failed", "err", err)
		return b.sendText(chatID, "エラーが発生しました。時間をおいて再度お試しください。")
	}
}

func (b *Bot) today() civil.Date {
	return civil.DateOf(time.Now().In(b.loc))
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelNewTask:
		return true, b.startNewTaskConversation(ctx, msg)
	case menuLabelToday:
		return true, b.handleToday(ctx, msg)
	case menuLabelHelp:
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	return b.sendText(chatID, "🔹 メニュー")
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-reminder/internal/service"
)

type conversationStage int

const (
	stageTitle conversationStage = iota
	stageDueDate
	stageRecurrence
	stageCustomInterval
	stageNotificationTime
)

type conversationState struct {
	stage      conversationStage
	title      string
	dueDate    string
	recurrence *service.RecurrenceInput
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.clearConfirmation(msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "📝 タスクのタイトルを入力してください。\n例: <code>9:00 ゴミ出し</code>", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)

	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "タイトルを入力してください。", cancelKeyboard())
		}
		state.title = text
		state.stage = stageDueDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "📅 日付を入力してください (<code>YYYY-MM-DD</code>)。\n「今日」でも指定できます。", cancelKeyboard())

	case stageDueDate:
		date, ok := parseDateInput(text, b.today())
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "日付は <code>2025-11-30</code> の形式で入力してください。", cancelKeyboard())
		}
		state.dueDate = date.String()
		state.stage = stageRecurrence
		return b.sendWithReplyMarkup(msg.Chat.ID, "🔁 繰り返しを選んでください。", recurrenceKeyboard())

	case stageRecurrence:
		choice, ok := recurrenceChoices[text]
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "ボタンから選んでください。", recurrenceKeyboard())
		}
		switch choice {
		case "":
			state.recurrence = nil
		case "custom":
			state.stage = stageCustomInterval
			return b.sendWithReplyMarkup(msg.Chat.ID, "間隔を入力してください。\n例: <code>3 日</code>、<code>2 週</code>、<code>6 ヶ月</code>、<code>1 年</code>", cancelKeyboard())
		case "weekdays":
			state.recurrence = &service.RecurrenceInput{Type: "weekdays", Weekdays: []int{1, 2, 3, 4, 5}}
		default:
			state.recurrence = &service.RecurrenceInput{Type: choice}
		}
		state.stage = stageNotificationTime
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ 通知時刻を <code>HH:MM</code> で入力してください。", notificationKeyboard())

	case stageCustomInterval:
		count, unit, ok := parseInterval(text)
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "「数 単位」の形式で入力してください。単位は 日・週・ヶ月・年 です。", cancelKeyboard())
		}
		state.recurrence = &service.RecurrenceInput{Type: "custom", CustomCount: count, CustomUnit: unit}
		state.stage = stageNotificationTime
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ 通知時刻を <code>HH:MM</code> で入力してください。", notificationKeyboard())

	case stageNotificationTime:
		input := service.TaskInput{
			Title:      state.title,
			DueDate:    state.dueDate,
			Recurrence: state.recurrence,
		}
		if text != labelNoNotification {
			hhmm, ok := parseClock(text)
			if !ok {
				return b.sendWithReplyMarkup(msg.Chat.ID, "時刻は <code>08:30</code> の形式で入力してください。", notificationKeyboard())
			}
			input.NotificationEnabled = true
			input.NotificationTime = hhmm
		}
		return b.finishNewTask(ctx, msg, input)
	}

	return nil
}

func (b *Bot) finishNewTask(ctx context.Context, msg *tgbotapi.Message, input service.TaskInput) error {
	b.clearConversation(msg.From.ID)

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.Create(ctx, user.ID, input)
	if err != nil {
		return b.sendServiceError(msg.Chat.ID, err)
	}
	b.log.Info("task created", "task_id", task.ID, "user_id", user.ID)

	text := fmt.Sprintf("✅ タスク #%d「%s」を追加しました。\n📅 %s", task.ID, escape(task.Title), formatDate(task.DueDate.Date))
	if input.Recurrence != nil {
		text += "\n🔁 " + describeRecurrence(input.Recurrence)
	}
	if input.NotificationEnabled {
		text += "\n⏰ " + input.NotificationTime
	}
	return b.sendText(msg.Chat.ID, text)
}

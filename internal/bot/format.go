package bot

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/width"

	"task-reminder/internal/service"
)

const (
	menuLabelNewTask = "➕ 新しいタスク"
	menuLabelToday   = "📋 今日のタスク"
	menuLabelHelp    = "ℹ️ ヘルプ"

	labelCancel         = "⏪ 戻る"
	labelConfirm        = "✅ 確認"
	labelNoNotification = "🔕 通知なし"

	maxButtonTitle = 24
)

// recurrenceChoices maps keyboard labels to recurrence types. Empty means none.
var recurrenceChoices = map[string]string{
	"なし":   "",
	"毎日":   "daily",
	"毎週":   "weekly",
	"毎月":   "monthly",
	"毎年":   "yearly",
	"平日":   "weekdays",
	"カスタム": "custom",
}

var intervalUnits = map[string]string{
	"日":  "days",
	"週":  "weeks",
	"週間": "weeks",
	"ヶ月": "months",
	"か月": "months",
	"カ月": "months",
	"月":  "months",
	"年":  "years",
}

var jaWeekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

var errBadArgs = errors.New("bad arguments")

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelToday),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(labelCancel)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelConfirm),
			tgbotapi.NewKeyboardButton(labelCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func recurrenceKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("なし"),
			tgbotapi.NewKeyboardButton("毎日"),
			tgbotapi.NewKeyboardButton("平日"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("毎週"),
			tgbotapi.NewKeyboardButton("毎月"),
			tgbotapi.NewKeyboardButton("毎年"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("カスタム"),
			tgbotapi.NewKeyboardButton(labelCancel),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func notificationKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelNoNotification),
			tgbotapi.NewKeyboardButton(labelCancel),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// occurrenceKeyboard offers one row of actions per occurrence.
func occurrenceKeyboard(list []service.DisplayOccurrence) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for _, occ := range list {
		suffix := fmt.Sprintf("%d:%s", occ.TaskID, occ.Date.String())
		toggle := tgbotapi.NewInlineKeyboardButtonData("✅ "+shortTitle(occ.Title), cbDonePrefix+suffix)
		if occ.Completed {
			toggle = tgbotapi.NewInlineKeyboardButtonData("↩️ "+shortTitle(occ.Title), cbUndoPrefix+suffix)
		}
		row := []tgbotapi.InlineKeyboardButton{toggle}
		if occ.IsRecurring {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("⏭", cbSkipPrefix+suffix))
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑", cbDeletePrefix+suffix))
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatDayView(view *service.DayView, header string) string {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString(" ")
	sb.WriteString(formatDate(view.Date))
	if view.Holiday != nil {
		sb.WriteString(" 🎌 ")
		sb.WriteString(escape(view.Holiday.Name))
	}
	sb.WriteString("\n")

	for _, occ := range view.Occurrences {
		mark := "⬜"
		if occ.Completed {
			mark = "✅"
		}
		sb.WriteString(fmt.Sprintf("%s <code>#%d</code> %s", mark, occ.TaskID, escape(occ.Title)))
		if occ.IsRecurring {
			sb.WriteString(" 🔁")
		}
		if occ.NotificationTime != "" {
			sb.WriteString(" ⏰" + occ.NotificationTime)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatDate(d civil.Date) string {
	return fmt.Sprintf("%d年%d月%d日(%s)", d.Year, int(d.Month), d.Day, jaWeekdays[d.In(time.UTC).Weekday()])
}

func describeRecurrence(in *service.RecurrenceInput) string {
	switch in.Type {
	case "daily":
		return "毎日"
	case "weekly":
		return "毎週"
	case "monthly":
		return "毎月"
	case "yearly":
		return "毎年"
	case "weekdays":
		names := make([]string, 0, len(in.Weekdays))
		for _, d := range in.Weekdays {
			if d >= 0 && d < len(jaWeekdays) {
				names = append(names, jaWeekdays[d])
			}
		}
		return "毎週 " + strings.Join(names, "・")
	case "custom":
		unit := map[string]string{"days": "日", "weeks": "週間", "months": "ヶ月", "years": "年"}[in.CustomUnit]
		if unit == "" {
			unit = "日"
		}
		return fmt.Sprintf("%d%sごと", in.CustomCount, unit)
	default:
		return in.Type
	}
}

// parseTaskArgs reads "<id> [date]". A missing date falls back to today unless required.
func parseTaskArgs(raw string, today civil.Date, dateRequired bool) (uint, civil.Date, error) {
	fields := strings.Fields(width.Fold.String(raw))
	if len(fields) == 0 || len(fields) > 2 {
		return 0, civil.Date{}, errBadArgs
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, civil.Date{}, errBadArgs
	}
	if len(fields) == 1 {
		if dateRequired {
			return 0, civil.Date{}, errBadArgs
		}
		return uint(id), today, nil
	}
	date, ok := parseDateInput(fields[1], today)
	if !ok {
		return 0, civil.Date{}, errBadArgs
	}
	return uint(id), date, nil
}

// parseCallback splits "prefix:<id>:<date>".
func parseCallback(data string) (string, uint, civil.Date, error) {
	for _, prefix := range []string{cbDonePrefix, cbUndoPrefix, cbSkipPrefix, cbDeletePrefix} {
		rest, ok := strings.CutPrefix(data, prefix)
		if !ok {
			continue
		}
		idPart, datePart, ok := strings.Cut(rest, ":")
		if !ok {
			return "", 0, civil.Date{}, errBadArgs
		}
		id, err := strconv.ParseUint(idPart, 10, 64)
		if err != nil {
			return "", 0, civil.Date{}, errBadArgs
		}
		date, err := civil.ParseDate(datePart)
		if err != nil {
			return "", 0, civil.Date{}, errBadArgs
		}
		return prefix, uint(id), date, nil
	}
	return "", 0, civil.Date{}, errBadArgs
}

func parseDateInput(text string, today civil.Date) (civil.Date, bool) {
	text = strings.TrimSpace(width.Fold.String(text))
	switch text {
	case "今日", "きょう":
		return today, true
	case "明日", "あした":
		return today.AddDays(1), true
	}
	d, err := civil.ParseDate(text)
	if err != nil || !d.IsValid() {
		return civil.Date{}, false
	}
	return d, true
}

// parseInterval reads "3 日" or "2週間" into a custom recurrence count and unit.
func parseInterval(text string) (int, string, bool) {
	text = strings.ReplaceAll(width.Fold.String(strings.TrimSpace(text)), " ", "")
	end := 0
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, "", false
	}
	count, err := strconv.Atoi(text[:end])
	if err != nil || count < 1 {
		return 0, "", false
	}
	unit, ok := intervalUnits[strings.TrimSuffix(text[end:], "ごと")]
	if !ok {
		return 0, "", false
	}
	return count, unit, true
}

// parseClock normalises "8:30" or "０８：３０" to "08:30".
func parseClock(text string) (string, bool) {
	text = strings.TrimSpace(width.Fold.String(text))
	h, m, ok := strings.Cut(text, ":")
	if !ok {
		return "", false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 || len(h) > 2 {
		return "", false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

func isCancelDialogInput(text string) bool {
	return strings.TrimSpace(text) == labelCancel
}

func isConfirmInput(text string) bool {
	switch strings.TrimSpace(text) {
	case labelConfirm, "確認", "はい":
		return true
	}
	return false
}

func isCancelInput(text string) bool {
	switch strings.TrimSpace(text) {
	case labelCancel, "戻る", "いいえ":
		return true
	}
	return false
}

func escape(s string) string {
	return html.EscapeString(s)
}

// shortTitle trims a title to fit an inline button.
func shortTitle(s string) string {
	if utf8.RuneCountInString(s) <= maxButtonTitle {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxButtonTitle-1]) + "…"
}

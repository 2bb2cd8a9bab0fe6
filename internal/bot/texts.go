package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"namazbot/internal/prayer"
	kit "namazbot/internal/transport"
	"namazbot/pkg/tgui"
)

// Keyboard button labels. Pressing one sends the label as a text message.
const (
	ButtonToday = "Расписание на сегодня"
	ButtonMonth = "Расписание на месяц"
)

// MainKeyboard is the persistent reply keyboard attached to every message.
func MainKeyboard() *kit.Keyboard {
	return &kit.Keyboard{
		Rows:   [][]string{{ButtonToday}, {ButtonMonth}},
		Resize: true,
	}
}

var kindNames = map[prayer.Kind]string{
	prayer.Fajr:    "Фаджр",
	prayer.Dhuhr:   "Зухр",
	prayer.Asr:     "Аср",
	prayer.Maghrib: "Магриб",
	prayer.Isha:    "Иша",
}

var kindEmoji = map[prayer.Kind]string{
	prayer.Fajr:    "🏙",
	prayer.Dhuhr:   "🌅",
	prayer.Asr:     "🌇",
	prayer.Maghrib: "🌌",
	prayer.Isha:    "🌃",
}

// KindName is the Russian display name of k; unknown kinds fall back to the key.
func KindName(k prayer.Kind) string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return k.String()
}

var monthsGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

var monthsNominative = [...]string{
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

// FormatDate renders d as "3 марта 2025".
func FormatDate(d prayer.Date) string {
	if d.Month < time.January || d.Month > time.December {
		return d.String()
	}
	return strconv.Itoa(d.Day) + " " + monthsGenitive[d.Month-1] + " " + strconv.Itoa(d.Year)
}

// MonthTitle renders "Март 2025".
func MonthTitle(year int, month time.Month) string {
	if month < time.January || month > time.December {
		return fmt.Sprintf("%02d.%d", int(month), year)
	}
	return monthsNominative[month-1] + " " + strconv.Itoa(year)
}

// ReminderText is the message sent offset before a prayer.
func ReminderText(kind prayer.Kind, offset time.Duration, at time.Time) tgui.H {
	return tgui.Concat(
		tgui.Raw("До намаза "), tgui.B(KindName(kind)),
		tgui.Esc(" осталось "+minutesPhrase(offset)+"! "),
		tgui.I("Время намаза:"), tgui.Raw(" "), tgui.B(at.Format("15:04")),
	)
}

// minutesPhrase renders a whole-minute duration with the Russian plural form.
func minutesPhrase(d time.Duration) string {
	n := int(d / time.Minute)
	word := "минут"
	switch {
	case n%100 >= 11 && n%100 <= 14:
	case n%10 == 1:
		word = "минута"
	case n%10 >= 2 && n%10 <= 4:
		word = "минуты"
	}
	return strconv.Itoa(n) + " " + word
}

// WelcomeText greets a new subscriber.
func WelcomeText(offset time.Duration) tgui.H {
	return tgui.JoinH("\n",
		tgui.Concat(tgui.I("Бот активирован!"), tgui.Raw(" 🤖")),
		tgui.Concat(tgui.Raw("Вам автоматически отправляются уведомления "),
			tgui.B("за "+minutesPhrase(offset)+" до начала намаза"), tgui.Raw(" 💫")),
		tgui.Raw(" "),
		tgui.Raw("Также можете посмотреть 👁"),
		tgui.Raw("📆 <i>Расписание на <b>сегодня</b> - </i>/today"),
		tgui.Raw("📆 <i>Расписание на <b>месяц</b> - </i>/month"),
		tgui.Raw("🔕 <i>Отключить уведомления - </i>/stop"),
	)
}

// TodayText renders a day's schedule. contact, when set, is appended as the
// "report a mistake" line.
func TodayText(day prayer.DaySchedule, contact string) tgui.H {
	var sb strings.Builder
	sb.WriteString("📆 ")
	sb.WriteString(tgui.B("Расписание намаза на сегодня").String())
	sb.WriteString(" (" + tgui.Esc(FormatDate(day.Date)).String() + "):\n\n")
	for _, ev := range day.Events {
		sb.WriteString(kindEmoji[ev.Kind])
		sb.WriteString(" ")
		sb.WriteString(tgui.B(KindName(ev.Kind) + ":").String())
		sb.WriteString(" ")
		sb.WriteString(ev.At.String())
		sb.WriteString("\n")
	}
	if c := strings.TrimSpace(contact); c != "" {
		sb.WriteString("\n")
		sb.WriteString(tgui.I("Сообщите, если время намаза неправильно: " + c).String())
	}
	return tgui.Raw(strings.TrimRight(sb.String(), "\n"))
}

// MonthCaption accompanies the month image.
func MonthCaption(year int, month time.Month, signature string) string {
	s := "📆 Расписание намаза на " + MonthTitle(year, month)
	if sig := strings.TrimSpace(signature); sig != "" {
		s += "\n\n" + sig
	}
	return s
}

// MonthText is the text fallback used when no month image is configured.
func MonthText(year int, month time.Month, days []prayer.DaySchedule) tgui.H {
	var sb strings.Builder
	sb.WriteString("📆 " + tgui.B("Расписание намаза на "+MonthTitle(year, month)).String() + "\n")
	sb.WriteString(tgui.Code("дата  " + strings.Join(shortNames(), " ")).String())
	for _, d := range days {
		cells := make([]string, 0, len(d.Events))
		for _, ev := range d.Events {
			cells = append(cells, ev.At.String())
		}
		sb.WriteString("\n")
		sb.WriteString(tgui.Code(fmt.Sprintf("%02d.%02d %s", d.Date.Day, int(d.Date.Month), strings.Join(cells, " "))).String())
	}
	return tgui.Raw(sb.String())
}

func shortNames() []string {
	out := make([]string, 0, len(prayer.Kinds))
	for _, k := range prayer.Kinds {
		out = append(out, fmt.Sprintf("%-5s", tgui.TruncRunes(KindName(k), 5)))
	}
	return out
}

// AdminNewUserText tells the admin about a /start.
func AdminNewUserText(m *kit.Message) tgui.H {
	who := strings.TrimSpace(m.FromFirstName)
	if who == "" {
		who = "без имени"
	}
	user := ""
	if m.FromUsername != "" {
		user = " (@" + m.FromUsername + ")"
	}
	return tgui.Concat(
		tgui.Raw("👤 Пользователь "), tgui.B(who), tgui.Esc(user),
		tgui.Raw(" с ID "), tgui.Code(strconv.FormatInt(m.ChatID, 10)),
		tgui.Raw(" начал использовать бота."),
	)
}

const (
	TextTodayNotFound = "<b>Расписание на сегодня не найдено.</b>"
	TextMonthNotFound = "Файл с расписанием на месяц не найден."
	TextStopped       = "🔕 Уведомления отключены. Чтобы включить снова, отправьте /start"
	TextNotSubscribed = "Вы не подписаны на уведомления. Отправьте /start"
	TextUnknown       = "Не понимаю. Воспользуйтесь кнопками ниже или командами /today и /month"
)

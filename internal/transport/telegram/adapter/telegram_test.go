package adapter

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "namazbot/internal/transport"
	logx "namazbot/pkg/logx"
)

func TestToUpdate(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:     17,
		Text:   "/start",
		Chat:   &tele.Chat{ID: 555},
		Sender: &tele.User{ID: 777, Username: "umar", FirstName: "Умар"},
	}
	up, ok := toUpdate(m)
	if !ok {
		t.Fatal("expected update")
	}
	got := *up.Message
	want := kit.Message{ID: 17, ChatID: 555, FromID: 777, FromUsername: "umar", FromFirstName: "Умар", Text: "/start"}
	if up.Kind != kit.UpdateMessage || got != want {
		t.Fatalf("update = %+v, want %+v", got, want)
	}

	if _, ok := toUpdate(nil); ok {
		t.Fatal("nil message must be ignored")
	}
	if _, ok := toUpdate(&tele.Message{Text: "x"}); ok {
		t.Fatal("message without chat must be ignored")
	}
}

func TestReplyMarkup(t *testing.T) {
	t.Parallel()
	rm := replyMarkup(&kit.Keyboard{Rows: [][]string{{"Расписание на сегодня"}, {"Расписание на месяц"}}, Resize: true})
	if !rm.ResizeKeyboard {
		t.Fatal("resize flag lost")
	}
	if len(rm.ReplyKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(rm.ReplyKeyboard))
	}
	if rm.ReplyKeyboard[1][0].Text != "Расписание на месяц" {
		t.Fatalf("second row = %+v", rm.ReplyKeyboard[1])
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

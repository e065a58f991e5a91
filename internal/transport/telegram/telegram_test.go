package telegram

import (
	"testing"

	"github.com/ashureev/studiora/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestUpdateFrom(t *testing.T) {
	u := UpdateFrom(&tele.User{ID: 12, Username: "ann", FirstName: "Ann", LanguageCode: "ru"})

	assert.Equal(t, int64(12), u.UserID())
	assert.Equal(t, "ru", u.Profile.LanguageHint)
	assert.Equal(t, "ann", u.Profile.Username)
	assert.Equal(t, "Ann", u.Profile.FirstName)

	assert.Zero(t, UpdateFrom(nil).UserID())
}

func TestCallbackData(t *testing.T) {
	assert.Equal(t, "history_page:5", CallbackData(&tele.Callback{Data: "history_page:5"}))
	assert.Equal(t, "set_lang:hy", CallbackData(&tele.Callback{Data: "\fpick|set_lang:hy", Unique: "pick"}))
	assert.Equal(t, "", CallbackData(nil))
}

func TestMarkup(t *testing.T) {
	assert.Nil(t, Markup(nil))

	rm := Markup(&chat.Markup{
		Inline: [][]chat.Button{{{Text: "OK", Data: chat.CallbackConfirm}, {Text: "Edit", Data: chat.CallbackEdit}}},
		Menu:   [][]string{{"Create"}, {"History", "User"}},
	})

	require.Len(t, rm.InlineKeyboard, 1)
	assert.Equal(t, chat.CallbackEdit, rm.InlineKeyboard[0][1].Data)
	assert.Empty(t, rm.InlineKeyboard[0][0].Unique)
	require.Len(t, rm.ReplyKeyboard, 2)
	assert.Equal(t, "User", rm.ReplyKeyboard[1][1].Text)
	assert.True(t, rm.ResizeKeyboard)

	inlineOnly := Markup(&chat.Markup{Inline: [][]chat.Button{{{Text: "x", Data: "y"}}}})
	assert.False(t, inlineOnly.ResizeKeyboard)
	assert.Empty(t, inlineOnly.ReplyKeyboard)
}

func TestNewOffline(t *testing.T) {
	tr, err := New(Config{Token: "123:abc", Offline: true}, nil)
	require.NoError(t, err)

	var _ chat.Messenger = tr
	assert.NotNil(t, tr.bot)
}

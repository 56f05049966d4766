package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/erg0nix/palaver/internal/session"
)

func keyboardFor(state session.State) tgbotapi.ReplyKeyboardMarkup {
	second := "/" + commandNewChat
	if state == session.InSession {
		second = "/" + commandEndChat
	}

	markup := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("/"+commandHelp)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(second)),
	)
	markup.ResizeKeyboard = true

	return markup
}

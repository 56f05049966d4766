package bot

const (
	commandStart   = "start"
	commandHelp    = "help"
	commandNewChat = "new_chat"
	commandEndChat = "end_chat"
	commandDebug   = "debug"
)

const (
	textHelp = "Привет, я - бот-GPT, вот мой функционал:\n" +
		"/" + commandHelp + " или /" + commandStart + " - список всех команд (ты уже тут)\n" +
		"/" + commandNewChat + " - создание нового чата с GPT\n" +
		"/" + commandEndChat + " - удаление чата, очистка истории сообщений"

	textNewChat  = "Напиши своё сообщение для GPT"
	textEndChat  = "История чата удалена, спасибо за использование бота! Вы можете начать новый чат: /" + commandNewChat
	textTooLong  = "Сообщение слишком длинное, пожалуйста, укоротите его"
	textRetry    = "Не удалось получить ответ, пожалуйста, попробуйте позже"
	textFailure  = "Что-то пошло не так, пожалуйста, попробуйте ещё раз"
	textLogEmpty = "Файл с логами ошибок пуст!"

	textUnknownHint = "\n\nЕсли ты хотел, чтобы я что-то сделал, то я не распознал твою команду, пожалуйста," +
		" сверься с /" + commandHelp

	debugFileName = "logs.log"
)

var fillerReplies = []string{
	"О, круто!",
	"Верно подмечено!",
	"Как с языка снял",
	"Какой ты всё-таки умный",
	"По-любому что-то умное написал",
	"Как лаконично-то!",
}

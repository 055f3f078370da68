package posting

// captionLimit — максимум знаков в подписи к медиа на стороне платформы.
const captionLimit = 1024

// ComposeMessage склеивает заголовок и описание поста. Сообщения длиннее
// лимита подписи урезаются с многоточием, чтобы отправка с картинками
// не отклонялась платформой. Считаем в рунах: кириллица не должна
// резаться посередине байта.
func ComposeMessage(title, description string) string {
	msg := title + "\n\n" + description
	runes := []rune(msg)
	if len(runes) <= captionLimit {
		return msg
	}
	return string(runes[:captionLimit-3]) + "..."
}

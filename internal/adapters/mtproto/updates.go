package mtproto

import (
	"github.com/gotd/td/tg"

	"tg-multipost/internal/domain"
)

// receiptFromUpdates извлекает из ответа платформы квитанцию о
// сообщении, несущем текст. Для альбома текст несёт только первый
// элемент, у остальных сообщение пустое. Если ответ не удалось
// разобрать, эхо считается совпавшим с отправленным текстом: лучше
// пропустить потерянную подпись, чем продублировать её.
func receiptFromUpdates(u tg.UpdatesClass, sent string) domain.SendReceipt {
	switch upd := u.(type) {
	case *tg.UpdateShortSentMessage:
		return domain.SendReceipt{MessageID: upd.ID, EchoText: sent}
	case *tg.Updates:
		return receiptFromList(upd.Updates, sent)
	case *tg.UpdatesCombined:
		return receiptFromList(upd.Updates, sent)
	}
	return domain.SendReceipt{EchoText: sent}
}

func receiptFromList(updates []tg.UpdateClass, sent string) domain.SendReceipt {
	receipt := domain.SendReceipt{EchoText: sent}
	seen := false
	for _, u := range updates {
		var msg tg.MessageClass
		switch upd := u.(type) {
		case *tg.UpdateNewChannelMessage:
			msg = upd.Message
		case *tg.UpdateNewMessage:
			msg = upd.Message
		case *tg.UpdateMessageID:
			if !seen {
				receipt.MessageID = upd.ID
			}
			continue
		default:
			continue
		}

		m, ok := msg.(*tg.Message)
		if !ok {
			continue
		}
		if !seen {
			receipt = domain.SendReceipt{MessageID: m.ID, EchoText: m.Message}
			seen = true
		}
		// Текст альбома живёт в первом непустом сообщении.
		if m.Message != "" {
			return domain.SendReceipt{MessageID: m.ID, EchoText: m.Message}
		}
	}
	return receipt
}

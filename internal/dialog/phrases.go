package dialog

import (
	"fmt"
	"time"
)

// Spoken phrases. Fixed phrases are safe to cache as rendered audio.
const (
	phraseReadyQuestion   = " Вы готовы произнести ответ сейчас? Перед ответом нажмите на кнопку."
	phraseReadyRetry      = " Вы готовы произнести ответ сейчас?"
	phraseNotUnderstood   = "Извините, я вас не очень понял. "
	phraseSayValueOf      = "Произнесите значение "
	phraseSayValue        = "Произнесите значение"
	phraseAskCategory     = "Какое значение вы хотите отправить?"
	phraseUnknownCategory = "Категория нераспознана, пожалуйста, назовите категорию еще раз"
	phraseBadValue        = "Значение не распознано, пожалуйста, произнесите его еще раз"
	phraseSubmitted       = "Значение успешно отправлено."
	phraseSubmitFailed    = "Произошла ошибка при отправлении значения"
	phraseEnterLater      = "Введите значение позже с помощию команды 'заполнить опросники'."
)

func minutes(d time.Duration) int {
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

func deferQuestion(delay time.Duration) string {
	return fmt.Sprintf("Хотите отложить напоминание на %d минут?", minutes(delay))
}

func deferAccepted(delay time.Duration) string {
	return fmt.Sprintf("Хорошо, напомню через %d минут.", minutes(delay))
}

// CacheablePhrases lists the fixed prompts worth rendering ahead of time.
func CacheablePhrases(reminderDelay time.Duration) []string {
	return []string{
		phraseSayValue,
		phraseAskCategory,
		phraseUnknownCategory,
		phraseBadValue,
		phraseSubmitted,
		phraseSubmitFailed,
		phraseEnterLater,
		deferQuestion(reminderDelay),
		deferAccepted(reminderDelay),
	}
}

package dialog

import (
	"fmt"
	"strings"
)

// Command is a dialog the user can start by voice.
type Command struct {
	Kind     Kind
	Name     string
	Keywords []string
}

// Commands lists the locally started dialogs in match order.
var Commands = []Command{
	{Kind: KindAddValue, Name: "Отправить значение измерения", Keywords: []string{"измерени", "значени"}},
}

// MatchCommand finds the command whose keyword stem occurs in the phrase.
func MatchCommand(text string) (Command, bool) {
	text = strings.ToLower(text)
	for _, c := range Commands {
		for _, kw := range c.Keywords {
			if strings.Contains(text, kw) {
				return c, true
			}
		}
	}
	return Command{}, false
}

// NewLocal creates a locally started dialog of the given kind.
func NewLocal(kind Kind, stream string, deps Deps) (*Dialog, error) {
	switch kind {
	case KindAddValue:
		return NewAddValue(stream, deps), nil
	default:
		return nil, fmt.Errorf("no local dialog of kind %q", kind)
	}
}

package dialog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

// ErrUnknownValueType is returned when a value must be parsed for a type no dialog supports.
var ErrUnknownValueType = errors.New("unknown value type")

var (
	negativeWords = map[string]bool{"нет": true, "не": true, "позже": true, "потом": true, "отложи": true, "no": true}
	positiveWords = map[string]bool{"да": true, "готов": true, "готова": true, "конечно": true, "давай": true,
		"ага": true, "хорошо": true, "ок": true, "yes": true}
)

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsNegative reports whether the phrase declines. It is checked before IsPositive so
// that "не готов" is a refusal.
func IsNegative(text string) bool {
	for _, w := range words(text) {
		if negativeWords[w] {
			return true
		}
	}
	return false
}

// IsPositive reports whether the phrase agrees.
func IsPositive(text string) bool {
	for _, w := range words(text) {
		if positiveWords[w] {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseValue converts spoken text to a value of the given type.
// ok is false when the text does not have an accepted form; the caller re-prompts.
// An unsupported type yields ErrUnknownValueType.
func ParseValue(t models.ValueType, text string) (value any, ok bool, err error) {
	switch t {
	case models.ValueTypeInteger:
		v, ok := parseInteger(text)
		return v, ok, nil
	case models.ValueTypeFloat:
		v, ok := parseFloat(text)
		return v, ok, nil
	case models.ValueTypeString:
		if strings.TrimSpace(text) == "" {
			return nil, false, nil
		}
		return text, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownValueType, t)
	}
}

func parseInteger(text string) (int, bool) {
	s := strings.TrimSpace(text)
	if !isDigits(s) {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseFloat accepts "<digits>" (kept as an integer) or "<number> и <number>".
func parseFloat(text string) (any, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if v, ok := parseInteger(s); ok {
		return v, true
	}

	tokens := strings.Fields(s)
	sep := -1
	for i, tok := range tokens {
		if tok == "и" {
			if sep != -1 {
				return nil, false
			}
			sep = i
		}
	}
	if sep <= 0 || sep == len(tokens)-1 {
		return nil, false
	}

	whole, ok := numberDigits(tokens[:sep])
	if !ok {
		return nil, false
	}
	frac, ok := numberDigits(tokens[sep+1:])
	if !ok {
		return nil, false
	}
	v, err := strconv.ParseFloat(whole+"."+frac, 64)
	if err != nil {
		return nil, false
	}
	return v, true
}

// numberDigits turns one side of a decimal phrase into a digit string.
// A single digit token is kept verbatim so leading zeros survive ("5 и 05"),
// and leading "ноль" words are kept as zeros ("пять и ноль пять" is 5.05).
func numberDigits(tokens []string) (string, bool) {
	if len(tokens) == 1 && isDigits(tokens[0]) {
		return tokens[0], true
	}
	zeros := 0
	for zeros < len(tokens)-1 && tokens[zeros] == "ноль" {
		zeros++
	}
	total := 0
	for _, tok := range tokens[zeros:] {
		n, ok := numeralWords[tok]
		if !ok {
			return "", false
		}
		total += n
	}
	return strings.Repeat("0", zeros) + strconv.Itoa(total), true
}

var numeralWords = map[string]int{
	"ноль": 0, "один": 1, "одна": 1, "два": 2, "две": 2, "три": 3, "четыре": 4, "пять": 5,
	"шесть": 6, "семь": 7, "восемь": 8, "девять": 9, "десять": 10, "одиннадцать": 11,
	"двенадцать": 12, "тринадцать": 13, "четырнадцать": 14, "пятнадцать": 15,
	"шестнадцать": 16, "семнадцать": 17, "восемнадцать": 18, "девятнадцать": 19,
	"двадцать": 20, "тридцать": 30, "сорок": 40, "пятьдесят": 50, "шестьдесят": 60,
	"семьдесят": 70, "восемьдесят": 80, "девяносто": 90, "сто": 100, "двести": 200,
	"триста": 300, "четыреста": 400, "пятьсот": 500, "шестьсот": 600, "семьсот": 700,
	"восемьсот": 800, "девятьсот": 900,
}

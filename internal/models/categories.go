package models

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minDescriptionToken is the shortest description word used for matching.
// Prepositions such as "в" would otherwise match almost any phrase.
const minDescriptionToken = 3

// Category is a measurement category known to the server.
type Category struct {
	ID                    int       `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description"`
	Unit                  string    `json:"unit"`
	Type                  ValueType `json:"type"`
	DefaultRepresentation string    `json:"default_representation"`
	IsLegacy              bool      `json:"is_legacy"`
	Subcategory           string    `json:"subcategory"`
}

// KeywordCategory pairs a category with the phrases that select it directly.
type KeywordCategory struct {
	Keywords []string
	Category Category
}

// Catalog is the static category reference data.
// Keyword categories are always consulted before description matching.
type Catalog struct {
	Keyword   []KeywordCategory
	Described []Category
}

// Resolve finds the category named in a spoken phrase.
// The first keyword category whose keyword occurs in the phrase wins; otherwise the
// first described category with a description word occurring in the phrase wins.
func (c Catalog) Resolve(text string) (Category, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Category{}, false
	}

	for _, kc := range c.Keyword {
		for _, kw := range kc.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return kc.Category, true
			}
		}
	}

	for _, cat := range c.Described {
		for _, token := range descriptionTokens(cat.Description) {
			if strings.Contains(text, token) {
				return cat, true
			}
		}
	}
	return Category{}, false
}

// ByName looks a category up by its server name.
func (c Catalog) ByName(name string) (Category, bool) {
	for _, kc := range c.Keyword {
		if kc.Category.Name == name {
			return kc.Category, true
		}
	}
	for _, cat := range c.Described {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}

func descriptionTokens(description string) []string {
	fields := strings.Fields(strings.ToLower(description))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if utf8.RuneCountInString(f) < minDescriptionToken {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var (
	categoryPulse = Category{ID: 1, Name: "pulse", Description: "Пульс в покое", Unit: "удары в минуту",
		Type: ValueTypeInteger, DefaultRepresentation: "scatter", Subcategory: "Измерения"}
	categorySystolic = Category{ID: 2, Name: "systolic_pressure", Description: "Систолическое (верхнее) артериальное давление в покое",
		Unit: "мм рт. ст.", Type: ValueTypeInteger, DefaultRepresentation: "scatter", Subcategory: "Измерения"}
	categoryDiastolic = Category{ID: 3, Name: "diastolic_pressure", Description: "Диастолическое (нижнее) артериальное давление",
		Unit: "мм рт. ст.", Type: ValueTypeInteger, DefaultRepresentation: "scatter", Subcategory: "Измерения"}
	categoryGlukoseFasting = Category{ID: 37, Name: "glukose_fasting", Description: "Глюкоза натощак", Unit: "ммоль/л",
		Type: ValueTypeFloat, DefaultRepresentation: "values", Subcategory: "Эндокринология"}
)

// DefaultCatalog mirrors the categories configured on the medsenger server.
var DefaultCatalog = Catalog{
	Keyword: []KeywordCategory{
		{Keywords: []string{"пульс"}, Category: categoryPulse},
		{Keywords: []string{"верхнее давление", "систолическ"}, Category: categorySystolic},
		{Keywords: []string{"нижнее давление", "диастолическ"}, Category: categoryDiastolic},
		{Keywords: []string{"натощак"}, Category: categoryGlukoseFasting},
	},
	Described: []Category{
		{ID: 30, Name: "symptom", Description: "Симптом заболевания", Type: ValueTypeString, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 31, Name: "action", Description: "Действие", Type: ValueTypeString, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 19, Name: "waist_circumference", Description: "Окружность талии", Unit: "см", Type: ValueTypeFloat, DefaultRepresentation: "values", Subcategory: "Измерения"},
		categoryDiastolic,
		categoryPulse,
		{ID: 4, Name: "weight", Description: "Вес", Unit: "кг", Type: ValueTypeFloat, DefaultRepresentation: "values", Subcategory: "Измерения"},
		{ID: 5, Name: "height", Description: "Рост", Unit: "см", Type: ValueTypeInteger, DefaultRepresentation: "values", Subcategory: "Измерения"},
		categorySystolic,
		{ID: 25, Name: "temperature", Description: "Температура", Unit: "град Цельсия", Type: ValueTypeFloat, DefaultRepresentation: "scatter", Subcategory: "Измерения"},
		{ID: 24, Name: "glukose", Description: "Глюкоза", Unit: "ммоль/л", Type: ValueTypeFloat, DefaultRepresentation: "scatter", Subcategory: "Эндокринология"},
		{ID: 23, Name: "pain_assessment", Description: "Оценка боли", Type: ValueTypeInteger, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 21, Name: "leg_circumference_right", Description: "Обхват правой голени", Unit: "см", Type: ValueTypeFloat, DefaultRepresentation: "values", Subcategory: "Измерения"},
		{ID: 29, Name: "medicine", Description: "Принятое лекарство", Type: ValueTypeString, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 20, Name: "leg_circumference_left", Description: "Обхват левой голени", Unit: "см", Type: ValueTypeFloat, DefaultRepresentation: "values", Subcategory: "Измерения"},
		{ID: 22, Name: "spo2", Description: "Насыщение крови кислородом", Unit: "%", Type: ValueTypeInteger, DefaultRepresentation: "scatter", Subcategory: "Измерения"},
		{ID: 32, Name: "side_effect", Description: "Побочный эффект", Type: ValueTypeString, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 33, Name: "health", Description: "Субъективное самочувствие", Type: ValueTypeInteger, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 34, Name: "activity", Description: "Физическая активность", Unit: "минуты", Type: ValueTypeInteger, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 35, Name: "information", Description: "Общая информация", Type: ValueTypeString, DefaultRepresentation: "values", Subcategory: "Общее"},
		{ID: 36, Name: "steps", Description: "Количество пройденных шагов", Unit: "шаги", Type: ValueTypeInteger, DefaultRepresentation: "values", Subcategory: "Данные с мобильных устройств"},
		categoryGlukoseFasting,
		{ID: 38, Name: "peak_flow", Description: "Предельная скорость выдоха", Unit: "л/мин", Type: ValueTypeInteger, DefaultRepresentation: "values", Subcategory: "Пульмонология"},
	},
}

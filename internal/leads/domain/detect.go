package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Preference is a counterparty request about reply modality.
type Preference int

const (
	PreferenceNone Preference = iota
	PreferenceTextOnly
	PreferenceMoreVoice
)

// MoreVoiceRatio is the voice share used after a "more voice" request.
const MoreVoiceRatio = 0.7

var textOnlyPhrases = []string{
	"пиши текстом", "не надо голосовых", "текстом пожалуйста", "лучше текстом",
	"не отправляй голосовые", "без голосовых", "только текст",
	"text only", "no voice", "text please",
}

var moreVoicePhrases = []string{
	"отправляй голосовые", "лучше голосом", "голосовые лучше", "говори голосом",
	"записывай голосовые", "больше голосовых",
	"voice please", "send voice", "more voice",
}

// DetectPreference looks for explicit modality requests. Text-only wins.
func DetectPreference(text string) Preference {
	lower := strings.ToLower(text)
	if containsAny(lower, textOnlyPhrases) {
		return PreferenceTextOnly
	}
	if containsAny(lower, moreVoicePhrases) {
		return PreferenceMoreVoice
	}
	return PreferenceNone
}

func applyPreference(lead *Lead, p Preference) {
	switch p {
	case PreferenceTextOnly:
		lead.VoiceOptOut = true
		lead.VoiceRatio = 0
	case PreferenceMoreVoice:
		lead.VoiceOptOut = false
		lead.VoiceRatio = MoreVoiceRatio
	}
}

var voiceMentions = []string{"голосов", "войс", "voice", "аудио", "голосом"}

var callPhrases = []string{
	"давай звонок", "давай созвон", "давай позвон",
	"запиши на звонок", "запиши на консультацию", "записаться на звонок",
	"готов поговорить", "готов к звонку",
	"можно звонок", "хочу звонок", "хочу созвон",
	"когда звонок", "когда созвон", "давай на звонке",
	"let's call", "schedule a call", "book a call", "sign me up",
}

// DetectCallAcceptance reports whether the counterparty agreed to a call.
// Messages that mention voice notes are excluded since they ask for audio, not a call.
func DetectCallAcceptance(text string) bool {
	lower := strings.ToLower(text)
	if containsAny(lower, voiceMentions) {
		return false
	}
	return containsAny(lower, callPhrases)
}

// ApplicationMarker is emitted by the generator when it collected contact details.
const ApplicationMarker = "[APPLICATION]"

var applicationFields = map[string]string{
	"имя":       "name",
	"name":      "name",
	"телефон":   "phone",
	"phone":     "phone",
	"email":     "email",
	"почта":     "email",
	"страна":    "country",
	"country":   "country",
	"время":     "call_time",
	"call time": "call_time",
}

// ParseApplication extracts "label: value" lines. Name and phone are required.
func ParseApplication(text string, at time.Time) (*Application, bool) {
	fields := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key, known := applicationFields[strings.ToLower(strings.TrimSpace(label))]
		value = strings.TrimSpace(value)
		if !known || value == "" {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = value
		}
	}
	if fields["name"] == "" || fields["phone"] == "" {
		return nil, false
	}
	return &Application{
		Name:        fields["name"],
		Phone:       fields["phone"],
		Email:       fields["email"],
		Country:     fields["country"],
		CallTime:    fields["call_time"],
		SubmittedAt: at,
	}, true
}

var nonDigits = regexp.MustCompile(`\D`)

// ValidateApplication returns the list of problems, empty when valid.
func ValidateApplication(app *Application) []string {
	var problems []string
	name := strings.TrimSpace(app.Name)
	if len([]rune(name)) < 2 || !strings.ContainsFunc(name, unicode.IsLetter) {
		problems = append(problems, "invalid name")
	}
	if len(nonDigits.ReplaceAllString(app.Phone, "")) < 8 {
		problems = append(problems, "invalid phone")
	}
	if app.Email != "" {
		_, domainPart, ok := strings.Cut(app.Email, "@")
		if !ok || !strings.Contains(domainPart, ".") {
			problems = append(problems, "invalid email")
		}
	}
	return problems
}

var countryZones = map[string]string{
	"россия": "Europe/Moscow", "москва": "Europe/Moscow", "russia": "Europe/Moscow", "moscow": "Europe/Moscow",
	"украина": "Europe/Kyiv", "киев": "Europe/Kyiv", "ukraine": "Europe/Kyiv", "kyiv": "Europe/Kyiv", "kiev": "Europe/Kyiv",
	"беларусь": "Europe/Minsk", "минск": "Europe/Minsk", "belarus": "Europe/Minsk",
	"казахстан": "Asia/Almaty", "алматы": "Asia/Almaty", "kazakhstan": "Asia/Almaty",
	"узбекистан": "Asia/Tashkent", "ташкент": "Asia/Tashkent", "uzbekistan": "Asia/Tashkent",
	"грузия": "Asia/Tbilisi", "тбилиси": "Asia/Tbilisi", "georgia": "Asia/Tbilisi",
	"азербайджан": "Asia/Baku", "баку": "Asia/Baku", "azerbaijan": "Asia/Baku",
	"армения": "Asia/Yerevan", "ереван": "Asia/Yerevan", "armenia": "Asia/Yerevan",
	"молдова": "Europe/Chisinau", "moldova": "Europe/Chisinau",
	"германия": "Europe/Berlin", "берлин": "Europe/Berlin", "germany": "Europe/Berlin",
	"франция": "Europe/Paris", "париж": "Europe/Paris", "france": "Europe/Paris",
	"испания": "Europe/Madrid", "мадрид": "Europe/Madrid", "spain": "Europe/Madrid",
	"италия": "Europe/Rome", "italy": "Europe/Rome",
	"великобритания": "Europe/London", "лондон": "Europe/London", "uk": "Europe/London", "england": "Europe/London",
	"польша": "Europe/Warsaw", "варшава": "Europe/Warsaw", "poland": "Europe/Warsaw",
	"чехия": "Europe/Prague", "прага": "Europe/Prague", "czech": "Europe/Prague",
	"нидерланды": "Europe/Amsterdam", "амстердам": "Europe/Amsterdam", "netherlands": "Europe/Amsterdam",
	"швейцария": "Europe/Zurich", "switzerland": "Europe/Zurich",
	"турция": "Europe/Istanbul", "стамбул": "Europe/Istanbul", "turkey": "Europe/Istanbul",
	"португалия": "Europe/Lisbon", "portugal": "Europe/Lisbon",
	"оаэ": "Asia/Dubai", "дубай": "Asia/Dubai", "uae": "Asia/Dubai", "dubai": "Asia/Dubai",
	"израиль": "Asia/Jerusalem", "israel": "Asia/Jerusalem",
	"саудовская аравия": "Asia/Riyadh", "saudi": "Asia/Riyadh",
	"индия": "Asia/Kolkata", "india": "Asia/Kolkata",
	"китай": "Asia/Shanghai", "china": "Asia/Shanghai",
	"япония": "Asia/Tokyo", "токио": "Asia/Tokyo", "japan": "Asia/Tokyo",
	"корея": "Asia/Seoul", "korea": "Asia/Seoul",
	"таиланд": "Asia/Bangkok", "thailand": "Asia/Bangkok",
	"индонезия": "Asia/Jakarta", "indonesia": "Asia/Jakarta",
	"сингапур": "Asia/Singapore", "singapore": "Asia/Singapore",
	"сша": "America/New_York", "usa": "America/New_York", "new york": "America/New_York",
	"los angeles": "America/Los_Angeles", "california": "America/Los_Angeles",
	"канада": "America/Toronto", "canada": "America/Toronto",
	"бразилия": "America/Sao_Paulo", "brazil": "America/Sao_Paulo",
	"мексика": "America/Mexico_City", "mexico": "America/Mexico_City",
	"аргентина": "America/Argentina/Buenos_Aires", "argentina": "America/Argentina/Buenos_Aires",
	"австралия": "Australia/Sydney", "australia": "Australia/Sydney",
}

// countryKeys is sorted longest first so "russia" wins over "us"-like fragments.
var countryKeys = func() []string {
	keys := make([]string, 0, len(countryZones))
	for k := range countryZones {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// ZoneForCountry maps free-form country or city text to an IANA zone.
func ZoneForCountry(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, k := range countryKeys {
		if len([]rune(k)) <= 3 {
			if containsWord(lower, k) {
				return countryZones[k], true
			}
			continue
		}
		if strings.Contains(lower, k) {
			return countryZones[k], true
		}
	}
	return "", false
}

func containsWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if f == word {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

package history

// DefaultLanguage is the language of new settings.
const DefaultLanguage = "en-US"

// LanguageOption is a selectable synthesis language.
type LanguageOption struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var languages = []LanguageOption{
	{Code: "en-US", Name: "English (US)"},
	{Code: "en-GB", Name: "English (UK)"},
	{Code: "es-ES", Name: "Spanish"},
	{Code: "fr-FR", Name: "French"},
	{Code: "de-DE", Name: "German"},
	{Code: "it-IT", Name: "Italian"},
	{Code: "pt-BR", Name: "Portuguese (Brazil)"},
	{Code: "ru-RU", Name: "Russian"},
	{Code: "ja-JP", Name: "Japanese"},
	{Code: "ko-KR", Name: "Korean"},
	{Code: "zh-CN", Name: "Chinese (Mandarin)"},
	{Code: "hi-IN", Name: "Hindi"},
	{Code: "ar-SA", Name: "Arabic"},
	{Code: "vi-VN", Name: "Vietnamese"},
}

// Languages returns the supported languages.
func Languages() []LanguageOption {
	out := make([]LanguageOption, len(languages))
	copy(out, languages)
	return out
}

// IsSupportedLanguage reports whether code is one of Languages.
func IsSupportedLanguage(code string) bool {
	for _, l := range languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

package language

import (
	"context"
	"time"
)

const failureMessageEN = "Sorry, we could not process your question right now. Please try again."

var failureMessages = map[string]string{
	"en": failureMessageEN,
	"hi": "क्षमा करें, हम अभी आपके प्रश्न को संसाधित नहीं कर सके। कृपया फिर से प्रयास करें।",
	"ta": "மன்னிக்கவும், உங்கள் கேள்வியை இப்போது செயலாக்க முடியவில்லை. மீண்டும் முயற்சிக்கவும்.",
	"te": "క్షమించండి, మీ ప్రశ్నను ఇప్పుడు ప్రాసెస్ చేయలేకపోయాము. దయచేసి మళ్లీ ప్రయత్నించండి.",
	"kn": "ಕ್ಷಮಿಸಿ, ನಿಮ್ಮ ಪ್ರಶ್ನೆಯನ್ನು ಈಗ ಪ್ರಕ್ರಿಯೆಗೊಳಿಸಲು ಸಾಧ್ಯವಾಗಲಿಲ್ಲ. ದಯವಿಟ್ಟು ಮತ್ತೆ ಪ್ರಯತ್ನಿಸಿ.",
	"ml": "ക്ഷമിക്കണം, നിങ്ങളുടെ ചോദ്യം ഇപ്പോൾ പ്രോസസ്സ് ചെയ്യാൻ കഴിഞ്ഞില്ല. ദയവായി വീണ്ടും ശ്രമിക്കുക.",
	"mr": "क्षमस्व, आम्ही आत्ता तुमच्या प्रश्नावर प्रक्रिया करू शकलो नाही. कृपया पुन्हा प्रयत्न करा.",
	"bn": "দুঃখিত, আমরা এই মুহূর্তে আপনার প্রশ্নটি প্রক্রিয়া করতে পারিনি। অনুগ্রহ করে আবার চেষ্টা করুন।",
	"gu": "માફ કરશો, અમે હમણાં તમારા પ્રશ્ન પર પ્રક્રિયા કરી શક્યા નથી. કૃપા કરીને ફરી પ્રયાસ કરો.",
	"pa": "ਮਾਫ਼ ਕਰਨਾ, ਅਸੀਂ ਇਸ ਵੇਲੇ ਤੁਹਾਡੇ ਸਵਾਲ 'ਤੇ ਕਾਰਵਾਈ ਨਹੀਂ ਕਰ ਸਕੇ। ਕਿਰਪਾ ਕਰਕੇ ਦੁਬਾਰਾ ਕੋਸ਼ਿਸ਼ ਕਰੋ।",
	"ur": "معذرت، ہم اس وقت آپ کے سوال پر کارروائی نہیں کر سکے۔ براہ کرم دوبارہ کوشش کریں۔",
}

// FailureMessage returns the uniform "could not process" message in lang.
// Languages without a built-in message are translated when allowTranslate is
// set; anything else falls back to English.
func (b *Bridge) FailureMessage(ctx context.Context, lang string, allowTranslate bool) string {
	lang = Normalize(lang)
	if msg, ok := failureMessages[lang]; ok {
		return msg
	}
	if !allowTranslate || b.translator == nil || lang == "" || lang == b.pivot {
		return failureMessageEN
	}

	// The request context may already be exhausted; the message gets its own short budget.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	msg, err := b.translator.Translate(tctx, failureMessageEN, "en", lang)
	if err != nil || msg == "" {
		return failureMessageEN
	}
	return msg
}

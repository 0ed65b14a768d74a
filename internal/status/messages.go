package status

import (
	"fmt"
	"strings"
)

// Messages is the user-facing copy for every status the system publishes.
type Messages struct {
	ReadyTitle, ReadyBody         string
	CapturingTitle, CapturingBody string
	DoneTitle, DoneBodyFormat     string
	ErrorTitle                    string
	SystemDeniedBody              string
	CaptureFailedBody             string
	RevokedTitle, RevokedBody     string
}

// Turkish is the product's original copy.
var Turkish = Messages{
	ReadyTitle:        "Radar Aktif",
	ReadyBody:         "Analiz için dokunun",
	CapturingTitle:    "Analiz Ediliyor...",
	CapturingBody:     "Görüntü işleniyor...",
	DoneTitle:         "Analiz Tamamlandı",
	DoneBodyFormat:    "Yapaylık Skoru: %%%d",
	ErrorTitle:        "Hata",
	SystemDeniedBody:  "Sistem reddetti.",
	CaptureFailedBody: "Görüntü alınamadı.",
	RevokedTitle:      "Radar Kapalı",
	RevokedBody:       "Ekran izni geri alındı.",
}

// English mirrors Turkish.
var English = Messages{
	ReadyTitle:        "Radar Active",
	ReadyBody:         "Tap to analyze",
	CapturingTitle:    "Analyzing...",
	CapturingBody:     "Processing screen...",
	DoneTitle:         "Analysis Complete",
	DoneBodyFormat:    "AI score: %d%%",
	ErrorTitle:        "Error",
	SystemDeniedBody:  "System denied the capture.",
	CaptureFailedBody: "Capture failed: no frame produced.",
	RevokedTitle:      "Radar Off",
	RevokedBody:       "Screen capture permission withdrawn.",
}

// MessagesFor returns the copy for a locale, defaulting to Turkish.
func MessagesFor(locale string) (Messages, error) {
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "", "tr":
		return Turkish, nil
	case "en":
		return English, nil
	default:
		return Turkish, fmt.Errorf("unsupported status locale %q", locale)
	}
}

// DoneBody renders the final status body for score.
func (m Messages) DoneBody(score int) string {
	return fmt.Sprintf(m.DoneBodyFormat, score)
}

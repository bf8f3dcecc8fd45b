package notification

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/smukkama/welfare-notifier/internal/models"
)

var categoryNames = map[string]string{
	"heatwave":    "폭염",
	"cold-wave":   "한파",
	"earthquake":  "지진",
	"tsunami":     "지진해일",
	"heavy-rain":  "호우",
	"heavy-snow":  "대설",
	"strong-wind": "강풍",
	"typhoon":     "태풍",
	"flood":       "홍수",
	"landslide":   "산사태",
	"wildfire":    "산불",
	"yellow-dust": "황사",
	"fine-dust":   "미세먼지",
}

// Safety tips appended to emergency messages by category
var safetyTips = map[string]string{
	"heatwave":    "낮 시간 외출을 삼가고 물을 자주 드세요.",
	"cold-wave":   "외출 시 따뜻하게 입고 난방기 사용에 주의하세요.",
	"earthquake":  "튼튼한 탁자 아래로 몸을 피하고 흔들림이 멈추면 밖으로 대피하세요.",
	"tsunami":     "즉시 높은 곳으로 대피하세요.",
	"heavy-rain":  "하천변과 지하공간 접근을 피하세요.",
	"heavy-snow":  "빙판길 낙상에 주의하고 외출을 자제하세요.",
	"strong-wind": "간판 등 낙하물에 주의하세요.",
	"typhoon":     "창문을 고정하고 외출을 삼가세요.",
	"fine-dust":   "외출 시 마스크를 착용하세요.",
	"yellow-dust": "외출 시 마스크를 착용하세요.",
}

var funcs = template.FuncMap{
	"reading": func(v *float64, unit string) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.1f%s", *v, unit)
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("01/02 15:04")
	},
}

var emergencyTmpl = template.Must(template.New("emergency").Funcs(funcs).Parse(
	`[긴급재난알림] {{.Label}}{{if .Level}} {{.Level}}{{end}}
{{.Message}}
{{if .Tip}}{{.Tip}}
{{end}}({{clock .ObservedAt}} 발표)`))

var dailyTmpl = template.Must(template.New("daily").Funcs(funcs).Parse(
	`[오늘의 날씨] {{.Region}}
{{if .Weather}}기온 {{reading .Weather.Temperature "°C"}} 습도 {{reading .Weather.Humidity "%"}}{{if .Weather.PrecipitationType}} {{.Weather.PrecipitationType}}{{end}}
{{else}}날씨 정보를 가져오지 못했습니다.
{{end}}{{if .Air}}미세먼지 {{reading .Air.PM10 "㎍/㎥"}} 초미세먼지 {{reading .Air.PM25 "㎍/㎥"}}{{if .Air.Grade}} ({{.Air.Grade}}){{end}}
{{end}}{{if .Advice}}{{.Advice}}{{end}}`))

var levelNames = map[string]string{
	"warning":  "경보",
	"watch":    "주의보",
	"advisory": "주의",
	"urgent":   "긴급",
	"severe":   "심각",
	"alert":    "경계",
	"concern":  "관심",
}

// RenderEmergency renders the SMS text for an emergency alert
func RenderEmergency(a models.AlertRecord) (string, error) {
	label, ok := categoryNames[a.Category]
	if !ok {
		label = "재난"
	}

	data := struct {
		Label      string
		Level      string
		Message    string
		Tip        string
		ObservedAt time.Time
	}{
		Label:      label,
		Level:      levelNames[a.EmergencyLevel],
		Message:    strings.TrimSpace(a.Message),
		Tip:        safetyTips[a.Category],
		ObservedAt: a.ObservedAt,
	}

	var buf bytes.Buffer
	if err := emergencyTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render emergency message: %w", err)
	}
	return buf.String(), nil
}

// RenderDaily renders the daily weather broadcast. Either record may be nil
// when its source was unavailable.
func RenderDaily(region string, w *models.WeatherRecord, a *models.AirQualityRecord) (string, error) {
	data := struct {
		Region  string
		Weather *models.WeatherRecord
		Air     *models.AirQualityRecord
		Advice  string
	}{
		Region:  region,
		Weather: w,
		Air:     a,
		Advice:  dailyAdvice(w, a),
	}

	var buf bytes.Buffer
	if err := dailyTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render daily message: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// RenderReminder renders a custom reminder
func RenderReminder(recipientName, message string) string {
	if recipientName == "" {
		return "[알림] " + message
	}
	return fmt.Sprintf("[알림] %s님, %s", recipientName, message)
}

func dailyAdvice(w *models.WeatherRecord, a *models.AirQualityRecord) string {
	switch {
	case w != nil && w.Temperature != nil && *w.Temperature >= 33:
		return safetyTips["heatwave"]
	case w != nil && w.Temperature != nil && *w.Temperature <= -12:
		return safetyTips["cold-wave"]
	case a != nil && (a.Grade == "나쁨" || a.Grade == "매우나쁨"):
		return safetyTips["fine-dust"]
	case w != nil && w.PrecipitationType != "":
		return "우산을 챙기세요."
	}
	return ""
}

package domain

import "time"

// WeatherSnapshot — снимок текущей погоды в точке правила.
//
// Единицы измерения: температура °C, скорость ветра м/с, осадки мм/ч,
// видимость км, влажность и облачность %.
type WeatherSnapshot struct {
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	Precipitation float64 `json:"precipitation"`
	Visibility    float64 `json:"visibility"`
	CloudCover    float64 `json:"cloud_cover"`

	// Description — текстовое описание провайдера ("light rain").
	Description string `json:"description,omitempty"`

	// Icon — код иконки провайдера.
	Icon string `json:"icon,omitempty"`

	// ConditionID — числовой код погодного условия провайдера.
	ConditionID int `json:"condition_id,omitempty"`

	// ObservedAt — время наблюдения.
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// Value возвращает числовое значение параметра.
// Для неизвестного параметра ok == false: условие по нему
// считается невыполненным.
func (w *WeatherSnapshot) Value(p WeatherParameter) (float64, bool) {
	switch p {
	case ParamTemperature:
		return w.Temperature, true
	case ParamHumidity:
		return w.Humidity, true
	case ParamWindSpeed:
		return w.WindSpeed, true
	case ParamPrecipitation:
		return w.Precipitation, true
	case ParamVisibility:
		return w.Visibility, true
	case ParamCloudCover:
		return w.CloudCover, true
	default:
		return 0, false
	}
}

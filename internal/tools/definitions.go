// SPDX-License-Identifier: Apache-2.0

package tools

const (
	SlugCalculator = "calculator"
	SlugWeather    = "current-weather"
)

// Definition is what gets registered with the prompt service for a tool.
type Definition struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Returns     map[string]any `json:"returns"`
}

func Definitions() []Definition {
	return []Definition{
		{
			Name:        "Calculator method",
			Slug:        SlugCalculator,
			Description: "A simple calculator that can add, subtract, multiply, and divide.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"op": map[string]any{"type": "string", "enum": opNames()},
					"a":  map[string]any{"type": "number"},
					"b":  map[string]any{"type": "number"},
				},
				"required": []string{"op", "a", "b"},
			},
			Returns: map[string]any{"type": "number"},
		},
		{
			Name: "Current Weather",
			Slug: SlugWeather,
			Description: "Retrieve current weather data for a specified city. Provides temperature, feels like, " +
				"humidity, wind speed, and weather description. Requires both city name and country code " +
				"(ISO 3166, e.g., 'us', 'gb', 'fr').",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{
						"type":        "string",
						"description": "The name of the city to get weather data for",
					},
					"country_code": map[string]any{
						"type":        "string",
						"description": "Two-letter country code (ISO 3166)",
					},
					"units": map[string]any{
						"type":        "string",
						"enum":        weatherUnits,
						"default":     DefaultUnits,
						"description": "Units of measurement. standard: Kelvin, metric: Celsius, imperial: Fahrenheit",
					},
					"lang": map[string]any{
						"type":        "string",
						"default":     DefaultLang,
						"description": "Language for weather descriptions (e.g., en, fr, es)",
					},
				},
				"required": []string{"city", "country_code"},
			},
			Returns: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"temperature":  map[string]any{"type": "number", "description": "Current temperature"},
					"feels_like":   map[string]any{"type": "number", "description": "Feels like temperature"},
					"description":  map[string]any{"type": "string", "description": "Weather condition description"},
					"humidity":     map[string]any{"type": "integer", "description": "Humidity percentage"},
					"wind_speed":   map[string]any{"type": "number", "description": "Wind speed"},
					"country":      map[string]any{"type": "string", "description": "Country code"},
					"city_name":    map[string]any{"type": "string", "description": "City name"},
					"weather_main": map[string]any{"type": "string", "description": "Main weather category"},
					"pressure":     map[string]any{"type": "integer", "description": "Atmospheric pressure in hPa"},
					"units":        map[string]any{"type": "string", "description": "Units used for measurements"},
				},
				"required": []string{
					"temperature", "feels_like", "description", "humidity", "wind_speed",
					"country", "city_name", "weather_main", "pressure", "units",
				},
			},
		},
	}
}

func opNames() []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}

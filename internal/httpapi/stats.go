package httpapi

import (
	"math"

	"github.com/rickgao/skysense/internal/model"
)

// DashboardStats summarises a window of readings the way the dashboard
// shows them: one decimal, zeros when the window is empty.
type DashboardStats struct {
	AvgTemperature float64      `json:"avg_temperature"`
	MinTemperature float64      `json:"min_temperature"`
	MaxTemperature float64      `json:"max_temperature"`
	AvgHumidity    float64      `json:"avg_humidity"`
	AvgPressure    float64      `json:"avg_pressure"`
	TotalReadings  int          `json:"total_readings"`
	ActiveSensors  int          `json:"active_sensors"`
	DataSource     model.Source `json:"data_source"`
}

// ComputeStats summarises readings. source names where the window came from.
func ComputeStats(readings []model.SensorReading, source model.Source) DashboardStats {
	stats := DashboardStats{DataSource: source}
	if len(readings) == 0 {
		return stats
	}

	var sumT, sumH, sumP float64
	minT, maxT := math.Inf(1), math.Inf(-1)
	sensors := make(map[string]struct{})
	for _, r := range readings {
		sumT += r.Temperature
		sumH += r.Humidity
		sumP += r.Pressure
		minT = math.Min(minT, r.Temperature)
		maxT = math.Max(maxT, r.Temperature)
		sensors[r.SensorID] = struct{}{}
	}

	n := float64(len(readings))
	stats.AvgTemperature = round1(sumT / n)
	stats.AvgHumidity = round1(sumH / n)
	stats.AvgPressure = round1(sumP / n)
	stats.MinTemperature = round1(minT)
	stats.MaxTemperature = round1(maxT)
	stats.TotalReadings = len(readings)
	stats.ActiveSensors = len(sensors)
	return stats
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

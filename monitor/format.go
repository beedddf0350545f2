package monitor

import "strconv"

func formatMs(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64) + "ms"
}

func formatPercent(value float64) string {
	return strconv.FormatFloat(value*100, 'f', 1, 64) + "%"
}

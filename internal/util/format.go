package util

import (
	"fmt"
	"strings"
)

// FormatMoney renders an amount in whole riyals with thousands separators.
// Example: 1000000 -> "1,000,000 SAR".
func FormatMoney(amount int64) string {
	formatted := fmt.Sprintf("%d", amount)

	length := len(formatted)
	if length <= 3 {
		return formatted + " SAR"
	}

	var result strings.Builder
	for i, char := range formatted {
		result.WriteRune(char)
		if (length-i-1)%3 == 0 && i < length-1 {
			result.WriteRune(',')
		}
	}

	result.WriteString(" SAR")

	return result.String()
}

func Int64Pointer(i int64) *int64 {
	return &i
}

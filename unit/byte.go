package unit

import "fmt"

const (
	// https://en.wikipedia.org/wiki/Kilobyte
	Byte     = 1
	Kilobyte = 1000 * Byte
	Megabyte = 1000 * Kilobyte
	Gigabyte = 1000 * Megabyte
	Kibibyte = 1024 * Byte
	Mebibyte = 1024 * Kibibyte
	Gibibyte = 1024 * Mebibyte
)

// FormatBytes renders n as a human-readable decimal size for progress logs.
func FormatBytes(n int64) string {
	switch {
	case n >= Gigabyte:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(Gigabyte))
	case n >= Megabyte:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(Megabyte))
	case n >= Kilobyte:
		return fmt.Sprintf("%.2f kB", float64(n)/float64(Kilobyte))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

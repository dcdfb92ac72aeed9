package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateOrderNumber returns the human facing order number, also sent to
// the gateways as the receipt.
func GenerateOrderNumber(now time.Time) string {
	now = now.UTC()

	datePart := now.Format("20060102-150405")
	millis := now.Nanosecond() / int(time.Millisecond)

	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 10000)
	}

	return fmt.Sprintf("SB-%s-%03d-%04d", datePart, millis, n.Int64())
}

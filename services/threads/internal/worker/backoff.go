package worker

import "time"

// backoffDelay doubles from one second per delivery, capped at a minute.
func backoffDelay(numDelivered uint64) time.Duration {
	attempt := int(min(numDelivered, 7))
	if attempt < 1 {
		attempt = 1
	}
	sec := min(1<<(attempt-1), 60)
	return time.Duration(sec) * time.Second
}

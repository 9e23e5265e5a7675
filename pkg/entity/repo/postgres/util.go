package postgres

import "time"

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// nonEmpty drops cleared values; absent and empty properties are the same.
func nonEmpty(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

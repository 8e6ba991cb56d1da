// This file contains helper functions used throughout this module to ensure
// that certain commonly-logged values always have the same key name and
// value type, rather than sometimes logging a threat list as "list" and
// sometimes as "threat_list", or an update result as an int and sometimes
// as a string.
//
// Any time we find ourselves logging the same slog.Attr from 3+ files we
// should consider adding a helper here instead.
//
// Note that several other attr keys are reserved and should not be used:
//   - "time": used by the slog package
//   - "level": used by the slog package
//   - "msg": used by the slog package
//   - "source": used by the slog package
//   - "error": used by our blog.Error and blog.AuditError helpers
//   - "audit": used by our blog.AuditError and blog.AuditInfo helpers

package blog

import "log/slog"

// ThreatList returns a slog.Attr whose key is "threat_list" and whose value
// is a list identity's string form, e.g. "MALWARE/WINDOWS/URL".
func ThreatList(id string) slog.Attr {
	return slog.String("threat_list", id)
}

// UpdateResult returns a slog.Attr whose key is "update_result" and whose
// value is one of the Update Engine's result codes (NO_UPDATE, SUCCESSFUL,
// SERVER_ERROR, ...).
func UpdateResult(result string) slog.Attr {
	return slog.String("update_result", result)
}

// Attempt returns a slog.Attr whose key is "attempt" and whose value is the
// 1-indexed consecutive-failure count driving a backoff decision.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

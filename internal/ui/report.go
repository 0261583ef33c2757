package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/willfong/adaptive-auth/internal/audit"
	"github.com/willfong/adaptive-auth/internal/auth"
	"github.com/willfong/adaptive-auth/internal/risk"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// AssessmentReport renders a risk verdict: a summary box, the score meter and
// one row per signal.
func (u *UI) AssessmentReport(title string, a *risk.Assessment) string {
	if a == nil {
		return ""
	}

	items := []KV{
		{Key: "Risk score", Value: fmt.Sprintf("%d", a.Score)},
		{Key: "Threshold", Value: fmt.Sprintf("%d", a.Threshold)},
		{Key: "Risk level", Value: string(a.Level)},
	}
	if a.Action != "" {
		items = append(items, KV{Key: "Action", Value: a.Action})
	} else if a.RequireChallenge {
		items = append(items, KV{Key: "Action", Value: risk.ActionRequireMFA})
	}
	if a.Username != "" {
		items = append(items, KV{Key: "User", Value: a.Username})
	}
	if a.DeviceFingerprint != "" {
		items = append(items, KV{Key: "Device", Value: a.DeviceFingerprint})
	}
	if a.IPAddress != "" {
		items = append(items, KV{Key: "IP address", Value: a.IPAddress})
	}
	if a.Location != nil {
		items = append(items, KV{Key: "Location", Value: fmt.Sprintf("%.4f, %.4f", a.Location.Lat, a.Location.Lon)})
	}

	var sb strings.Builder
	sb.WriteString(u.SummaryBox(title, items))
	sb.WriteString("\n\n  ")
	sb.WriteString(u.RiskMeter(a.Score, a.Threshold))
	sb.WriteString("\n")

	if len(a.Signals) > 0 {
		sb.WriteString("\n")
		sb.WriteString(u.Bold("  Signals"))
		sb.WriteString("\n")
		for _, name := range a.SignalNames() {
			sig := a.Signals[name]
			if sig.Flagged {
				sb.WriteString(u.TableRow(name, fmt.Sprintf("+%d", sig.Points), StatusError))
			} else {
				sb.WriteString(u.TableRow(name, "clear", StatusSuccess))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Dashboard renders the authenticated session.
func (u *UI) Dashboard(snap auth.Snapshot) string {
	items := []KV{
		{Key: "Status", Value: "Login success"},
		{Key: "User", Value: snap.Identity},
	}
	if snap.Token != nil {
		if snap.Token.Subject != "" {
			items = append(items, KV{Key: "Token subject", Value: snap.Token.Subject})
		}
		if !snap.Token.IssuedAt.IsZero() {
			items = append(items, KV{Key: "Issued", Value: snap.Token.IssuedAt.Local().Format(timeLayout)})
		}
		if !snap.Token.ExpiresAt.IsZero() {
			items = append(items, KV{Key: "Expires", Value: snap.Token.ExpiresAt.Local().Format(timeLayout)})
		}
	} else if snap.AccessToken != "" {
		items = append(items, KV{Key: "Token", Value: "opaque"})
	}
	items = append(items, KV{Key: "Session", Value: fmt.Sprintf("generation %d", snap.Generation)})

	out := u.SummaryBox("Dashboard", items)
	if snap.LastAssessment != nil {
		out += "\n" + u.AssessmentReport("Login risk", snap.LastAssessment)
	}
	return out
}

// Code renders a one-time passcode for the demo display.
func (u *UI) Code(code string) string {
	if !u.shouldStyle() {
		return "Demo OTP: " + code
	}
	return u.Muted("Demo OTP") + "\n" + StyleCode.Render(code)
}

// MetricsSummary renders per-operation counts and latencies followed by the
// state transitions seen this run.
func (u *UI) MetricsSummary(s auth.Summary) string {
	if len(s.Operations) == 0 && len(s.Transitions) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(u.Header("Session metrics"))
	sb.WriteString("\n")
	for _, op := range s.Operations {
		status := StatusSuccess
		if op.Errors > 0 {
			status = StatusError
		}
		value := fmt.Sprintf("%d calls, %d errors, p50 %s, p95 %s",
			op.Count, op.Errors, op.P50.Round(time.Millisecond), op.P95.Round(time.Millisecond))
		sb.WriteString(u.TableRow(string(op.Op), value, status))
		sb.WriteString("\n")
	}

	keys := make([]string, 0, len(s.Transitions))
	for k := range s.Transitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(u.Muted(fmt.Sprintf("  %s x%d", k, s.Transitions[k])))
		sb.WriteString("\n")
	}
	return sb.String()
}

// AuditTable renders stored audit events, newest first as given.
func (u *UI) AuditTable(events []audit.Event) string {
	if len(events) == 0 {
		return u.Muted("No audit events recorded.")
	}

	var sb strings.Builder
	for _, e := range events {
		status := StatusSuccess
		switch e.Outcome {
		case audit.OutcomeFailure:
			status = StatusError
		case audit.OutcomeDiscarded:
			status = StatusPending
		}

		parts := []string{e.Time.Local().Format(timeLayout)}
		if e.Username != "" {
			parts = append(parts, e.Username)
		}
		parts = append(parts, e.FromState+" -> "+e.ToState)
		if e.RiskScore != nil {
			parts = append(parts, fmt.Sprintf("score %d %s", *e.RiskScore, e.RiskLevel))
		}
		if e.ErrorKind != "" {
			parts = append(parts, e.ErrorKind)
		}
		if e.Message != "" {
			parts = append(parts, e.Message)
		}
		sb.WriteString(u.TableRow(e.Operation, strings.Join(parts, " | "), status))
		sb.WriteString("\n")
	}
	return sb.String()
}

package provider

import (
	"strings"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
)

// StatusTable maps lower-cased vendor status strings onto canonical statuses per kind.
type StatusTable struct {
	Call map[string]domain.Status
	SMS  map[string]domain.Status
}

var _ StatusTranslator = StatusTable{}

// TranslateStatus never fails: unrecognised strings become UNKNOWN.
func (t StatusTable) TranslateStatus(kind domain.RecordKind, vendorStatus string) domain.Status {
	var table map[string]domain.Status
	switch kind {
	case domain.KindCall:
		table = t.Call
	case domain.KindSMS:
		table = t.SMS
	}

	if status, ok := table[strings.ToLower(strings.TrimSpace(vendorStatus))]; ok {
		return status
	}
	return domain.StatusUnknown
}

// CanonicalStatusTable accepts the canonical names themselves, in lower case and with
// either '_' or '-' separators. Used for adapters that speak the canonical vocabulary.
func CanonicalStatusTable() StatusTable {
	build := func(kind domain.RecordKind) map[string]domain.Status {
		statuses := domain.LifecycleFor(kind).Statuses()
		table := make(map[string]domain.Status, len(statuses)*2)
		for _, s := range statuses {
			name := strings.ToLower(s.String())
			table[name] = s
			table[strings.ReplaceAll(name, "_", "-")] = s
		}
		return table
	}

	return StatusTable{
		Call: build(domain.KindCall),
		SMS:  build(domain.KindSMS),
	}
}

package models

import "testing"

func TestUsagePercentage(t *testing.T) {
	tests := []struct {
		name    string
		current int
		limit   int
		want    float64
	}{
		{"zero limit is unlimited", 500, 0, 0},
		{"zero usage", 0, 100, 0},
		{"half", 50, 100, 50},
		{"at limit", 100, 100, 100},
		{"capped above limit", 150, 100, 100},
		{"fractional", 1, 3, 100.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UsagePercentage(tt.current, tt.limit); got != tt.want {
				t.Errorf("UsagePercentage(%d, %d) = %v, want %v", tt.current, tt.limit, got, tt.want)
			}
		})
	}
}

func TestUpdateLimitsRequestValidate(t *testing.T) {
	neg := -1
	ok := 100

	if err := (&UpdateLimitsRequest{RpmLimit: &ok}).Validate(); err != nil {
		t.Errorf("non-negative limit rejected: %v", err)
	}
	if err := (&UpdateLimitsRequest{}).Validate(); err != nil {
		t.Errorf("empty update rejected: %v", err)
	}

	for name, req := range map[string]*UpdateLimitsRequest{
		"rpm_limit":             {RpmLimit: &neg},
		"tpm_limit":             {TpmLimit: &neg},
		"rpm_warning_threshold": {RpmWarningThreshold: &neg},
		"tpm_warning_threshold": {TpmWarningThreshold: &neg},
	} {
		err := req.Validate()
		if err == nil {
			t.Errorf("%s: negative value accepted", name)
			continue
		}
		appErr := AsAppError(err)
		if appErr.Type != ErrorTypeValidation {
			t.Errorf("%s: expected validation error, got %s", name, appErr.Type)
		}
	}
}

func TestUpdateLimitsRequestUpdates(t *testing.T) {
	rpm := 10
	warn := 80
	req := &UpdateLimitsRequest{RpmLimit: &rpm, TpmWarningThreshold: &warn}

	updates := req.Updates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(updates))
	}
	if updates["rpm_limit"] != 10 || updates["tpm_warning_threshold"] != 80 {
		t.Errorf("unexpected column map %v", updates)
	}
	if req.Empty() {
		t.Errorf("non-empty request reported empty")
	}
	if !(&UpdateLimitsRequest{}).Empty() {
		t.Errorf("empty request not reported empty")
	}
}

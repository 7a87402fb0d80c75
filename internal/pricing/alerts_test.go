package pricing

import (
	"testing"

	"p2p-pricer/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		rule       models.PricingRule
		wantLevel  string
		wantReason string
	}{
		{
			name:      "healthy rule",
			rule:      models.PricingRule{ID: 1, IsActive: true},
			wantLevel: AlertLevelOK,
		},
		{
			name: "auto paused",
			rule: models.PricingRule{
				ID:                       1,
				IsActive:                 false,
				AutoPauseAfterDeviations: 3,
				ConsecutiveDeviations:    3,
			},
			wantLevel:  AlertLevelAlert,
			wantReason: "auto_paused",
		},
		{
			name: "manually deactivated rule is not an alert",
			rule: models.PricingRule{
				ID:                       1,
				IsActive:                 false,
				AutoPauseAfterDeviations: 3,
				ConsecutiveDeviations:    0,
			},
			wantLevel: AlertLevelOK,
		},
		{
			name: "merchant not found",
			rule: models.PricingRule{
				ID:            1,
				IsActive:      true,
				LastErrorKind: string(ErrKindMerchantNotFound),
			},
			wantLevel:  AlertLevelAlert,
			wantReason: "merchant_not_found",
		},
		{
			name: "venue break",
			rule: models.PricingRule{
				ID:            1,
				IsActive:      true,
				LastErrorKind: string(ErrKindVenueBreak),
			},
			wantLevel:  AlertLevelAlert,
			wantReason: "venue_break",
		},
		{
			name: "transient errors below threshold stay quiet",
			rule: models.PricingRule{
				ID:                1,
				IsActive:          true,
				LastErrorKind:     string(ErrKindTransient),
				ConsecutiveErrors: 3,
			},
			wantLevel: AlertLevelOK,
		},
		{
			name: "transient errors above threshold",
			rule: models.PricingRule{
				ID:                1,
				IsActive:          true,
				LastErrorKind:     string(ErrKindTransient),
				ConsecutiveErrors: 4,
			},
			wantLevel:  AlertLevelAlert,
			wantReason: "consecutive_errors",
		},
		{
			name: "accumulating deviations warn before pause",
			rule: models.PricingRule{
				ID:                       1,
				IsActive:                 true,
				AutoPauseAfterDeviations: 5,
				ConsecutiveDeviations:    3,
			},
			wantLevel:  AlertLevelWarning,
			wantReason: "consecutive_deviations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&tt.rule)
			if got.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", got.Level, tt.wantLevel)
			}
			wantAlerting := tt.wantLevel != AlertLevelOK
			if got.Alerting != wantAlerting {
				t.Errorf("Alerting = %v, want %v", got.Alerting, wantAlerting)
			}
			if tt.wantReason != "" {
				found := false
				for _, reason := range got.Reasons {
					if reason == tt.wantReason {
						found = true
					}
				}
				if !found {
					t.Errorf("Reasons = %v, want to contain %q", got.Reasons, tt.wantReason)
				}
			}
		})
	}
}

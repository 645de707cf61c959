package core_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
)

func TestRenderNotification(t *testing.T) {
	payload := core.NotificationPayload{
		StudentName:  "Ali Hassan",
		StudentCode:  "1001",
		Group:        "Nasr City / 3 Sec / Sat 4pm",
		Absences:     2,
		HomeworkLine: "Homework: not done.",
		Date:         "2024-03-02",
	}

	tests := []struct {
		key          core.TemplateKey
		warning      string
		wantContains []string
		wantMissing  []string
	}{
		{
			key:          core.TemplateAttendancePresent,
			wantContains: []string{"Ali Hassan (1001) attended the session of", "Nasr City / 3 Sec / Sat 4pm on 2024-03-02", "Homework: not done.", "Absences so far: 2"},
			wantMissing:  []string{"Warning", "today"},
		},
		{
			key:          core.TemplateAttendanceLate,
			warning:      "Warning: Ali Hassan has 2 absences.",
			wantContains: []string{"arrived late", "2024-03-02", "Warning: Ali Hassan has 2 absences."},
		},
		{
			key:          core.TemplateAttendanceAbsent,
			wantContains: []string{"was absent", "Absences so far: 2"},
			wantMissing:  []string{"Homework"},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			p := payload
			p.WarningMessage = tt.warning
			msg, err := core.RenderNotification(tt.key, p)
			require.NoError(t, err)
			for _, s := range tt.wantContains {
				assert.Contains(t, msg, s)
			}
			for _, s := range tt.wantMissing {
				assert.NotContains(t, msg, s)
			}
		})
	}

	_, err := core.RenderNotification("payment_due", payload)
	if errors.Cause(err) != core.ErrUnknownTemplate {
		t.Errorf("RenderNotification() error = %v; wantErr %v", err, core.ErrUnknownTemplate)
	}
}

package core_test

import (
	"testing"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/tests"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(conf *core.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*core.Config) {}},
		{name: "no secret key", mutate: func(conf *core.Config) { conf.SecretKey = "" }, wantErr: true},
		{name: "bad timezone", mutate: func(conf *core.Config) { conf.Attendance.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "zero absence limit", mutate: func(conf *core.Config) { conf.Attendance.AbsenceLimit = 0 }, wantErr: true},
		{name: "unknown channel", mutate: func(conf *core.Config) { conf.Notification.Channel = "pigeon" }, wantErr: true},
		{name: "whatsapp", mutate: func(conf *core.Config) { conf.Notification.Channel = "whatsapp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := testutil.NewConfig()
			tt.mutate(conf)
			if err := conf.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}

	if loc := testutil.NewConfig().Location(); loc.String() != "Africa/Cairo" {
		t.Errorf("Location() = %v; want Africa/Cairo", loc)
	}
}

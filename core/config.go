package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // fixed center time zones must resolve on slim images

	"github.com/joho/godotenv"
	"github.com/kat-co/vala"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env       string
		Build     string
		AppName   string
		Debug     bool
		TestMode  bool
		SecretKey string

		RollbarToken     string
		SendgridApiKey   string
		ReportEmail      string
		defaultFromEmail string

		Server       ServerConfig
		Database     DatabaseConfig
		Notification NotificationConfig
		Attendance   AttendanceConfig
		Nats         NatsConfig
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | inmem
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	NotificationConfig struct {
		Channel      string // console | whatsapp
		GatewayURL   string
		GatewayToken string
		CountryCode  string
		DedupWindow  time.Duration
		DedupRatio   float64
	}

	AttendanceConfig struct {
		Timezone     string
		AbsenceLimit int
	}

	NatsConfig struct {
		URL           string
		SubjectPrefix string
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

func (conf *Config) DefaultFromEmail() mail.Address {
	if addr, err := mail.ParseAddress(conf.defaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
}

// Location returns the fixed time zone every attendance date is computed in.
func (conf *Config) Location() *time.Location {
	loc, err := time.LoadLocation(conf.Attendance.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the settings the app cannot start without.
func (conf *Config) Validate() error {
	tzCheck := func() (bool, string) {
		_, err := time.LoadLocation(conf.Attendance.Timezone)
		return err == nil, fmt.Sprintf("attendance timezone %q is invalid", conf.Attendance.Timezone)
	}
	absLimitCheck := func() (bool, string) {
		return conf.Attendance.AbsenceLimit > 0, "attendance absence limit must be positive"
	}
	channelCheck := func() (bool, string) {
		switch conf.Notification.Channel {
		case "console", "whatsapp":
			return true, ""
		}
		return false, fmt.Sprintf("notification channel %q is not supported", conf.Notification.Channel)
	}

	return vala.BeginValidation().Validate(
		vala.StringNotEmpty(conf.SecretKey, "secretKey"),
		vala.StringNotEmpty(conf.Database.Engine, "database engine"),
		vala.StringNotEmpty(conf.Notification.CountryCode, "notification country code"),
		tzCheck,
		absLimitCheck,
		channelCheck,
	).Check()
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Darasa")
	v.SetDefault("secretKey", "h6x$2m+uv!0d_e8#wq=ikz^t3b(a7r)lj9c*o4n%sy1fgp5")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("reportEmail", "")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 30*24*time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "darasa")
	v.SetDefault("dbUser", "darasa")
	v.SetDefault("dbPassword", "darasa")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "postgres")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("notificationChannel", "console")
	v.SetDefault("notificationGatewayURL", "")
	v.SetDefault("notificationGatewayToken", "")
	v.SetDefault("notificationCountryCode", "20")
	v.SetDefault("notificationDedupWindow", 10*time.Minute)
	v.SetDefault("notificationDedupRatio", 0.9)

	v.SetDefault("attendanceTimezone", "Africa/Cairo")
	v.SetDefault("attendanceAbsenceLimit", 3)

	v.SetDefault("natsURL", "")
	v.SetDefault("natsSubjectPrefix", "darasa")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("dbEngine", "inmem")
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		ReportEmail:      v.GetString("reportEmail"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:               v.GetString("serverHost"),
			Address:            v.GetString("serverAddress"),
			DebugHost:          v.GetString("serverDebugHost"),
			ShutdownTimeout:    v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Notification: NotificationConfig{
			Channel:      v.GetString("notificationChannel"),
			GatewayURL:   v.GetString("notificationGatewayURL"),
			GatewayToken: v.GetString("notificationGatewayToken"),
			CountryCode:  v.GetString("notificationCountryCode"),
			DedupWindow:  v.GetDuration("notificationDedupWindow"),
			DedupRatio:   v.GetFloat64("notificationDedupRatio"),
		},
		Attendance: AttendanceConfig{
			Timezone:     v.GetString("attendanceTimezone"),
			AbsenceLimit: v.GetInt("attendanceAbsenceLimit"),
		},
		Nats: NatsConfig{
			URL:           v.GetString("natsURL"),
			SubjectPrefix: v.GetString("natsSubjectPrefix"),
		},
	}
}

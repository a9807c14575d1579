package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var Conf *Config

type Config struct {
	Debug    bool
	TestMode bool
	Env      string // DEV (default), TEST, QA, PROD
	AppName  string
	Build    string
	WorkDir  string

	SecretKey        string
	FrontendBaseURL  string
	DefaultFromEmail mail.Address
	SendgridAPIKey   string
	RollbarToken     string

	Server struct {
		Host                      string
		Addr                      string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Store struct {
		// Backend is one of "firestore", "postgres" or "inmem".
		Backend string
		Timeout time.Duration

		FirestoreProject     string
		FirestoreCredentials string

		Database struct {
			Engine        string
			Name          string
			Host          string
			Port          string
			User          string
			Password      string
			AdminUser     string
			AdminPassword string
			DisableTLS    bool
		}
	}
}

func (c *Config) DatabaseAddress() string {
	return c.Store.Database.Host + ":" + c.Store.Database.Port
}

func init() {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "LabTrack")
	v.SetDefault("secretKey", "y0u-w1ll-n3v3r-gu3ss-th1s-l4b-k3y-!(&#s8d0")
	v.SetDefault("frontendBaseUrl", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("storeBackend", "firestore")
	v.SetDefault("storeTimeout", 10*time.Second)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbName", "labtrack")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")

	env := os.Getenv("ENV")
	testMode := false
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
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

	Conf = &Config{
		Debug:           v.GetBool("debug"),
		TestMode:        testMode,
		Env:             env,
		AppName:         v.GetString("appName"),
		Build:           v.GetString("build"),
		WorkDir:         Getwd(),
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: v.GetString("frontendBaseUrl"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("appName"),
			Address: v.GetString("defaultFromEmail"),
		},
		SendgridAPIKey: v.GetString("sendgridApiKey"),
		RollbarToken:   v.GetString("rollbarToken"),
	}
	Conf.Server.Host = v.GetString("serverHost")
	Conf.Server.Addr = v.GetString("serverAddr")
	Conf.Server.JWTExpirationDelta = v.GetDuration("jwtExpirationDelta")
	Conf.Server.JWTRefreshExpirationDelta = v.GetDuration("jwtRefreshExpirationDelta")
	Conf.Store.Backend = v.GetString("storeBackend")
	Conf.Store.Timeout = v.GetDuration("storeTimeout")
	Conf.Store.FirestoreProject = v.GetString("firestoreProject")
	Conf.Store.FirestoreCredentials = v.GetString("firestoreCredentials")
	Conf.Store.Database.Engine = v.GetString("dbEngine")
	Conf.Store.Database.Name = v.GetString("dbName")
	Conf.Store.Database.Host = v.GetString("dbHost")
	Conf.Store.Database.Port = v.GetString("dbPort")
	Conf.Store.Database.User = v.GetString("dbUser")
	Conf.Store.Database.Password = v.GetString("dbPassword")
	Conf.Store.Database.AdminUser = v.GetString("dbAdminUser")
	Conf.Store.Database.AdminPassword = v.GetString("dbAdminPassword")
	Conf.Store.Database.DisableTLS = v.GetBool("dbDisableTls")

	if testMode {
		Conf.Store.Backend = "inmem"
	}
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hackfest/leaderboard/internal/events"
	"github.com/hackfest/leaderboard/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve live leaderboards over websocket",
	Long: `Serve computes per-competition leaderboards from the record store
and pushes updates to websocket viewers whenever a relevant domain event
arrives on the event stream. Set parameters with environment variables,
for example:

export LEADERBOARD_STORE_URL=https://api.example.io
export LEADERBOARD_STORE_TOKEN=somesecret
export LEADERBOARD_STORE_PROJECT=2a1f0372
export LEADERBOARD_EVENTS_URL=https://api.example.io
export LEADERBOARD_PORT=9000
export LEADERBOARD_LOG_LEVEL=warn
export LEADERBOARD_LOG_FORMAT=json
export LEADERBOARD_LOG_FILE=/var/log/leaderboard/leaderboard.log
export LEADERBOARD_CACHE_TTL=5s
export LEADERBOARD_RETRY_EVERY=5s
export LEADERBOARD_PROFILE=true
leaderboard serve

Notes:
LEADERBOARD_EVENTS_URL defaults to LEADERBOARD_STORE_URL
LEADERBOARD_CACHE_TTL and LEADERBOARD_RETRY_EVERY are tuning parameters that
can safely be left at the default values
`,
	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("LEADERBOARD")
		viper.AutomaticEnv()

		viper.SetDefault("cache_ttl", "5s")
		viper.SetDefault("events_url", "") //defaults to store_url
		viper.SetDefault("log_file", "stdout")
		viper.SetDefault("log_format", "json")
		viper.SetDefault("log_level", "warn")
		viper.SetDefault("port", 9000)
		viper.SetDefault("profile", false)
		viper.SetDefault("retry_every", "5s")
		viper.SetDefault("store_project", "") //so we can check it's been provided
		viper.SetDefault("store_token", "")   //so we can check it's been provided
		viper.SetDefault("store_url", "")     //so we can check it's been provided

		cacheTTLStr := viper.GetString("cache_ttl")
		eventsURL := viper.GetString("events_url")
		logFile := viper.GetString("log_file")
		logFormat := viper.GetString("log_format")
		logLevel := viper.GetString("log_level")
		port := viper.GetInt("port")
		profile := viper.GetBool("profile")
		retryEveryStr := viper.GetString("retry_every")
		storeProject := viper.GetString("store_project")
		storeToken := viper.GetString("store_token")
		storeURL := viper.GetString("store_url")

		// Sanity checks
		ok := true

		if storeURL == "" {
			fmt.Println("You must set LEADERBOARD_STORE_URL")
			ok = false
		}

		if storeToken == "" {
			fmt.Println("You must set LEADERBOARD_STORE_TOKEN")
			ok = false
		}

		if storeProject == "" {
			fmt.Println("You must set LEADERBOARD_STORE_PROJECT")
			ok = false
		}

		if !ok {
			os.Exit(1)
		}

		// parse durations

		cacheTTL, err := time.ParseDuration(cacheTTLStr)

		if err != nil {
			fmt.Print("cannot parse duration in LEADERBOARD_CACHE_TTL=" + cacheTTLStr)
			os.Exit(1)
		}

		retryEvery, err := time.ParseDuration(retryEveryStr)

		if err != nil {
			fmt.Print("cannot parse duration in LEADERBOARD_RETRY_EVERY=" + retryEveryStr)
			os.Exit(1)
		}

		// set up logging
		switch strings.ToLower(logLevel) {
		case "trace":
			log.SetLevel(log.TraceLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "fatal":
			log.SetLevel(log.FatalLevel)
		case "panic":
			log.SetLevel(log.PanicLevel)
		default:
			fmt.Println("LEADERBOARD_LOG_LEVEL can be trace, debug, info, warn, error, fatal or panic but not " + logLevel)
			os.Exit(1)
		}

		switch strings.ToLower(logFormat) {
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		case "text":
			log.SetFormatter(&log.TextFormatter{})
		default:
			fmt.Println("LEADERBOARD_LOG_FORMAT can be json or text but not " + logFormat)
			os.Exit(1)
		}

		if strings.ToLower(logFile) == "stdout" {

			log.SetOutput(os.Stdout)

		} else {

			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err == nil {
				log.SetOutput(file)
			} else {
				log.Infof("Failed to log to %s, logging to default stderr", logFile)
			}
		}

		// Report useful info
		log.Infof("leaderboard version: %s", versionString())
		log.Infof("Cache TTL: [%s]", cacheTTL)
		log.Infof("Events URL: [%s]", eventsURL)
		log.Infof("Log file: [%s]", logFile)
		log.Infof("Log format: [%s]", logFormat)
		log.Infof("Log level: [%s]", logLevel)
		log.Infof("Port: [%d]", port)
		log.Infof("Profiling is on: [%t]", profile)
		log.Infof("Retry every: [%s]", retryEvery)
		log.Infof("Store project: [%s]", storeProject)
		log.Infof("Store URL: [%s]", storeURL)
		if len(storeToken) >= 8 {
			log.Debugf("Store token: [%s...%s]", storeToken[:4], storeToken[len(storeToken)-4:])
		}

		var wg sync.WaitGroup

		closed := make(chan struct{})

		c := make(chan os.Signal, 1)

		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		go func() {
			for range c {
				close(closed)
				wg.Wait()
				os.Exit(0)
			}
		}()

		config := service.Config{
			Port:         port,
			StoreURL:     storeURL,
			StoreToken:   storeToken,
			StoreProject: storeProject,
			EventsURL:    eventsURL,
			CacheTTL:     cacheTTL,
			Retry: events.RetryConfig{
				Factor: 1,
				Min:    retryEvery,
				Max:    retryEvery,
			},
			Profile: profile,
		}

		wg.Add(1)

		go service.Run(closed, &wg, config)

		wg.Wait()

	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
